package chat

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	StateConnecting State = iota // before a username is negotiated
	StateActive                  // authenticated, has a current room
	StateClosing                 // terminal
)

const (
	maxLoginAttempts = 5
	outboundBuffer   = 32
)

const helpText = `-----------------------------------------
    Usage: /<command> [params] OR @<username> [message]
    Commands:
        /who                    List users in the current room.
        /list                   List the available chatrooms.
        /create <room> [pw]     Create a chatroom, optionally password protected.
        /join <room> [pw]       Join an existing chatroom.
        /exit                   Leave the current room for the Lobby.
        /bye                    Disconnect from the server.
-----------------------------------------`

// Session drives one client connection: the login handshake, then the
// read-and-dispatch loop. username, room, and state are owned by the
// session's own goroutine; other goroutines only touch the outbound channel
// through deliver.
type Session struct {
	id         string
	conn       net.Conn
	serverAddr string
	framer     *Framer
	logger     *slog.Logger

	users *UserRegistry
	rooms *RoomRegistry

	out        chan string
	done       chan struct{}
	writerDown <-chan struct{}
	once       sync.Once

	username string
	room     *Room
	state    State
}

func NewSession(conn net.Conn, serverAddr string, users *UserRegistry, rooms *RoomRegistry, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	s := &Session{
		id:         id,
		conn:       conn,
		serverAddr: serverAddr,
		framer:     NewFramer(conn),
		logger:     logger.With("session", id, "remote", conn.RemoteAddr().String()),
		users:      users,
		rooms:      rooms,
		out:        make(chan string, outboundBuffer),
		done:       make(chan struct{}),
		state:      StateConnecting,
	}
	// The writer starts with the session so close() can always wait on it.
	s.writerDown = StartOutboundWriter(conn, s.out, s.done, s.logger)
	return s
}

// Run blocks until the session terminates. It is the connection's only
// reader; writes go through the outbound writer goroutine.
func (s *Session) Run() {
	defer s.teardown()

	s.deliver(styleWelcome.Sprintf("**[Welcome]** Connected to ChatRoom @ %s. Please enter your username", s.serverAddr))
	if !s.login() {
		return
	}

	for s.state == StateActive {
		line, err := s.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrDecode) {
				s.logger.Warn("dropping undecodable frame")
				continue
			}
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("read failed", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}
		s.dispatch(line)
	}
}

// login runs the bounded username handshake. Any line received before
// authentication is the desired username, never command syntax.
func (s *Session) login() bool {
	tries := maxLoginAttempts
	for {
		line, err := s.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrDecode) {
				s.logger.Warn("dropping undecodable frame")
				continue
			}
			return false
		}
		name := strings.TrimSpace(line)

		switch err := s.users.Reserve(name, s); {
		case err == nil:
			s.username = name
			s.state = StateActive
			s.room, _ = s.rooms.Join(LobbyName, name, "")
			s.logger.Info("user logged in", "username", name)
			s.deliver(styleSuccess.Sprintf("**[Info]** You have entered the room: %s. You are all set to pass messages.", LobbyName))
			s.deliver(styleInfo.Sprint(helpText))
			return true
		case errors.Is(err, ErrNameInvalid):
			s.deliver(styleError.Sprint("**[Error]** Username invalid, kindly choose another."))
		default: // taken or reserved
			s.deliver(styleError.Sprint("**[Error]** Username taken, kindly choose another."))
		}

		tries--
		if tries == 0 {
			s.deliver(styleError.Sprint("**[Error]** Max tries reached, closing connection."))
			s.logger.Info("login attempts exhausted")
			return false
		}
	}
}

// slashHandlers is the closed command set; anything else is an illegal
// command reported to the sender.
var slashHandlers = map[string]func(*Session, string){
	"create": (*Session).handleCreate,
	"join":   (*Session).handleJoin,
	"exit":   (*Session).handleExit,
	"list":   (*Session).handleList,
	"who":    (*Session).handleWho,
	"bye":    (*Session).handleBye,
}

func (s *Session) dispatch(line string) {
	cmd := ParseCommand(line)
	switch cmd.Kind {
	case KindSlash:
		handler, ok := slashHandlers[cmd.Name]
		if !ok {
			MessagesTotal.WithLabelValues("illegal").Inc()
			s.deliver(styleError.Sprint("**[Error]** Sorry, first field in message is illegal."))
			return
		}
		MessagesTotal.WithLabelValues("command").Inc()
		start := time.Now()
		handler(s, cmd.Args)
		CommandDuration.WithLabelValues(cmd.Name).Observe(time.Since(start).Seconds())
	case KindAt:
		MessagesTotal.WithLabelValues("private").Inc()
		s.handlePrivate(cmd.To, cmd.Body)
	case KindPlain:
		MessagesTotal.WithLabelValues("broadcast").Inc()
		s.room.Broadcast(styleMessage.Sprint(messageStamp(s.username)+cmd.Body), s.username)
	}
}

func (s *Session) handleCreate(args string) {
	name, password, _ := strings.Cut(args, " ")
	if name == "" {
		s.deliver(styleError.Sprint("**[Error]** Usage: /create <room> [password]"))
		return
	}
	room, err := s.rooms.Create(name, s.username, strings.TrimSpace(password))
	switch {
	case errors.Is(err, ErrRoomExists):
		s.deliver(styleError.Sprint("**[Error]** Sorry, chatroom already taken. Please try again."))
		return
	case err != nil:
		s.logger.Error("room create failed", "room", name, "error", err)
		s.deliver(styleError.Sprint("**[Error]** Sorry, could not create the chatroom."))
		return
	}
	s.room = room
	s.logger.Info("room created", "room", name, "username", s.username)
	s.deliver(styleSuccess.Sprintf("**[Info]** Chatroom %s created.", name))
}

func (s *Session) handleJoin(args string) {
	name, password, _ := strings.Cut(args, " ")
	if name == "" {
		s.deliver(styleError.Sprint("**[Error]** Usage: /join <room> [password]"))
		return
	}
	room, err := s.rooms.Join(name, s.username, strings.TrimSpace(password))
	switch {
	case errors.Is(err, ErrRoomNotFound):
		s.deliver(styleWarning.Sprint("**[Warning]** Sorry, no such chatroom to join."))
		return
	case errors.Is(err, ErrBadPassword):
		s.deliver(styleWarning.Sprint("**[Warning]** Sorry, This chatroom is private, incorrect password."))
		return
	}
	s.room = room
	room.Broadcast(styleInfo.Sprintf("**[Info]** New user %s has joined.", s.username), s.username)
	s.deliver(styleSuccess.Sprintf("**[Info]** You have joined chatroom - %s", name))
	s.deliver(styleMessage.Sprint("Here is a list of peers in the room."))
	s.deliver(styleWarning.Sprint(strings.Join(room.Members(), "  ")))
}

func (s *Session) handleExit(string) {
	left := s.rooms.Leave(s.username)
	if left == nil {
		s.deliver(styleInfo.Sprint("**[Info]** You are already in the Lobby."))
		return
	}
	s.room = s.rooms.Lobby()
	s.deliver(styleSuccess.Sprintf("**[Info]** You have left room: %s", left.Name()))
	left.Broadcast(styleInfo.Sprintf("**[Info]** %s has left %s", s.username, left.Name()), s.username)
}

func (s *Session) handleList(string) {
	names := s.rooms.Names()
	if len(names) == 0 {
		s.deliver(styleInfo.Sprint("**[Info]** There are no chatrooms to join now"))
		return
	}
	s.deliver(styleInfo.Sprint("**[Info]** Here is a list of chatrooms you can join."))
	s.deliver(styleWarning.Sprint(strings.Join(names, "  ")))
}

func (s *Session) handleWho(string) {
	members := s.room.Members()
	if len(members) == 0 {
		s.deliver(styleInfo.Sprint("**[Info]** There are no peers in the room"))
		return
	}
	s.deliver(styleInfo.Sprint("**[Info]** Here is a list of users in the room."))
	s.deliver(styleWarning.Sprint(strings.Join(members, "  ")))
}

func (s *Session) handleBye(string) {
	if s.room.Name() != LobbyName {
		s.handleExit("")
	}
	s.deliver("Bye")
	s.rooms.Drop(s.username)
	s.users.Release(s.username)
	s.logger.Info("user left", "username", s.username)
	s.state = StateClosing
}

// handlePrivate delivers a timestamped message to a single member of the
// session's current room. Destination lookup is room-scoped, not global.
func (s *Session) handlePrivate(to, body string) {
	if body == "" {
		body = "\aHi"
	}
	if !s.room.HasMember(to) {
		s.deliver(styleError.Sprint("**[Error]** Sorry, destination client not present in chatroom."))
		return
	}
	dest := s.users.Lookup(to)
	if dest == nil {
		// Member disconnected between the membership check and the lookup.
		s.deliver(styleError.Sprint("**[Error]** Sorry, destination client not present in chatroom."))
		return
	}
	dest.deliver(stylePrivate.Sprint(messageStamp(s.username) + body))
}

// deliver hands a line to the outbound writer without blocking. Lines to a
// slow or closing session are dropped rather than stalling the sender.
func (s *Session) deliver(line string) {
	select {
	case <-s.done:
	case s.out <- line:
	default:
		s.logger.Debug("dropping outbound line, client too slow")
	}
}

// teardown removes the session from every registry it belongs to. It runs
// exactly once, whatever path ended the read loop.
func (s *Session) teardown() {
	if s.state == StateActive {
		left := s.rooms.Drop(s.username)
		// Release before the departure notice: anyone who sees it can take
		// the name immediately.
		s.users.Release(s.username)
		s.logger.Info("user disconnected", "username", s.username)
		if left != nil {
			left.Broadcast(styleInfo.Sprintf("**[Info]** %s has left %s", s.username, left.Name()), s.username)
		}
	}
	s.state = StateClosing
	s.close()
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		// Give the writer a moment to flush queued lines.
		select {
		case <-s.writerDown:
		case <-time.After(time.Second):
		}
		_ = s.conn.Close()
	})
}

func messageStamp(username string) string {
	return time.Now().Format("[15:04:05]") + " " + username + " : "
}
