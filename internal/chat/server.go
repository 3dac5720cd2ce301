package chat

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
)

// bindAttempts is how many consecutive ports Start probes before giving up.
const bindAttempts = 10

// Server accepts connections and owns the user and room registries. Every
// accepted connection gets its own Session goroutine, tracked so Stop can
// terminate all of them and wait.
type Server struct {
	host   string
	port   int
	logger *slog.Logger

	users *UserRegistry
	rooms *RoomRegistry

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	sessions map[*Session]struct{}
}

func NewServer(host string, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	users := NewUserRegistry()
	return &Server{
		host:     host,
		port:     port,
		logger:   logger,
		users:    users,
		rooms:    NewRoomRegistry(users),
		sessions: make(map[*Session]struct{}),
	}
}

func (s *Server) Users() *UserRegistry { return s.users }
func (s *Server) Rooms() *RoomRegistry { return s.rooms }

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds and launches the accept loop. If the configured port is busy
// it retries the next consecutive ports before failing.
func (s *Server) Start() error {
	var lastErr error
	for i := 0; i < bindAttempts; i++ {
		addr := net.JoinHostPort(s.host, strconv.Itoa(s.port+i))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		s.listener = ln
		break
	}
	if s.listener == nil {
		return fmt.Errorf("bind: no free port in %d..%d: %w", s.port, s.port+bindAttempts-1, lastErr)
	}

	go s.acceptLoop(s.listener)

	s.logger.Info("server started", "addr", s.listener.Addr().String())
	return nil
}

// Stop closes the listener and every live connection, then waits for all
// session goroutines to finish.
func (s *Server) Stop() {
	s.logger.Info("shutting down")

	if s.listener != nil {
		_ = s.listener.Close()
	}

	// closed is set under the same lock register takes, so a connection
	// accepted during shutdown can never slip in after the sweep below.
	s.mu.Lock()
	s.closed = true
	open := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close()
	}

	s.wg.Wait()
	s.logger.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed: normal shutdown path.
			return
		}

		s.logger.Info("client connected", "addr", conn.RemoteAddr().String())

		sess := NewSession(conn, ln.Addr().String(), s.users, s.rooms, s.logger)
		if !s.register(sess) {
			// Raced with Stop: close the conn so it cannot outlive shutdown.
			sess.close()
			return
		}
		go func() {
			defer s.wg.Done()
			defer s.untrack(sess)
			sess.Run()
		}()
	}
}

// register tracks a new session. It refuses once Stop has begun, so Stop's
// sweep-then-wait sees every session that will ever run; wg.Add happens
// under the same lock that orders it before Stop's Wait.
func (s *Server) register(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	ConnectedSessions.Inc()
	return true
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	ConnectedSessions.Dec()
}
