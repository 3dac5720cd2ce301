package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

type testClient struct {
	conn  net.Conn
	lines chan string
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer("127.0.0.1", 0, logger)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func dialClient(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	c := &testClient{conn: conn, lines: make(chan string, 256)}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		defer close(c.lines)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			c.lines <- ansiRe.ReplaceAllString(scanner.Text(), "")
		}
	}()
	return c
}

func (c *testClient) send(t *testing.T, line string) {
	t.Helper()
	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		t.Fatalf("send %q error: %v", line, err)
	}
}

// waitFor reads lines (colors stripped) until one contains substr.
func (c *testClient) waitFor(t *testing.T, substr string) string {
	t.Helper()
	deadline := time.NewTimer(3 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				t.Fatalf("connection closed while waiting for %q", substr)
			}
			if strings.Contains(line, substr) {
				return line
			}
		case <-deadline.C:
			t.Fatalf("timeout waiting for %q", substr)
		}
	}
}

// waitForClose blocks until the server ends the connection.
func (c *testClient) waitForClose(t *testing.T) {
	t.Helper()
	deadline := time.NewTimer(3 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case _, ok := <-c.lines:
			if !ok {
				return
			}
		case <-deadline.C:
			t.Fatal("timeout waiting for connection close")
		}
	}
}

func login(t *testing.T, c *testClient, name string) {
	t.Helper()
	c.waitFor(t, "Please enter your username")
	c.send(t, name)
	c.waitFor(t, "You have entered the room")
}

func TestServer_EndToEnd(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	login(t, a, "alice")

	// Duplicate username is rejected; a retry succeeds.
	b := dialClient(t, srv)
	b.waitFor(t, "Please enter your username")
	b.send(t, "alice")
	b.waitFor(t, "Username taken")
	b.send(t, "bob")
	b.waitFor(t, "You have entered the room")

	a.send(t, "/create secret pw1")
	a.waitFor(t, "Chatroom secret created.")

	b.send(t, "/join secret pw1")
	b.waitFor(t, "You have joined chatroom - secret")
	a.waitFor(t, "New user bob has joined.")

	b.send(t, "/who")
	if got := b.waitFor(t, "alice"); !strings.Contains(got, "bob") {
		t.Fatalf("who listed %q, want both members", got)
	}

	// Room-scoped private messages both ways.
	a.send(t, "@bob hello there")
	b.waitFor(t, "alice : hello there")
	b.send(t, "@alice hey back")
	a.waitFor(t, "bob : hey back")

	// Plain broadcast reaches the other member only.
	b.send(t, "yo room")
	a.waitFor(t, "bob : yo room")

	// alice disconnects; secret still holds bob, so it survives.
	a.send(t, "/bye")
	a.waitFor(t, "Bye")
	b.waitFor(t, "alice has left secret")
	b.send(t, "/list")
	b.waitFor(t, "secret")

	// bob leaves; the emptied room disappears from /list.
	b.send(t, "/exit")
	b.waitFor(t, "You have left room: secret")
	b.send(t, "/list")
	if got := b.waitFor(t, "Lobby"); strings.Contains(got, "secret") {
		t.Fatalf("room list still shows the empty room: %q", got)
	}
}

func TestServer_LoginAttemptsExhausted(t *testing.T) {
	srv := startTestServer(t)

	c := dialClient(t, srv)
	c.waitFor(t, "Please enter your username")
	for i := 0; i < 4; i++ {
		c.send(t, "root")
		c.waitFor(t, "Username taken")
	}
	c.send(t, "root")
	c.waitFor(t, "Max tries reached")
	c.waitForClose(t)
}

func TestServer_DispatchErrorsKeepSessionAlive(t *testing.T) {
	srv := startTestServer(t)

	c := dialClient(t, srv)
	login(t, c, "alice")

	c.send(t, "/frobnicate now")
	c.waitFor(t, "first field in message is illegal")

	c.send(t, "/create")
	c.waitFor(t, "Usage: /create")

	// bcrypt rejects passwords over 72 bytes; that is not a name clash.
	c.send(t, "/create den "+strings.Repeat("x", 80))
	c.waitFor(t, "could not create the chatroom")

	c.send(t, "/join nowhere")
	c.waitFor(t, "no such chatroom")

	c.send(t, "@ghost hi")
	c.waitFor(t, "destination client not present")

	c.send(t, "/exit")
	c.waitFor(t, "You are already in the Lobby")

	// The session is still functional after every recovered error.
	c.send(t, "/who")
	c.waitFor(t, "alice")
}

func TestServer_PrivateMessageIsRoomScoped(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	login(t, a, "alice")
	b := dialClient(t, srv)
	login(t, b, "bob")

	// bob moves to another room; alice can no longer address him.
	b.send(t, "/create den")
	b.waitFor(t, "Chatroom den created.")

	a.send(t, "@bob psst")
	a.waitFor(t, "destination client not present")
}

func TestServer_EmptyPrivateMessageSendsGreeting(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	login(t, a, "alice")
	b := dialClient(t, srv)
	login(t, b, "bob")

	a.send(t, "@bob")
	line := b.waitFor(t, "alice : ")
	if !strings.HasSuffix(line, "\aHi") {
		t.Fatalf("empty-body private message delivered %q, want bell greeting", line)
	}
}

func TestServer_AbruptDisconnectCleansUp(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	login(t, a, "alice")
	b := dialClient(t, srv)
	login(t, b, "bob")

	a.send(t, "/create den")
	a.waitFor(t, "Chatroom den created.")
	b.send(t, "/join den")
	b.waitFor(t, "You have joined chatroom - den")

	// alice's connection dies without a /bye.
	_ = a.conn.Close()
	b.waitFor(t, "alice has left den")

	// The username is released by the time the departure notice is out.
	c := dialClient(t, srv)
	login(t, c, "alice")
}

func TestServer_AbruptDisconnectDeletesEmptiedRoom(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	login(t, a, "alice")
	b := dialClient(t, srv)
	login(t, b, "bob")

	a.send(t, "/create den")
	a.waitFor(t, "Chatroom den created.")
	_ = a.conn.Close()

	// Teardown runs asynchronously; poll /list until the room is gone.
	deadline := time.Now().Add(3 * time.Second)
	for {
		b.send(t, "/list")
		line := b.waitFor(t, "Lobby")
		if !strings.Contains(line, "den") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("emptied room still listed: %q", line)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestServer_RejectsSessionsAfterStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer("127.0.0.1", 0, logger)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	srv.Stop()

	// A connection accepted in the window before the listener closed must
	// not be tracked after Stop has swept the session set.
	client, server := net.Pipe()
	defer client.Close()
	sess := NewSession(server, "test", srv.Users(), srv.Rooms(), logger)
	if srv.register(sess) {
		t.Fatal("session registered after Stop")
	}
	sess.close()

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := client.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("conn not closed after rejected registration: %v", err)
	}
}

func TestServer_StopTerminatesSessions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer("127.0.0.1", 0, logger)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	c := dialClient(t, srv)
	login(t, c, "alice")

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not finish with a live session")
	}
	c.waitForClose(t)
}
