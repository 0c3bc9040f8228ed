package blynk

import (
	"net"
	"sync"
	"testing"
	"time"
)

// MockBlynkServer simulates a Blynk server for testing.
//
// It answers LOGIN with loginStatus, answers PING with RESPONSE OK and
// records every other frame it receives.
type MockBlynkServer struct {
	listener net.Listener

	mu          sync.Mutex
	conn        net.Conn
	conns       []net.Conn
	accepted    int
	received    []Frame
	loginStatus Status
	silent      bool // When true, LOGIN is never answered.

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMockBlynkServer creates a mock server on a loopback port.
func NewMockBlynkServer(t *testing.T) *MockBlynkServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	s := &MockBlynkServer{
		listener:    listener,
		loginStatus: StatusOK,
		done:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

func (s *MockBlynkServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conn = conn
		s.conns = append(s.conns, conn)
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *MockBlynkServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	dec := NewDecoder(DefaultMaxPayload)
	buf := make([]byte, 256)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				f, ok, derr := dec.Next()
				if derr != nil || !ok {
					break
				}
				s.handle(conn, f)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *MockBlynkServer) handle(conn net.Conn, f Frame) {
	s.mu.Lock()
	s.received = append(s.received, f)
	status := s.loginStatus
	silent := s.silent
	s.mu.Unlock()

	switch f.Command {
	case CmdLogin:
		if !silent {
			conn.Write(Frame{Command: CmdResponse, ID: f.ID, Status: status}.Encode())
		}
	case CmdPing:
		conn.Write(Frame{Command: CmdResponse, ID: f.ID, Status: StatusOK}.Encode())
	}
}

// Address returns the "host:port" the server listens on.
func (s *MockBlynkServer) Address() string {
	return s.listener.Addr().String()
}

// SetLoginStatus sets the status returned for LOGIN.
func (s *MockBlynkServer) SetLoginStatus(status Status) {
	s.mu.Lock()
	s.loginStatus = status
	s.mu.Unlock()
}

// SetSilent stops the server from answering LOGIN.
func (s *MockBlynkServer) SetSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// Write sends raw bytes to the most recent connection.
func (s *MockBlynkServer) Write(t *testing.T, data []byte) {
	t.Helper()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		t.Fatal("no client connected")
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

// DropClient closes the most recent connection from the server side.
func (s *MockBlynkServer) DropClient() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Accepted returns how many connections the server has accepted.
func (s *MockBlynkServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Received returns a copy of every frame received so far.
func (s *MockBlynkServer) Received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.received))
	copy(out, s.received)
	return out
}

// ReceivedCommand returns received frames with the given command.
func (s *MockBlynkServer) ReceivedCommand(cmd Command) []Frame {
	var out []Frame
	for _, f := range s.Received() {
		if f.Command == cmd {
			out = append(out, f)
		}
	}
	return out
}

// Close stops the server and closes any client connection.
func (s *MockBlynkServer) Close() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}

	s.listener.Close()

	s.mu.Lock()
	conns := s.conns
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
