// Package tcpserver is the connection transport under the RPC session layer:
// it owns the listener, runs the accept loop and keeps a concurrent registry
// of live sessions, inserting each one on accept and removing it on close.
package tcpserver

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-apinet/idgenerator"
	"github.com/cyberinferno/go-apinet/logger"
	"github.com/cyberinferno/go-apinet/safemap"
)

// NewSessionFunc is a function that creates a new TCPServerSession for a given
// connection. It receives the assigned session ID and the accepted net.Conn,
// and returns an implementation of TCPServerSession that will handle the connection.
type NewSessionFunc func(id uint32, conn net.Conn) TCPServerSession

// TCPServer is a TCP server that accepts connections and delegates each one to a
// session created by NewSession. Sessions are stored by ID while their Handle
// loop runs. The server runs its accept loop in a goroutine and supports
// graceful stop.
type TCPServer struct {
	Logger      logger.Logger
	Name        string
	Addr        string
	Listener    net.Listener
	Sessions    *safemap.SafeMap[uint32, TCPServerSession]
	Running     atomic.Bool
	NewSession  NewSessionFunc
	IdGenerator *idgenerator.IdGenerator

	mu       sync.Mutex
	handlers sync.WaitGroup
}

// NewTCPServer returns a server ready to Start, with an empty registry and ids
// starting at 1.
//
// Parameters:
//   - name: Name used in log entries and errors
//   - addr: The "host:port" to listen on
//   - newSession: Factory invoked for every accepted connection
//   - log: Logger for lifecycle events
//
// Returns:
//   - A new, stopped TCPServer
func NewTCPServer(name, addr string, newSession NewSessionFunc, log logger.Logger) *TCPServer {
	return &TCPServer{
		Logger:      log,
		Name:        name,
		Addr:        addr,
		Sessions:    safemap.NewSafeMap[uint32, TCPServerSession](),
		NewSession:  newSession,
		IdGenerator: idgenerator.NewIdGenerator(0),
	}
}

// Start starts the TCP server by binding to Addr and beginning the accept loop
// in a goroutine. It is safe to call only when the server is not already running.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *TCPServer) Start() error {
	if s.Running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.Listener = ln
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	go s.AcceptLoop()

	return nil
}

// Stop stops the TCP server: it sets Running to false, closes the listener,
// closes all active sessions and waits for their Handle loops to return. Safe
// to call when the server is not running.
func (s *TCPServer) Stop() {
	// Acceptors register with handlers under mu, so none can after the swap.
	s.mu.Lock()
	wasRunning := s.Running.Swap(false)
	s.mu.Unlock()

	if !wasRunning {
		s.Logger.Info(fmt.Sprintf("%s server not running", s.Name))
		return
	}

	if s.Listener != nil {
		_ = s.Listener.Close()
	}

	s.Sessions.Range(func(key uint32, session TCPServerSession) bool {
		_ = session.Close()
		return true
	})

	s.handlers.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// BoundAddr returns the address the listener is bound to, which differs from
// Addr when Addr requested port 0. It returns nil before Start.
func (s *TCPServer) BoundAddr() net.Addr {
	if s.Listener == nil {
		return nil
	}

	return s.Listener.Addr()
}

// AddSession stores a session under the given id. It is safe for concurrent use.
//
// Parameters:
//   - id: The session ID to associate with the session
//   - session: The session to store
func (s *TCPServer) AddSession(id uint32, session TCPServerSession) {
	s.Sessions.Store(id, session)
}

// RemoveSession removes the session with the given id from the server. It is
// safe for concurrent use.
//
// Parameters:
//   - id: The session ID to remove
func (s *TCPServer) RemoveSession(id uint32) {
	s.Sessions.Delete(id)
}

// GetSession returns the session for the given id, if present.
//
// Parameters:
//   - id: The session ID to look up
//
// Returns:
//   - The session and true if found, or a zero value and false otherwise
func (s *TCPServer) GetSession(id uint32) (TCPServerSession, bool) {
	return s.Sessions.Load(id)
}

// AcceptLoop runs in a goroutine and accepts incoming connections. For each
// connection it assigns an ID via IdGenerator, creates a session with
// NewSession, registers it and runs session.Handle in a new goroutine. When
// Handle returns the session is closed and removed from the registry. The loop
// exits when the server is stopped.
func (s *TCPServer) AcceptLoop() {
	for s.Running.Load() {
		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err))
			continue
		}

		s.mu.Lock()
		if !s.Running.Load() {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.handlers.Add(1)
		s.mu.Unlock()

		id := s.IdGenerator.Id()
		session := s.NewSession(id, conn)
		s.AddSession(id, session)

		// Stop may have swept the registry before this session was added.
		if !s.Running.Load() {
			_ = session.Close()
		}

		go func() {
			defer s.handlers.Done()
			defer s.RemoveSession(id)

			session.Handle()
			_ = session.Close()
		}()
	}
}
