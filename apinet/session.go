package apinet

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cyberinferno/go-apinet/codec"
	"github.com/cyberinferno/go-apinet/logger"
	"github.com/cyberinferno/go-apinet/safeset"
)

// ApiSession is what actions and hosts see of a session.
type ApiSession interface {
	ID() uint32
	// Key is a random UUID that namespaces the session in external stores.
	Key() string
	Token() string
	SetToken(token string)
	CreatedAt() time.Time
	LastActive() time.Time
	RemoteAddr() net.Addr
	// InFlight is the number of requests currently being processed.
	InFlight() int

	Get(key string) (any, bool)
	Item(key string) any
	Set(key string, value any)

	FindAction(name string) (*Action, bool)
	CreateController(action *Action) (any, error)
	AllSessions() []ApiSession

	Close() error
}

// Session is the server side of one client connection. It owns the read loop,
// the session scratch data and the dispatch of every request received on the
// connection.
type Session struct {
	id        uint32
	key       string
	netConn   net.Conn
	server    *Server
	host      Host
	conn      codec.Conn
	logger    logger.Logger
	createdAt time.Time

	lastActive atomic.Int64
	token      atomic.Pointer[string]
	items      *LayeredItems
	inFlight   *safeset.SafeSet[uint32]
	running    atomic.Int32

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ ApiSession = (*Session)(nil)

func newSession(id uint32, conn net.Conn, server *Server) *Session {
	now := time.Now()
	s := &Session{
		id:        id,
		key:       uuid.NewString(),
		netConn:   conn,
		server:    server,
		createdAt: now,
		items:     NewLayeredItems(NewMapItems()),
		inFlight:  safeset.NewSafeSet[uint32](),
	}
	s.lastActive.Store(now.UnixNano())

	fields := []logger.Field{{Key: "session_id", Value: id}}
	if conn != nil && conn.RemoteAddr() != nil {
		fields = append(fields, logger.Field{Key: "remote", Value: conn.RemoteAddr().String()})
	}
	s.logger = server.Logger.With(fields...)

	return s
}

// Start binds the session to its server's host and installs the server's
// scratch override, if any. The server calls it once, right after accepting
// the connection; later calls are no-ops.
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	s.host = s.server.host
	s.server.Metrics.sessionOpened()
	if s.server.ItemsOverride != nil {
		if layer := s.server.ItemsOverride(s); layer != nil {
			s.items.Push(layer)
		}
	}

	s.logger.Debug("session started", logger.Field{Key: "key", Value: s.key})
}

// Handle runs the read loop until the connection fails or is closed. Frames
// that do not decode are reported to OnReceive as nil and skipped.
func (s *Session) Handle() {
	conn, err := s.server.chain.Bind(s.netConn)
	if err != nil {
		if !s.closed.Load() && !errors.Is(err, io.EOF) {
			s.logger.Debug("codec bind failed", logger.Err(err))
		}
		return
	}
	s.bind(conn)

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, codec.ErrMalformed) {
				s.logger.Debug("undecodable frame", logger.Err(err))
				s.OnReceive(nil)
				continue
			}

			if !s.closed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("read failed", logger.Err(err))
			}
			return
		}

		s.OnReceive(msg)
	}
}

func (s *Session) bind(conn codec.Conn) {
	s.conn = conn
	s.logger.Debug("codec bound", logger.Field{Key: "framing", Value: conn.Framing()})
}

// Close closes the connection. It is idempotent; replies still being produced
// for this session are dropped when they try to write.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.netConn != nil {
			err = s.netConn.Close()
		}
		s.items.Release()
		if s.started.Load() {
			s.server.Metrics.sessionClosed()
		}
		s.logger.Debug("session closed",
			logger.Field{Key: "in_flight", Value: s.InFlight()},
			logger.Field{Key: "age", Value: time.Since(s.createdAt).String()})
	})

	return err
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// ID returns the server-assigned session id.
func (s *Session) ID() uint32 {
	return s.id
}

// Key returns the session's random UUID.
func (s *Session) Key() string {
	return s.key
}

// Token returns the opaque token set by the application, or "" when unset.
func (s *Session) Token() string {
	if t := s.token.Load(); t != nil {
		return *t
	}

	return ""
}

// SetToken stores an opaque token; the session does not interpret it.
func (s *Session) SetToken(token string) {
	s.token.Store(&token)
}

// CreatedAt returns the time the connection was accepted.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastActive returns the time the last message, valid or not, was received.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// InFlight returns how many requests the session is processing, duplicates of
// an in-flight correlation id included.
func (s *Session) InFlight() int {
	return int(s.running.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// RemoteAddr returns the peer address, or nil when unknown.
func (s *Session) RemoteAddr() net.Addr {
	if s.netConn == nil {
		return nil
	}

	return s.netConn.RemoteAddr()
}

// Items returns the scratch layer stack, for installing overrides.
func (s *Session) Items() *LayeredItems {
	return s.items
}

// Get reads a scratch value, consulting the override layers before the
// primary map.
func (s *Session) Get(key string) (any, bool) {
	return s.items.Get(key)
}

// Item is Get without the presence flag; absent keys yield nil.
func (s *Session) Item(key string) any {
	value, _ := s.items.Get(key)
	return value
}

// Set writes a scratch value to the front layer.
func (s *Session) Set(key string, value any) {
	s.items.Set(key, value)
}

// FindAction resolves name through the host's registry. Unknown names and an
// unbound session both yield false.
//
// Parameters:
//   - name: The action name, matched case-insensitively
//
// Returns:
//   - The action and true if registered, or nil and false otherwise
func (s *Session) FindAction(name string) (*Action, bool) {
	if s.host == nil {
		return nil, false
	}

	return s.host.Manager().Find(name)
}

// CreateController returns the controller for action: its pre-bound instance
// when present, otherwise a fresh one from its factory. Stateless actions get
// nil. A failing or panicking factory only fails the current request.
//
// Parameters:
//   - action: The resolved action
//
// Returns:
//   - The controller, possibly nil
//   - An error wrapping ErrControllerCreate if the factory failed
func (s *Session) CreateController(action *Action) (controller any, err error) {
	if action == nil {
		return nil, fmt.Errorf("%w: nil action", ErrInvalidAction)
	}

	if action.Controller != nil {
		return action.Controller, nil
	}

	if action.New == nil {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			controller = nil
			err = fmt.Errorf("%w: %s: panic: %v", ErrControllerCreate, action.Name, r)
		}
	}()

	controller, err = action.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrControllerCreate, action.Name, err)
	}

	return controller, nil
}

// AllSessions returns the sessions currently registered on the owning server.
func (s *Session) AllSessions() []ApiSession {
	return s.server.AllSessions()
}
