// Package apinet is the session message-dispatch engine of a lightweight RPC
// protocol. A Server accepts persistent connections, installs the codec chain
// on each one and creates a Session per connection. The Session decodes
// requests, resolves them to actions through the Host and writes correlated
// replies, either one request at a time or multiplexed over the connection.
package apinet

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-apinet/codec"
	"github.com/cyberinferno/go-apinet/logger"
	"github.com/cyberinferno/go-apinet/tcpserver"
	"github.com/cyberinferno/go-apinet/utils"
)

// Server accepts connections for a Host.
type Server struct {
	Logger logger.Logger
	// ItemsOverride, when set, supplies a scratch layer that every new
	// session installs in front of its primary map.
	ItemsOverride func(*Session) Items
	// Metrics, when set, is updated for every session and request.
	Metrics *Metrics

	config Config
	host   Host
	chain  *codec.Chain
	tcp    *tcpserver.TCPServer
	idle   *IdleMonitor

	pool    errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Uint64
}

// NewServer returns a server configured by cfg. Init must be called before
// Start.
//
// Parameters:
//   - cfg: Server configuration
//   - log: Logger for server and session events
//
// Returns:
//   - The server
func NewServer(cfg Config, log logger.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	s := &Server{
		Logger: log.With(logger.Field{Key: "server", Value: cfg.Name}),
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.MaxConcurrency > 0 {
		s.pool.SetLimit(cfg.MaxConcurrency)
	}

	return s
}

// Init sets the bind address and the host, and installs the codec chain: the
// frame stage configured from the server config followed by the host's message
// codec.
//
// Parameters:
//   - bind: "host:port", ":port" or "*:port", optionally prefixed with "tcp://";
//     an empty host or "*" binds every interface
//   - host: The application host
//
// Returns:
//   - An error wrapping ErrInvalidBindAddress or ErrNilHost
func (s *Server) Init(bind string, host Host) error {
	if host == nil {
		return ErrNilHost
	}

	addr, err := ParseBindAddress(bind)
	if err != nil {
		return err
	}

	s.host = host
	s.chain = &codec.Chain{
		AllowParseHeader: s.config.AllowParseHeader,
		MaxFrameSize:     s.config.MaxFrameSize,
		WriteTimeout:     s.config.WriteTimeout,
		Codec:            host.GetMessageCodec(),
	}
	s.tcp = tcpserver.NewTCPServer(s.config.Name, addr, s.newSession, s.Logger)

	return nil
}

// ParseBindAddress normalises a bind string into a listen address.
//
// Parameters:
//   - bind: The bind string accepted by Server.Init
//
// Returns:
//   - The address to pass to net.Listen
//   - An error wrapping ErrInvalidBindAddress
func ParseBindAddress(bind string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(bind), "tcp://")

	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidBindAddress, bind, err)
	}

	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("%w: %q: bad port", ErrInvalidBindAddress, bind)
	}

	if host == "" || host == "*" {
		return ":" + port, nil
	}

	return net.JoinHostPort(host, port), nil
}

// Start begins listening and accepting connections, and starts the idle
// monitor when a session timeout is configured.
//
// Returns:
//   - ErrNotInitialized before Init, or the listen error
func (s *Server) Start() error {
	if s.tcp == nil {
		return ErrNotInitialized
	}

	if err := s.tcp.Start(); err != nil {
		return err
	}

	if s.config.SessionTimeout > 0 {
		s.idle = NewIdleMonitor(s.config.SessionTimeout, s.AllSessions, s.Logger)
		s.idle.Start()
	}

	limit := s.config.MaxFrameSize
	if limit == 0 {
		limit = codec.DefaultMaxFrameSize
	}

	s.Logger.Info("api server listening",
		logger.Field{Key: "addr", Value: s.Addr().String()},
		logger.Field{Key: "multiplex", Value: utils.BoolToYesNo(s.config.Multiplex)},
		logger.Field{Key: "http", Value: utils.BoolToYesNo(s.config.AllowParseHeader)},
		logger.Field{Key: "max_frame", Value: utils.HumanBytes(uint64(limit))},
		logger.Field{Key: "actions", Value: s.host.Manager().Len()})

	return nil
}

// Stop closes the listener and every session, then waits for multiplexed
// requests still running. Handlers are not interrupted; the context they
// receive is cancelled only after they have all returned.
func (s *Server) Stop() {
	if s.idle != nil {
		s.idle.Stop()
	}

	if s.tcp != nil {
		s.tcp.Stop()
	}

	_ = s.pool.Wait()
	s.cancel()
}

// Addr returns the bound address once started, otherwise nil.
func (s *Server) Addr() net.Addr {
	if s.tcp == nil {
		return nil
	}

	return s.tcp.BoundAddr()
}

// Host returns the host installed by Init.
func (s *Server) Host() Host {
	return s.host
}

// Multiplex reports whether requests on one connection may run concurrently.
func (s *Server) Multiplex() bool {
	return s.config.Multiplex
}

// DroppedReplies returns how many replies could not be written because the
// session was closed or the write failed.
func (s *Server) DroppedReplies() uint64 {
	return s.dropped.Load()
}

// AllSessions returns a snapshot of the live sessions in no particular order.
// It may include a session that is closing or miss one that was just accepted.
func (s *Server) AllSessions() []ApiSession {
	sessions := make([]ApiSession, 0)
	if s.tcp == nil {
		return sessions
	}

	s.tcp.Sessions.Range(func(_ uint32, session tcpserver.TCPServerSession) bool {
		if api, ok := session.(ApiSession); ok {
			sessions = append(sessions, api)
		}
		return true
	})

	return sessions
}

func (s *Server) newSession(id uint32, conn net.Conn) tcpserver.TCPServerSession {
	session := newSession(id, conn, s)
	session.Start()
	return session
}

// submit runs task on the worker pool. With MaxConcurrency set it blocks
// while the pool is full, which stops the caller's read loop.
func (s *Server) submit(task func()) {
	s.pool.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				s.Logger.Error("multiplexed task panicked", logger.Field{Key: "panic", Value: fmt.Sprint(r)})
			}
		}()

		task()
		return nil
	})
}
