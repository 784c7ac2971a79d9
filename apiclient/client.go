// Package apiclient is the calling side of the RPC protocol. A Client keeps
// one persistent connection, multiplexes any number of concurrent calls over
// it and matches replies to calls by correlation id, so replies may arrive in
// any order. Connection state changes and errors are reported through
// registered handlers, and the client can reconnect automatically.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-apinet/codec"
	"github.com/cyberinferno/go-apinet/idgenerator"
	"github.com/cyberinferno/go-apinet/logger"
	"github.com/cyberinferno/go-apinet/message"
	"github.com/cyberinferno/go-apinet/safemap"
)

var (
	// ErrClientClosed is returned by every call after Close.
	ErrClientClosed = errors.New("apiclient: client is closed")
	// ErrNotConnected is returned by Invoke and Notify without a connection.
	ErrNotConnected = errors.New("apiclient: not connected")
	// ErrAlreadyConnected is returned by Connect while connected or connecting.
	ErrAlreadyConnected = errors.New("apiclient: already connected or connecting")
	// ErrConnectionClosed fails every call pending when the connection drops.
	ErrConnectionClosed = errors.New("apiclient: connection closed")
)

// RemoteError is an error reply from the server.
type RemoteError struct {
	Code    int32
	Action  string
	Message string
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d from %s: %s", e.Code, e.Action, e.Message)
}

// ConnectionState represents the current state of the connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Connection attempt in progress
	Connected                           // Ready for calls
	Reconnecting                        // Waiting to reconnect (when AutoReconnect is enabled)
	Closed                              // Client has been closed and will not reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the state change was due to an error
}

// ErrorEvent is emitted when a read, write, or connection error occurs.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// ConnectionStateHandler is called when the connection state changes.
// Handlers are invoked from goroutines; implementations must be safe for concurrent use.
type ConnectionStateHandler func(event ConnectionStateEvent)

// ErrorHandler is called when a read, write, or connection error occurs.
// Handlers are invoked from goroutines; implementations must be safe for concurrent use.
type ErrorHandler func(event ErrorEvent)

// Config holds client settings.
type Config struct {
	// Address is the "host:port" of the server.
	Address string
	// AutoReconnect re-dials after the connection is lost.
	AutoReconnect bool
	// ReconnectInterval is the delay between reconnection attempts.
	ReconnectInterval time.Duration
	// WriteTimeout bounds a single request write; 0 means no timeout.
	WriteTimeout time.Duration
	// ConnectionTimeout bounds dialing.
	ConnectionTimeout time.Duration
	// MaxFrameSize limits a single reply; 0 means codec.DefaultMaxFrameSize.
	MaxFrameSize uint32
	// Codec is the message codec; nil selects message.NewBinaryCodec.
	Codec message.Codec
	// Logger receives debug output; nil discards it.
	Logger logger.Logger
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with ReconnectInterval 5s, WriteTimeout 10s,
//     ConnectionTimeout 10s and AutoReconnect off
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ReconnectInterval: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
}

// Client calls actions on a server over one connection. It is safe for
// concurrent use.
type Client struct {
	config Config
	chain  codec.Chain
	logger logger.Logger
	ids    *idgenerator.IdGenerator

	raw   net.Conn
	conn  codec.Conn
	state ConnectionState

	pending *safemap.SafeMap[uint32, chan *message.Message]

	onConnectionState ConnectionStateHandler
	onError           ErrorHandler

	mu            sync.RWMutex
	stopChan      chan struct{}
	reconnectChan chan struct{}
	reconnectOnce sync.Once
	wg            sync.WaitGroup
	closed        bool
}

// NewClient creates a disconnected client; call Connect before invoking.
//
// Parameters:
//   - config: Connection settings, e.g. from DefaultConfig
//
// Returns:
//   - The client; call Close when done
func NewClient(config Config) *Client {
	if config.Codec == nil {
		config.Codec = message.NewBinaryCodec()
	}
	if config.Logger == nil {
		config.Logger = logger.NewNopLogger()
	}

	return &Client{
		config: config,
		chain: codec.Chain{
			MaxFrameSize: config.MaxFrameSize,
			WriteTimeout: config.WriteTimeout,
			Codec:        config.Codec,
		},
		logger:        config.Logger.With(logger.Field{Key: "server_addr", Value: config.Address}),
		ids:           idgenerator.NewIdGenerator(0),
		state:         Disconnected,
		pending:       safemap.NewSafeMap[uint32, chan *message.Message](),
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
}

// OnConnectionState registers the handler for connection state changes,
// replacing any previous one. Pass nil to clear it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnError registers the handler for connection errors, replacing any previous
// one. Pass nil to clear it.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the server and starts reading replies.
//
// Parameters:
//   - ctx: Bounds the dial together with ConnectionTimeout
//
// Returns:
//   - ErrClientClosed, ErrAlreadyConnected or the dial error
func (c *Client) Connect(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	if c.config.AutoReconnect {
		c.reconnectOnce.Do(func() {
			c.wg.Add(1)
			go c.reconnectHandler()
		})
	}

	return nil
}

// Invoke calls action with args and waits for its reply.
//
// Parameters:
//   - ctx: Bounds the wait for the reply
//   - action: The action name
//   - args: The request payload
//
// Returns:
//   - The reply payload
//   - A *RemoteError for error replies, ErrConnectionClosed if the connection
//     dropped first, ctx.Err() on cancellation, or the write error
func (c *Client) Invoke(ctx context.Context, action string, args []byte) ([]byte, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}

	id := c.ids.Id()
	done := make(chan *message.Message, 1)
	c.pending.Store(id, done)
	defer c.pending.Delete(id)

	if err := conn.WriteMessage(&message.Message{ID: id, Action: action, Payload: args}); err != nil {
		c.emitError(err)
		return nil, fmt.Errorf("invoke %s: %w", action, err)
	}

	select {
	case reply := <-done:
		if reply == nil {
			return nil, fmt.Errorf("invoke %s: %w", action, ErrConnectionClosed)
		}

		if reply.Error {
			return nil, &RemoteError{Code: reply.Code, Action: action, Message: string(reply.Payload)}
		}

		return reply.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a one-way request; the server runs the action but sends no reply.
//
// Parameters:
//   - action: The action name
//   - args: The request payload
//
// Returns:
//   - An error if not connected or the write fails
func (c *Client) Notify(action string, args []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	if err := conn.WriteMessage(&message.Message{ID: c.ids.Id(), OneWay: true, Action: action, Payload: args}); err != nil {
		c.emitError(err)
		return fmt.Errorf("notify %s: %w", action, err)
	}

	return nil
}

// Pending returns the number of calls waiting for a reply.
func (c *Client) Pending() int {
	return c.pending.Len()
}

// Disconnect closes the current connection without closing the client;
// Connect may be called again. Pending calls fail with ErrConnectionClosed.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	raw := c.raw
	c.raw, c.conn = nil, nil
	wasConnected := raw != nil
	if wasConnected {
		c.state = Disconnected
	}
	c.mu.Unlock()

	if !wasConnected {
		return nil
	}

	err := raw.Close()
	c.failPending()
	c.emitConnectionState(Disconnected, nil)
	return err
}

// Close shuts the client down. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	if c.raw != nil {
		_ = c.raw.Close()
		c.raw, c.conn = nil, nil
	}
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()
	c.failPending()

	c.setState(Closed, nil)
	return nil
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is in the Connected state.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

func (c *Client) current() (codec.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	if c.state != Connected || c.conn == nil {
		return nil, ErrNotConnected
	}

	return c.conn, nil
}

// connect claims the Connecting state and dials. Only one caller at a time
// gets past the state check.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emitConnectionState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	conn, err := c.chain.Bind(raw)
	if err != nil {
		_ = raw.Close()
		c.setState(Disconnected, err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = raw.Close()
		return ErrClientClosed
	}
	c.raw, c.conn = raw, conn
	c.mu.Unlock()

	c.setState(Connected, nil)
	c.logger.Debug("connected", logger.Field{Key: "local_addr", Value: raw.LocalAddr().String()})

	c.wg.Add(1)
	go c.readLoop(raw, conn)

	return nil
}

func (c *Client) readLoop(raw net.Conn, conn codec.Conn) {
	defer c.wg.Done()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, codec.ErrMalformed) {
				c.logger.Debug("undecodable reply", logger.Err(err))
				continue
			}

			c.connectionLost(raw, err)
			return
		}

		if !msg.Reply {
			c.logger.Debug("ignoring request from server", logger.Field{Key: "message", Value: msg.String()})
			continue
		}

		if done, ok := c.pending.LoadAndDelete(msg.ID); ok {
			done <- msg
		} else {
			c.logger.Debug("reply without a pending call", logger.Field{Key: "id", Value: msg.ID})
		}
	}
}

// connectionLost tears down raw unless the client already moved on.
func (c *Client) connectionLost(raw net.Conn, cause error) {
	c.mu.Lock()
	current := c.raw == raw
	if current {
		c.raw, c.conn = nil, nil
		c.state = Disconnected
	}
	closed := c.closed
	c.mu.Unlock()

	_ = raw.Close()
	if !current || closed {
		return
	}

	c.failPending()
	c.emitConnectionState(Disconnected, cause)
	c.emitError(cause)
	c.triggerReconnect()
}

// failPending wakes every waiting call with a nil reply.
func (c *Client) failPending() {
	c.pending.Range(func(id uint32, _ chan *message.Message) bool {
		if done, ok := c.pending.LoadAndDelete(id); ok {
			done <- nil
		}
		return true
	})
}

func (c *Client) reconnectHandler() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
			if !c.markReconnecting() {
				continue
			}

			select {
			case <-c.stopChan:
				return
			case <-time.After(c.config.ReconnectInterval):
			}

			if c.isClosed() {
				return
			}

			err := c.connect(context.Background())
			if err != nil && !errors.Is(err, ErrAlreadyConnected) && !errors.Is(err, ErrClientClosed) {
				c.triggerReconnect()
			}
		}
	}
}

// markReconnecting moves a disconnected client to Reconnecting. It reports
// false when something else already reconnected it or it was closed.
func (c *Client) markReconnecting() bool {
	c.mu.Lock()
	if c.closed || c.state != Disconnected {
		c.mu.Unlock()
		return false
	}
	c.state = Reconnecting
	c.mu.Unlock()

	c.emitConnectionState(Reconnecting, nil)
	return true
}

func (c *Client) triggerReconnect() {
	if !c.config.AutoReconnect || c.isClosed() {
		return
	}

	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.emitConnectionState(state, err)
}

func (c *Client) emitConnectionState(state ConnectionState, err error) {
	c.mu.RLock()
	handler := c.onConnectionState
	c.mu.RUnlock()

	if handler != nil {
		event := ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		}

		go handler(event)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		event := ErrorEvent{
			Error:     err,
			Timestamp: time.Now(),
		}

		go handler(event)
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
