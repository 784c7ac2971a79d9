// Package codec is the frame stage of the protocol codec chain. It splits a
// connection's byte stream into frames and hands each frame to the message
// codec supplied by the host. Two framings are supported on the same port: a
// 4-byte little-endian length prefix for native clients and HTTP/1.1 for
// interoperable text clients, chosen by sniffing the first bytes.
package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cyberinferno/go-apinet/message"
	"github.com/cyberinferno/go-apinet/utils"
)

// DefaultMaxFrameSize bounds a single frame when Chain.MaxFrameSize is zero.
const DefaultMaxFrameSize = 16 * 1024 * 1024

var (
	// ErrFrameTooLarge is returned when a frame exceeds the configured limit.
	// The stream cannot be resynchronised afterwards, so it is fatal.
	ErrFrameTooLarge = errors.New("codec: frame too large")
	// ErrMalformed wraps message codec failures. The frame boundary is intact,
	// so callers may skip the frame and keep reading.
	ErrMalformed = errors.New("codec: malformed message")
	// ErrNoMessageCodec is returned by Bind when the chain has no message codec.
	ErrNoMessageCodec = errors.New("codec: no message codec installed")
)

// Conn reads and writes whole messages on one connection.
type Conn interface {
	// ReadMessage blocks until the next message arrives. Errors wrapping
	// ErrMalformed are recoverable; any other error ends the stream.
	ReadMessage() (*message.Message, error)

	// WriteMessage writes one message as a single frame. It is safe for
	// concurrent use and never interleaves frames.
	WriteMessage(msg *message.Message) error

	// Ordered reports whether replies must leave in request order, which is
	// the case for framings without correlation ids on the wire.
	Ordered() bool

	// Framing names the framing in use, for logs.
	Framing() string
}

// NoReplier is implemented by connections that must answer every request even
// when the handler produced no reply.
type NoReplier interface {
	NoReply(req *message.Message) error
}

// Chain is the codec chain installed on every accepted connection: the frame
// stage configured here followed by the host's message codec.
type Chain struct {
	// AllowParseHeader enables HTTP/1.1 text framing when a connection starts
	// with an HTTP method.
	AllowParseHeader bool
	// MaxFrameSize limits a single frame; zero means DefaultMaxFrameSize.
	MaxFrameSize uint32
	// WriteTimeout bounds each frame write; zero disables the deadline.
	WriteTimeout time.Duration
	// Codec is the message codec supplied by the host.
	Codec message.Codec
}

// Bind wraps conn with the framing its first bytes call for. It blocks until
// the client sends at least four bytes.
//
// Parameters:
//   - conn: The accepted connection
//
// Returns:
//   - A Conn ready to read messages
//   - An error if no message codec is installed or the connection closed early
func (c *Chain) Bind(conn net.Conn) (Conn, error) {
	if c.Codec == nil {
		return nil, ErrNoMessageCodec
	}

	limit := c.MaxFrameSize
	if limit == 0 {
		limit = DefaultMaxFrameSize
	}

	r := bufio.NewReader(conn)
	if c.AllowParseHeader {
		head, err := r.Peek(utils.LengthPrefixLen)
		if err != nil {
			return nil, fmt.Errorf("codec: sniff framing: %w", err)
		}

		if isHTTPMethod(head) {
			return newHTTPConn(conn, r, limit, c.WriteTimeout), nil
		}
	}

	return newLengthConn(conn, r, c.Codec, limit, c.WriteTimeout), nil
}

var httpMethodPrefixes = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("DELE"),
	[]byte("OPTI"),
	[]byte("PATC"),
}

// isHTTPMethod reports whether head starts an HTTP request line. Read as a
// little-endian length, every prefix exceeds 1 GiB, far above any sane frame
// limit, so the two framings cannot be confused.
func isHTTPMethod(head []byte) bool {
	for _, p := range httpMethodPrefixes {
		if bytes.HasPrefix(head, p) {
			return true
		}
	}

	return false
}
