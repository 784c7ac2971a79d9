package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-apinet/message"
	"github.com/cyberinferno/go-apinet/utils"
)

// lengthConn frames messages with a 4-byte little-endian length prefix.
type lengthConn struct {
	conn         net.Conn
	r            *bufio.Reader
	codec        message.Codec
	maxFrameSize uint32
	writeTimeout time.Duration

	mu sync.Mutex
}

func newLengthConn(conn net.Conn, r *bufio.Reader, codec message.Codec, limit uint32, writeTimeout time.Duration) *lengthConn {
	return &lengthConn{
		conn:         conn,
		r:            r,
		codec:        codec,
		maxFrameSize: limit,
		writeTimeout: writeTimeout,
	}
}

// ReadMessage implements Conn. Zero-length frames are skipped.
func (c *lengthConn) ReadMessage() (*message.Message, error) {
	var prefix [utils.LengthPrefixLen]byte
	for {
		if _, err := io.ReadFull(c.r, prefix[:]); err != nil {
			return nil, err
		}

		size := binary.LittleEndian.Uint32(prefix[:])
		if size == 0 {
			continue
		}

		if size > c.maxFrameSize {
			return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, c.maxFrameSize)
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(c.r, frame); err != nil {
			return nil, err
		}

		msg, err := c.codec.Decode(frame)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		return msg, nil
	}
}

// WriteMessage implements Conn.
func (c *lengthConn) WriteMessage(msg *message.Message) error {
	payload, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg, err)
	}

	if uint32(len(payload)) > c.maxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), c.maxFrameSize)
	}

	frame := utils.LengthPrefixed(payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = c.conn.SetWriteDeadline(time.Time{})
		}()
	}

	_, err = c.conn.Write(frame)
	return err
}

// Ordered implements Conn. Replies carry their correlation id on the wire.
func (c *lengthConn) Ordered() bool {
	return false
}

// Framing implements Conn.
func (c *lengthConn) Framing() string {
	return "length"
}
