package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cyberinferno/go-apinet/idgenerator"
	"github.com/cyberinferno/go-apinet/message"
)

// httpConn maps HTTP/1.1 requests onto messages: the path names the action and
// the body (or the raw query when the body is empty) is the payload. HTTP has
// no correlation id, so ids are assigned locally and replies must be written in
// request order.
type httpConn struct {
	conn         net.Conn
	r            *bufio.Reader
	maxFrameSize uint32
	writeTimeout time.Duration
	ids          *idgenerator.IdGenerator

	mu sync.Mutex
}

func newHTTPConn(conn net.Conn, r *bufio.Reader, limit uint32, writeTimeout time.Duration) *httpConn {
	return &httpConn{
		conn:         conn,
		r:            r,
		maxFrameSize: limit,
		writeTimeout: writeTimeout,
		ids:          idgenerator.NewIdGenerator(0),
	}
}

// ReadMessage implements Conn. A request without an action is answered with
// 400 and reported as ErrMalformed.
func (c *httpConn) ReadMessage() (*message.Message, error) {
	req, err := http.ReadRequest(c.r)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, int64(c.maxFrameSize)+1))
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}

	if uint64(len(body)) > uint64(c.maxFrameSize) {
		_ = c.writeResponse(http.StatusRequestEntityTooLarge, []byte("request body too large"))
		return nil, fmt.Errorf("%w: http body over %d bytes", ErrFrameTooLarge, c.maxFrameSize)
	}

	action := strings.Trim(req.URL.Path, "/")
	if action == "" {
		_ = c.writeResponse(http.StatusBadRequest, []byte("missing action"))
		return nil, fmt.Errorf("%w: http request without action", ErrMalformed)
	}

	payload := body
	if len(payload) == 0 && req.URL.RawQuery != "" {
		payload = []byte(req.URL.RawQuery)
	}

	return &message.Message{
		ID:      c.ids.Id(),
		Action:  action,
		Payload: payload,
	}, nil
}

// WriteMessage implements Conn. Error replies use their code as the status when
// it is a valid HTTP status, else 500.
func (c *httpConn) WriteMessage(msg *message.Message) error {
	status := http.StatusOK
	if msg.Error {
		status = http.StatusInternalServerError
		if msg.Code >= 100 && msg.Code <= 599 {
			status = int(msg.Code)
		}
	}

	return c.writeResponse(status, msg.Payload)
}

// NoReply implements NoReplier with 204 No Content.
func (c *httpConn) NoReply(*message.Message) error {
	return c.writeResponse(http.StatusNoContent, nil)
}

// Ordered implements Conn.
func (c *httpConn) Ordered() bool {
	return true
}

// Framing implements Conn.
func (c *httpConn) Framing() string {
	return "http"
}

func (c *httpConn) writeResponse(status int, body []byte) error {
	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		ContentLength: int64(len(body)),
	}

	if len(body) > 0 {
		resp.Header.Set("Content-Type", "application/octet-stream")
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}

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

	return resp.Write(c.conn)
}
