// Package message defines the request/response envelope exchanged between
// clients and sessions, and the codec that turns it into bytes.
package message

import "fmt"

// Message is a request or response envelope. A response carries the ID of the
// request it answers, so replies can be matched even when concurrent
// execution completes them out of order.
type Message struct {
	// ID is the correlation identifier assigned by the requester.
	ID uint32
	// Reply marks a response. Sessions never dispatch replies.
	Reply bool
	// Error marks a response that carries an error text in Payload and a code in Code.
	Error bool
	// OneWay marks a request that expects no response.
	OneWay bool
	// Code is the error code; only meaningful when Error is set.
	Code int32
	// Action is the name of the action to invoke; replies echo it.
	Action string
	// Payload holds request arguments or the reply result.
	Payload []byte
}

// CreateReply returns a successful reply to m carrying result.
//
// Parameters:
//   - result: The reply payload
//
// Returns:
//   - A reply with m's ID and action
func (m *Message) CreateReply(result []byte) *Message {
	return &Message{
		ID:      m.ID,
		Reply:   true,
		Action:  m.Action,
		Payload: result,
	}
}

// CreateError returns an error reply to m.
//
// Parameters:
//   - code: The protocol error code
//   - text: Human-readable error text, sent as the payload
//
// Returns:
//   - An error reply with m's ID and action
func (m *Message) CreateError(code int32, text string) *Message {
	return &Message{
		ID:      m.ID,
		Reply:   true,
		Error:   true,
		Code:    code,
		Action:  m.Action,
		Payload: []byte(text),
	}
}

// String implements fmt.Stringer for log output; it omits the payload.
func (m *Message) String() string {
	kind := "request"
	if m.Reply {
		kind = "reply"
	}

	if m.Error {
		return fmt.Sprintf("%s#%d %s error=%d", kind, m.ID, m.Action, m.Code)
	}

	return fmt.Sprintf("%s#%d %s (%d bytes)", kind, m.ID, m.Action, len(m.Payload))
}
