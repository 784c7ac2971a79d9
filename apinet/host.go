package apinet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cyberinferno/go-apinet/logger"
	"github.com/cyberinferno/go-apinet/message"
)

// Names of the actions every ApiHost registers.
const (
	ActionAll  = "Api/All"
	ActionInfo = "Api/Info"
)

// Host is the application side of a server: it supplies the message codec and
// the action registry and turns each request into an optional reply.
type Host interface {
	// GetMessageCodec returns the stage-2 codec installed on every connection.
	GetMessageCodec() message.Codec
	// Manager returns the action registry used by Session.FindAction.
	Manager() *ActionManager
	// Process executes msg for session and returns the reply, or nil when no
	// reply should be sent.
	Process(ctx context.Context, session ApiSession, msg *message.Message) *message.Message
}

// ApiHost is the default Host. It resolves the action, obtains the controller,
// runs the handler and converts failures into error replies so that one bad
// request never affects the session.
type ApiHost struct {
	codec   message.Codec
	manager *ActionManager
	logger  logger.Logger
}

// NewApiHost builds a host serving actions plus the built-in Api/All and
// Api/Info actions.
//
// Parameters:
//   - codec: The message codec; nil selects message.NewBinaryCodec
//   - log: Logger for handler failures
//   - actions: The application actions
//
// Returns:
//   - The host
//   - An error if the actions cannot be registered
func NewApiHost(codec message.Codec, log logger.Logger, actions ...Action) (*ApiHost, error) {
	if codec == nil {
		codec = message.NewBinaryCodec()
	}

	h := &ApiHost{codec: codec, logger: log}

	all := append(h.builtinActions(), actions...)
	manager, err := NewActionManager(all...)
	if err != nil {
		return nil, err
	}

	h.manager = manager
	return h, nil
}

// GetMessageCodec implements Host.
func (h *ApiHost) GetMessageCodec() message.Codec {
	return h.codec
}

// Manager implements Host.
func (h *ApiHost) Manager() *ActionManager {
	return h.manager
}

// Process implements Host.
func (h *ApiHost) Process(ctx context.Context, session ApiSession, msg *message.Message) *message.Message {
	action, ok := session.FindAction(msg.Action)
	if !ok {
		return h.fail(msg, NewApiError(CodeNotFound, "action %s not found", msg.Action))
	}

	controller, err := session.CreateController(action)
	if err != nil {
		h.logger.Warn("controller construction failed",
			logger.Field{Key: "action", Value: action.Name},
			logger.Field{Key: "session_id", Value: session.ID()},
			logger.Err(err))
		return h.fail(msg, err)
	}

	result, err := h.invoke(ctx, action, &Call{Session: session, Controller: controller, Message: msg})
	if err != nil {
		var apiErr *ApiError
		if !errors.As(err, &apiErr) {
			h.logger.Warn("action failed",
				logger.Field{Key: "action", Value: action.Name},
				logger.Field{Key: "session_id", Value: session.ID()},
				logger.Err(err))
		}

		return h.fail(msg, err)
	}

	if msg.OneWay || result == nil {
		return nil
	}

	return msg.CreateReply(result)
}

func (h *ApiHost) invoke(ctx context.Context, action *Action, call *Call) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("action panicked",
				logger.Field{Key: "action", Value: action.Name},
				logger.Field{Key: "panic", Value: fmt.Sprint(r)},
				logger.Field{Key: "stack", Value: string(debug.Stack())})
			err = NewApiError(CodeInternal, "action %s panicked", action.Name)
		}
	}()

	return action.Handler(ctx, call)
}

func (h *ApiHost) fail(msg *message.Message, err error) *message.Message {
	if msg.OneWay {
		return nil
	}

	code, text := errorCode(err)
	return msg.CreateError(code, text)
}

// SessionInfo is the Api/Info result.
type SessionInfo struct {
	ID         uint32    `json:"id"`
	Key        string    `json:"key"`
	Token      string    `json:"token,omitempty"`
	Remote     string    `json:"remote,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Sessions   int       `json:"sessions"`
	Actions    int       `json:"actions"`
}

func (h *ApiHost) builtinActions() []Action {
	return []Action{
		NewAction(ActionAll, func(ctx context.Context, call *Call) ([]byte, error) {
			return json.Marshal(h.manager.Names())
		}),
		NewAction(ActionInfo, func(ctx context.Context, call *Call) ([]byte, error) {
			s := call.Session
			info := SessionInfo{
				ID:         s.ID(),
				Key:        s.Key(),
				Token:      s.Token(),
				CreatedAt:  s.CreatedAt(),
				LastActive: s.LastActive(),
				Sessions:   len(s.AllSessions()),
				Actions:    h.manager.Len(),
			}
			if addr := s.RemoteAddr(); addr != nil {
				info.Remote = addr.String()
			}

			return json.Marshal(info)
		}),
	}
}
