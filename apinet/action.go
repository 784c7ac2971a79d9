package apinet

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cyberinferno/go-apinet/message"
)

// Call carries one request to a handler.
type Call struct {
	// Session is the session the request arrived on.
	Session ApiSession
	// Controller is the instance returned by CreateController; nil for
	// stateless actions.
	Controller any
	// Message is the decoded request.
	Message *message.Message
}

// Args returns the request payload.
func (c *Call) Args() []byte {
	return c.Message.Payload
}

// HandlerFunc executes an action. A nil result with a nil error means the
// request expects no reply.
type HandlerFunc func(ctx context.Context, call *Call) ([]byte, error)

// Action is a named handler plus the way to obtain its controller: a
// pre-bound instance, a factory, or neither for stateless handlers. Actions
// are immutable once registered.
type Action struct {
	Name       string
	Controller any
	New        func() (any, error)
	Handler    HandlerFunc
}

// NewAction returns a stateless action.
func NewAction(name string, handler HandlerFunc) Action {
	return Action{Name: name, Handler: handler}
}

// NewControllerAction returns an action whose controller is created per
// request by factory and whose handler is a method on that controller.
//
// Parameters:
//   - name: The action name
//   - factory: Builds a fresh controller for every request
//   - method: The handler, typically a method expression such as (*Counter).Add
//
// Returns:
//   - The action
func NewControllerAction[T any](
	name string,
	factory func() (*T, error),
	method func(*T, context.Context, *Call) ([]byte, error),
) Action {
	return Action{
		Name: name,
		New: func() (any, error) {
			return factory()
		},
		Handler: bindMethod(name, method),
	}
}

// NewBoundAction returns an action whose handler always runs on instance.
// The instance is shared by every session and request, so it must be safe for
// concurrent use when multiplexing is enabled.
//
// Parameters:
//   - name: The action name
//   - instance: The pre-bound controller
//   - method: The handler, typically a method expression
//
// Returns:
//   - The action
func NewBoundAction[T any](
	name string,
	instance *T,
	method func(*T, context.Context, *Call) ([]byte, error),
) Action {
	return Action{
		Name:       name,
		Controller: instance,
		Handler:    bindMethod(name, method),
	}
}

func bindMethod[T any](name string, method func(*T, context.Context, *Call) ([]byte, error)) HandlerFunc {
	return func(ctx context.Context, call *Call) ([]byte, error) {
		controller, ok := call.Controller.(*T)
		if !ok || controller == nil {
			return nil, fmt.Errorf("%w: %s got %T", ErrControllerType, name, call.Controller)
		}

		return method(controller, ctx, call)
	}
}

// ActionManager resolves action names to actions. It is built once and never
// modified, so lookups need no locking. Names are matched case-insensitively.
type ActionManager struct {
	actions map[string]*Action
	names   []string
}

// NewActionManager builds the registry.
//
// Parameters:
//   - actions: The actions to register
//
// Returns:
//   - The manager
//   - An error if a name is empty, a handler is missing, or two names collide
func NewActionManager(actions ...Action) (*ActionManager, error) {
	m := &ActionManager{
		actions: make(map[string]*Action, len(actions)),
		names:   make([]string, 0, len(actions)),
	}

	for i := range actions {
		action := actions[i]
		name := strings.TrimSpace(action.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty name at index %d", ErrInvalidAction, i)
		}

		if action.Handler == nil {
			return nil, fmt.Errorf("%w: %s has no handler", ErrInvalidAction, name)
		}

		key := strings.ToLower(name)
		if _, exists := m.actions[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAction, name)
		}

		action.Name = name
		m.actions[key] = &action
		m.names = append(m.names, name)
	}

	sort.Strings(m.names)
	return m, nil
}

// Find returns the action registered under name. Unknown names are a normal
// outcome and yield false.
func (m *ActionManager) Find(name string) (*Action, bool) {
	if m == nil {
		return nil, false
	}

	action, ok := m.actions[strings.ToLower(strings.TrimSpace(name))]
	return action, ok
}

// Names returns the registered names in sorted order.
func (m *ActionManager) Names() []string {
	names := make([]string, len(m.names))
	copy(names, m.names)
	return names
}

// Len returns the number of registered actions.
func (m *ActionManager) Len() int {
	return len(m.actions)
}
