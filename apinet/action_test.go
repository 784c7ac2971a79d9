package apinet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-apinet/message"
)

type counter struct {
	n int
}

func (c *counter) Inc(ctx context.Context, call *Call) ([]byte, error) {
	c.n++
	return []byte{byte(c.n)}, nil
}

func noopHandler(ctx context.Context, call *Call) ([]byte, error) {
	return nil, nil
}

func TestNewActionManager(t *testing.T) {
	t.Run("registers actions and sorts names", func(t *testing.T) {
		m, err := NewActionManager(
			NewAction("Zeta", noopHandler),
			NewAction("alpha", noopHandler),
			NewAction("  Mid  ", noopHandler),
		)
		require.NoError(t, err)
		assert.Equal(t, 3, m.Len())
		assert.Equal(t, []string{"Mid", "Zeta", "alpha"}, m.Names())
	})

	t.Run("rejects empty names", func(t *testing.T) {
		_, err := NewActionManager(NewAction(" ", noopHandler))
		assert.ErrorIs(t, err, ErrInvalidAction)
	})

	t.Run("rejects missing handlers", func(t *testing.T) {
		_, err := NewActionManager(Action{Name: "NoHandler"})
		assert.ErrorIs(t, err, ErrInvalidAction)
	})

	t.Run("rejects duplicates regardless of case", func(t *testing.T) {
		_, err := NewActionManager(NewAction("Echo", noopHandler), NewAction("ECHO", noopHandler))
		assert.ErrorIs(t, err, ErrDuplicateAction)
	})

	t.Run("empty registry is valid", func(t *testing.T) {
		m, err := NewActionManager()
		require.NoError(t, err)
		assert.Equal(t, 0, m.Len())
		assert.Empty(t, m.Names())
	})
}

func TestActionManager_Find(t *testing.T) {
	m, err := NewActionManager(NewAction("User/Login", noopHandler))
	require.NoError(t, err)

	t.Run("matches case-insensitively", func(t *testing.T) {
		for _, name := range []string{"User/Login", "user/login", "USER/LOGIN", " User/Login "} {
			action, ok := m.Find(name)
			require.True(t, ok, name)
			assert.Equal(t, "User/Login", action.Name)
		}
	})

	t.Run("unknown name is absent", func(t *testing.T) {
		action, ok := m.Find("User/Logout")
		assert.False(t, ok)
		assert.Nil(t, action)
	})

	t.Run("nil manager finds nothing", func(t *testing.T) {
		var nilManager *ActionManager
		_, ok := nilManager.Find("User/Login")
		assert.False(t, ok)
	})

	t.Run("names cannot be mutated by callers", func(t *testing.T) {
		names := m.Names()
		names[0] = "changed"
		assert.Equal(t, []string{"User/Login"}, m.Names())
	})
}

func TestNewControllerAction(t *testing.T) {
	created := 0
	action := NewControllerAction("Counter/Inc", func() (*counter, error) {
		created++
		return &counter{}, nil
	}, (*counter).Inc)

	t.Run("factory builds a fresh controller", func(t *testing.T) {
		c1, err := action.New()
		require.NoError(t, err)
		c2, err := action.New()
		require.NoError(t, err)
		assert.NotSame(t, c1, c2)
		assert.Equal(t, 2, created)
	})

	t.Run("handler runs on the controller", func(t *testing.T) {
		c := &counter{n: 4}
		result, err := action.Handler(context.Background(), &Call{Controller: c, Message: &message.Message{}})
		require.NoError(t, err)
		assert.Equal(t, []byte{5}, result)
	})

	t.Run("handler rejects a foreign controller", func(t *testing.T) {
		_, err := action.Handler(context.Background(), &Call{Controller: "nope", Message: &message.Message{}})
		assert.ErrorIs(t, err, ErrControllerType)
	})

	t.Run("factory error propagates", func(t *testing.T) {
		failing := NewControllerAction("Counter/Fail", func() (*counter, error) {
			return nil, errors.New("boom")
		}, (*counter).Inc)
		_, err := failing.New()
		assert.EqualError(t, err, "boom")
	})
}

func TestNewBoundAction(t *testing.T) {
	shared := &counter{}
	action := NewBoundAction("Counter/Shared", shared, (*counter).Inc)

	assert.Same(t, shared, action.Controller)
	assert.Nil(t, action.New)

	_, err := action.Handler(context.Background(), &Call{Controller: shared, Message: &message.Message{}})
	require.NoError(t, err)
	_, err = action.Handler(context.Background(), &Call{Controller: shared, Message: &message.Message{}})
	require.NoError(t, err)
	assert.Equal(t, 2, shared.n)
}

func TestCall_Args(t *testing.T) {
	call := &Call{Message: &message.Message{Payload: []byte("args")}}
	assert.Equal(t, []byte("args"), call.Args())
}
