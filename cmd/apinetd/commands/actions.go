package commands

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cyberinferno/go-apinet/apinet"
)

const counterKey = "counter"

// demoActions are the actions served by apinetd.
func demoActions() []apinet.Action {
	return []apinet.Action{
		apinet.NewAction("Echo", echo),
		apinet.NewAction("Sleep", sleep),
		apinet.NewAction("User/Login", login),
		apinet.NewControllerAction("Counter/Add", newCounterController, (*counterController).Add),
		apinet.NewBoundAction("Time/Now", &clock{now: time.Now}, (*clock).Now),
	}
}

func echo(ctx context.Context, call *apinet.Call) ([]byte, error) {
	return call.Args(), nil
}

// sleep waits for the duration in the payload (default 500ms).
func sleep(ctx context.Context, call *apinet.Call) ([]byte, error) {
	d := 500 * time.Millisecond
	if arg := strings.TrimSpace(string(call.Args())); arg != "" {
		parsed, err := time.ParseDuration(arg)
		if err != nil || parsed < 0 {
			return nil, apinet.NewApiError(apinet.CodeBadRequest, "invalid duration %q", arg)
		}
		d = parsed
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return []byte("slept " + d.String()), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// login stores the payload as the session token and returns the session key.
func login(ctx context.Context, call *apinet.Call) ([]byte, error) {
	user := strings.TrimSpace(string(call.Args()))
	if user == "" {
		return nil, apinet.NewApiError(apinet.CodeBadRequest, "user required")
	}

	call.Session.SetToken(user)
	return []byte(call.Session.Key()), nil
}

// counterController keeps a per-session counter in the session scratch data.
type counterController struct {
	createdAt time.Time
}

func newCounterController() (*counterController, error) {
	return &counterController{createdAt: time.Now()}, nil
}

// Add adds the payload (default 1) to the session counter.
func (c *counterController) Add(ctx context.Context, call *apinet.Call) ([]byte, error) {
	delta := int64(1)
	if arg := strings.TrimSpace(string(call.Args())); arg != "" {
		parsed, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, apinet.NewApiError(apinet.CodeBadRequest, "invalid delta %q", arg)
		}
		delta = parsed
	}

	total := counterValue(call.Session.Item(counterKey)) + delta
	call.Session.Set(counterKey, total)
	return []byte(strconv.FormatInt(total, 10)), nil
}

// counterValue reads the counter whether it was stored in process or came
// back from a JSON-encoding store as a float.
func counterValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

type clock struct {
	now func() time.Time
}

func (c *clock) Now(ctx context.Context, call *apinet.Call) ([]byte, error) {
	return []byte(c.now().UTC().Format(time.RFC3339Nano)), nil
}
