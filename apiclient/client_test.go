package apiclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-apinet/apinet"
	"github.com/cyberinferno/go-apinet/logger"
)

func startServer(t *testing.T, multiplex bool, actions ...apinet.Action) *apinet.Server {
	t.Helper()
	host, err := apinet.NewApiHost(nil, logger.NewNopLogger(), actions...)
	require.NoError(t, err)

	cfg := apinet.DefaultConfig()
	cfg.Multiplex = multiplex
	srv := apinet.NewServer(cfg, logger.NewNopLogger())
	require.NoError(t, srv.Init("127.0.0.1:0", host))
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func connect(t *testing.T, srv *apinet.Server, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig(srv.Addr().String())
	for _, m := range mutate {
		m(&cfg)
	}

	client := NewClient(cfg)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func echo() apinet.Action {
	return apinet.NewAction("Echo", func(ctx context.Context, call *apinet.Call) ([]byte, error) {
		return call.Args(), nil
	})
}

func sleep(d time.Duration) apinet.Action {
	return apinet.NewAction("Sleep", func(ctx context.Context, call *apinet.Call) ([]byte, error) {
		time.Sleep(d)
		return []byte("slept"), nil
	})
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Reconnecting", Reconnecting.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", ConnectionState(42).String())
}

func TestClient_Connect(t *testing.T) {
	srv := startServer(t, false, echo())

	t.Run("reports state changes", func(t *testing.T) {
		var mu sync.Mutex
		var states []ConnectionState

		client := NewClient(DefaultConfig(srv.Addr().String()))
		client.OnConnectionState(func(event ConnectionStateEvent) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, event.State)
		})
		require.NoError(t, client.Connect(context.Background()))
		assert.True(t, client.IsConnected())

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(states) == 2
		}, time.Second, 10*time.Millisecond)
		mu.Lock()
		assert.ElementsMatch(t, []ConnectionState{Connecting, Connected}, states)
		mu.Unlock()

		require.NoError(t, client.Close())
		assert.Equal(t, Closed, client.GetState())
	})

	t.Run("second connect fails", func(t *testing.T) {
		client := connect(t, srv)
		assert.ErrorIs(t, client.Connect(context.Background()), ErrAlreadyConnected)
	})

	t.Run("concurrent connects dial once", func(t *testing.T) {
		client := NewClient(DefaultConfig(srv.Addr().String()))
		t.Cleanup(func() { _ = client.Close() })

		const callers = 8
		start := make(chan struct{})
		results := make(chan error, callers)
		for range callers {
			go func() {
				<-start
				results <- client.Connect(context.Background())
			}()
		}
		close(start)

		succeeded := 0
		for range callers {
			err := <-results
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrAlreadyConnected)
		}
		assert.Equal(t, 1, succeeded)
		assert.True(t, client.IsConnected())
	})

	t.Run("connect after close fails", func(t *testing.T) {
		client := NewClient(DefaultConfig(srv.Addr().String()))
		require.NoError(t, client.Close())
		assert.ErrorIs(t, client.Connect(context.Background()), ErrClientClosed)
		assert.NoError(t, client.Close())
	})

	t.Run("dial failure reports an error", func(t *testing.T) {
		errs := make(chan error, 1)
		cfg := DefaultConfig("127.0.0.1:1")
		cfg.ConnectionTimeout = time.Second
		client := NewClient(cfg)
		client.OnError(func(event ErrorEvent) { errs <- event.Error })

		assert.Error(t, client.Connect(context.Background()))
		assert.Equal(t, Disconnected, client.GetState())
		select {
		case err := <-errs:
			assert.Error(t, err)
		case <-time.After(time.Second):
			t.Fatal("no error event")
		}
	})
}

func TestClient_Invoke(t *testing.T) {
	t.Run("echo", func(t *testing.T) {
		srv := startServer(t, false, echo())
		client := connect(t, srv)

		result, err := client.Invoke(context.Background(), "Echo", []byte("hi"))
		require.NoError(t, err)
		assert.Equal(t, []byte("hi"), result)
		assert.Equal(t, 0, client.Pending())
	})

	t.Run("error reply is a remote error", func(t *testing.T) {
		srv := startServer(t, false, echo())
		client := connect(t, srv)

		_, err := client.Invoke(context.Background(), "Missing", nil)
		var remote *RemoteError
		require.True(t, errors.As(err, &remote))
		assert.Equal(t, apinet.CodeNotFound, remote.Code)
		assert.Equal(t, "Missing", remote.Action)
	})

	t.Run("concurrent calls are matched by id", func(t *testing.T) {
		srv := startServer(t, true, echo(), sleep(200*time.Millisecond))
		client := connect(t, srv)

		var wg sync.WaitGroup
		slow := make(chan []byte, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := client.Invoke(context.Background(), "Sleep", nil)
			assert.NoError(t, err)
			slow <- result
		}()

		results := make([][]byte, 10)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := client.Invoke(context.Background(), "Echo", []byte{byte(i)})
				assert.NoError(t, err)
				results[i] = result
			}()
		}
		wg.Wait()

		for i, result := range results {
			assert.Equal(t, []byte{byte(i)}, result)
		}
		assert.Equal(t, []byte("slept"), <-slow)
	})

	t.Run("context cancellation stops waiting", func(t *testing.T) {
		srv := startServer(t, false, sleep(500*time.Millisecond))
		client := connect(t, srv)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := client.Invoke(ctx, "Sleep", nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, client.Pending())
	})

	t.Run("lost connection fails pending calls", func(t *testing.T) {
		srv := startServer(t, false, sleep(500*time.Millisecond))
		client := connect(t, srv)

		go func() {
			assert.Eventually(t, func() bool { return client.Pending() == 1 }, time.Second, 5*time.Millisecond)
			for _, s := range srv.AllSessions() {
				_ = s.Close()
			}
		}()

		_, err := client.Invoke(context.Background(), "Sleep", nil)
		assert.ErrorIs(t, err, ErrConnectionClosed)
		assert.Eventually(t, func() bool { return client.GetState() == Disconnected }, time.Second, 10*time.Millisecond)
	})

	t.Run("not connected", func(t *testing.T) {
		client := NewClient(DefaultConfig("127.0.0.1:1"))
		_, err := client.Invoke(context.Background(), "Echo", nil)
		assert.ErrorIs(t, err, ErrNotConnected)

		require.NoError(t, client.Close())
		_, err = client.Invoke(context.Background(), "Echo", nil)
		assert.ErrorIs(t, err, ErrClientClosed)
	})
}

func TestClient_Notify(t *testing.T) {
	received := make(chan string, 1)
	srv := startServer(t, false, apinet.NewAction("Log", func(ctx context.Context, call *apinet.Call) ([]byte, error) {
		received <- string(call.Args())
		return []byte("ignored"), nil
	}), echo())
	client := connect(t, srv)

	require.NoError(t, client.Notify("Log", []byte("event")))
	select {
	case got := <-received:
		assert.Equal(t, "event", got)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	// The one-way call produced no reply, so the next reply belongs to Echo.
	result, err := client.Invoke(context.Background(), "Echo", []byte("after"))
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), result)
}

func TestClient_Disconnect(t *testing.T) {
	srv := startServer(t, false, echo())
	client := connect(t, srv)

	require.NoError(t, client.Disconnect())
	assert.Equal(t, Disconnected, client.GetState())
	require.NoError(t, client.Disconnect())

	require.NoError(t, client.Connect(context.Background()))
	result, err := client.Invoke(context.Background(), "Echo", []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), result)
}

func TestClient_AutoReconnect(t *testing.T) {
	srv := startServer(t, false, echo())
	client := connect(t, srv, func(c *Config) {
		c.AutoReconnect = true
		c.ReconnectInterval = 50 * time.Millisecond
	})

	_, err := client.Invoke(context.Background(), "Echo", []byte("1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(srv.AllSessions()) == 1 }, time.Second, 10*time.Millisecond)
	first := srv.AllSessions()[0].ID()
	for _, s := range srv.AllSessions() {
		_ = s.Close()
	}

	require.Eventually(t, func() bool {
		sessions := srv.AllSessions()
		return client.IsConnected() && len(sessions) == 1 && sessions[0].ID() != first
	}, 2*time.Second, 10*time.Millisecond)

	result, err := client.Invoke(context.Background(), "Echo", []byte("2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), result)
}
