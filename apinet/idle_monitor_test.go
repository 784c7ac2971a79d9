package apinet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-apinet/logger"
)

func TestNewIdleMonitor(t *testing.T) {
	none := func() []ApiSession { return nil }

	assert.Equal(t, 100*time.Millisecond, NewIdleMonitor(200*time.Millisecond, none, logger.NewNopLogger()).Interval)
	assert.Equal(t, 5*time.Second, NewIdleMonitor(20*time.Second, none, logger.NewNopLogger()).Interval)
	assert.Equal(t, time.Minute, NewIdleMonitor(time.Hour, none, logger.NewNopLogger()).Interval)
}

func TestIdleMonitor_Sweep(t *testing.T) {
	srv := newTestServer(t, testConfig())
	fresh := newBoundSession(t, srv, &recordingConn{})
	stale := newBoundSession(t, srv, &recordingConn{})
	stale.lastActive.Store(time.Now().Add(-time.Minute).UnixNano())

	m := NewIdleMonitor(10*time.Second, func() []ApiSession {
		return []ApiSession{fresh, stale}
	}, logger.NewNopLogger())

	assert.Equal(t, 1, m.Sweep(time.Now()))
	assert.True(t, stale.Closed())
	assert.False(t, fresh.Closed())

	assert.Equal(t, 2, m.Sweep(time.Now().Add(time.Hour)))
	assert.True(t, fresh.Closed())
}

func TestIdleMonitor_SweepSkipsBusySessions(t *testing.T) {
	srv := newTestServer(t, testConfig())
	busy := newBoundSession(t, srv, &recordingConn{})
	busy.lastActive.Store(time.Now().Add(-time.Minute).UnixNano())
	busy.running.Add(1)

	m := NewIdleMonitor(10*time.Second, func() []ApiSession {
		return []ApiSession{busy}
	}, logger.NewNopLogger())

	assert.Equal(t, 0, m.Sweep(time.Now()))
	assert.False(t, busy.Closed())

	busy.running.Add(-1)
	assert.Equal(t, 1, m.Sweep(time.Now()))
	assert.True(t, busy.Closed())
}

func TestIdleMonitor_StartStop(t *testing.T) {
	m := NewIdleMonitor(time.Second, func() []ApiSession { return nil }, logger.NewNopLogger())
	m.Start()
	m.Stop()
	assert.NotPanics(t, m.Stop)
}

func TestServer_SessionTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = 200 * time.Millisecond
	srv := startServer(t, cfg, echoAction())

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(request(1, "Echo", "hi")))
	_, err := conn.ReadMessage()
	require.NoError(t, err)

	_, err = conn.ReadMessage()
	assert.Error(t, err, "idle session is closed by the server")

	assert.Eventually(t, func() bool {
		return len(srv.AllSessions()) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServer_SessionTimeoutWaitsForRunningRequest(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = 200 * time.Millisecond
	srv := startServer(t, cfg, sleepAction("Sleep500ms", 500*time.Millisecond))

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(request(7, "Sleep500ms", "")))

	reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), reply.ID)
	assert.Equal(t, []byte("slept"), reply.Payload)
}
