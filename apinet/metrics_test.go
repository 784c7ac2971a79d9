package apinet

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test")
	require.NoError(t, m.Register(reg))

	t.Run("twice is an error", func(t *testing.T) {
		assert.Error(t, m.Register(reg))
	})

	t.Run("same server name conflicts within a registry", func(t *testing.T) {
		assert.Error(t, NewMetrics("test").Register(reg))
		assert.NoError(t, NewMetrics("other").Register(prometheus.NewRegistry()))
	})
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.sessionOpened()
		m.sessionClosed()
		m.requestDone("Echo", true, "ok", 0)
		m.replyDropped()
	})
}

func TestMetrics_Session(t *testing.T) {
	srv := newTestServer(t, testConfig(), echoAction())
	srv.Metrics = NewMetrics("test")

	t.Run("sessions gauge follows start and close", func(t *testing.T) {
		s := newBoundSession(t, srv, &recordingConn{})
		assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics.sessions))

		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		assert.Equal(t, 0.0, testutil.ToFloat64(srv.Metrics.sessions))

		require.NoError(t, newSession(2, nil, srv).Close())
		assert.Equal(t, 0.0, testutil.ToFloat64(srv.Metrics.sessions), "unstarted sessions are not counted")
	})

	t.Run("requests by action and outcome", func(t *testing.T) {
		s := newBoundSession(t, srv, &recordingConn{})
		defer s.Close()

		s.OnReceive(request(1, "echo", "a"))
		s.OnReceive(request(2, "Echo", "b"))
		s.OnReceive(request(3, "Nope", ""))
		s.OnReceive(request(4, "Other", ""))
		oneWay := request(5, "Echo", "c")
		oneWay.OneWay = true
		s.OnReceive(oneWay)

		assert.Equal(t, 2.0, testutil.ToFloat64(srv.Metrics.requests.WithLabelValues("Echo", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics.requests.WithLabelValues("Echo", "none")))
		assert.Equal(t, 2.0, testutil.ToFloat64(srv.Metrics.requests.WithLabelValues(unknownActionLabel, "error")))
		assert.Equal(t, 2, testutil.CollectAndCount(srv.Metrics.duration))
	})

	t.Run("dropped replies", func(t *testing.T) {
		s := newBoundSession(t, srv, &recordingConn{err: errors.New("broken pipe")})
		defer s.Close()

		before := srv.DroppedReplies()
		s.OnReceive(request(1, "Echo", "x"))
		assert.Equal(t, before+1, srv.DroppedReplies())
		assert.Equal(t, float64(before+1), testutil.ToFloat64(srv.Metrics.dropped))
	})
}
