package apinet

import (
	"sync"
	"time"

	"github.com/cyberinferno/go-apinet/logger"
)

// IdleMonitor closes sessions that have not received a message for longer than
// Timeout. Sessions with requests still being processed are left alone. It checks every Interval, which defaults to a quarter of Timeout
// bounded to [100ms, 1m].
type IdleMonitor struct {
	Timeout  time.Duration
	Interval time.Duration

	sessions func() []ApiSession
	logger   logger.Logger
	stop     chan struct{}
	done     sync.WaitGroup
	once     sync.Once
}

// NewIdleMonitor returns a stopped monitor over the sessions listed by
// sessions.
func NewIdleMonitor(timeout time.Duration, sessions func() []ApiSession, log logger.Logger) *IdleMonitor {
	interval := min(max(timeout/4, 100*time.Millisecond), time.Minute)

	return &IdleMonitor{
		Timeout:  timeout,
		Interval: interval,
		sessions: sessions,
		logger:   log,
		stop:     make(chan struct{}),
	}
}

// Start launches the polling goroutine.
func (m *IdleMonitor) Start() {
	m.done.Add(1)
	go func() {
		defer m.done.Done()

		ticker := time.NewTicker(m.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case now := <-ticker.C:
				m.Sweep(now)
			}
		}
	}()
}

// Stop ends polling and waits for the goroutine to exit. Safe to call more
// than once.
func (m *IdleMonitor) Stop() {
	m.once.Do(func() {
		close(m.stop)
	})
	m.done.Wait()
}

// Sweep closes every session idle at now and returns how many it closed.
func (m *IdleMonitor) Sweep(now time.Time) int {
	closed := 0
	for _, session := range m.sessions() {
		idle := now.Sub(session.LastActive())
		if idle <= m.Timeout || session.InFlight() > 0 {
			continue
		}

		m.logger.Info("closing idle session",
			logger.Field{Key: "session_id", Value: session.ID()},
			logger.Field{Key: "idle", Value: idle.Round(time.Millisecond).String()})
		_ = session.Close()
		closed++
	}

	return closed
}
