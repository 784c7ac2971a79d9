package apinet

import (
	"github.com/cyberinferno/go-apinet/codec"
	"github.com/cyberinferno/go-apinet/logger"
	"github.com/cyberinferno/go-apinet/message"
	"github.com/cyberinferno/go-apinet/perfmonitor"
)

// OnReceive is the dispatch entry point for every message read from the
// connection. nil means the frame did not decode. Undecodable messages and
// replies are dropped; everything else is processed inline or, when the
// server multiplexes and the framing carries correlation ids, on the server's
// worker pool.
func (s *Session) OnReceive(msg *message.Message) {
	s.touch()

	if msg == nil {
		return
	}

	if msg.Reply {
		s.logger.Debug("reply discarded", logger.Field{Key: "message", Value: msg.String()})
		return
	}

	if s.server.Multiplex() && !s.conn.Ordered() {
		s.server.submit(func() {
			s.process(msg)
		})
		return
	}

	s.process(msg)
}

// process runs one request through the host and writes the reply, if any.
func (s *Session) process(msg *message.Message) {
	s.running.Add(1)
	defer s.running.Add(-1)

	if s.inFlight.TryAdd(msg.ID) {
		defer s.inFlight.Remove(msg.ID)
	} else {
		s.logger.Warn("correlation id already in flight", logger.Field{Key: "id", Value: msg.ID})
	}

	pm := perfmonitor.NewPerformanceMonitor()
	pm.Start()
	reply := s.host.Process(s.server.ctx, s, msg)
	pm.Stop()

	s.logger.Debug("request processed",
		logger.Field{Key: "message", Value: msg.String()},
		logger.Field{Key: "elapsed_ms", Value: pm.ElapsedMilliseconds()})

	if s.server.Metrics != nil {
		action, known := s.FindAction(msg.Action)
		name := msg.Action
		if known {
			name = action.Name
		}
		s.server.Metrics.requestDone(name, known, outcome(reply), pm.Elapsed())
	}

	if reply != nil {
		s.write(msg, func() error { return s.conn.WriteMessage(reply) })
		return
	}

	if nr, ok := s.conn.(codec.NoReplier); ok {
		s.write(msg, func() error { return nr.NoReply(msg) })
	}
}

// write performs a reply write. Failures are not propagated: the client has
// gone or the connection is broken, and the read loop will notice.
func (s *Session) write(req *message.Message, fn func() error) {
	if s.closed.Load() {
		s.dropReply()
		s.logger.Debug("reply dropped on closed session", logger.Field{Key: "id", Value: req.ID})
		return
	}

	if err := fn(); err != nil {
		s.dropReply()
		s.logger.Debug("reply write failed", logger.Field{Key: "id", Value: req.ID}, logger.Err(err))
	}
}

func (s *Session) dropReply() {
	s.server.dropped.Add(1)
	s.server.Metrics.replyDropped()
}

func outcome(reply *message.Message) string {
	switch {
	case reply == nil:
		return "none"
	case reply.Error:
		return "error"
	default:
		return "ok"
	}
}
