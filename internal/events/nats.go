package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"mode-calibrator/internal/logging"
)

// LossCounter is told about events the NATS client dropped before they were
// read.
type LossCounter interface {
	EventsLostAdd(n int)
}

// NATSSource consumes events published by the simulation on a NATS subject.
// Messages that fail to decode are logged and dropped.
type NATSSource struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	msgs   chan *nats.Msg
	closed chan struct{}
	lost   LossCounter
	logger *slog.Logger

	mu       sync.Mutex
	reported int // dropped messages already logged and counted
}

// NewNATSSource connects to url and subscribes to subject. buffer is the
// subscription's pending limit: messages arriving while it is full are dropped
// by the client, logged and added to lost.
func NewNATSSource(url, subject string, buffer int, lost LossCounter, logger *slog.Logger) (*NATSSource, error) {
	logger = logging.OrDefault(logger)
	if buffer <= 0 {
		buffer = 65536
	}
	s := &NATSSource{
		msgs:   make(chan *nats.Msg, buffer),
		closed: make(chan struct{}),
		lost:   lost,
		logger: logger,
	}
	nc, err := nats.Connect(url,
		nats.Name("mode-calibrator-events"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats events disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats events reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats events closed")
			close(s.closed)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			s.asyncError(err, dropped(sub))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	// A channel subscription's pending limit is the channel capacity;
	// SetPendingLimits does not apply to it.
	sub, err := nc.ChanSubscribe(subject, s.msgs)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %q: %w", subject, err)
	}
	s.nc = nc
	s.sub = sub
	logger.Info("subscribed to simulation events", "subject", subject, "buffer", buffer)
	return s, nil
}

func dropped(sub *nats.Subscription) int {
	if sub == nil {
		return -1
	}
	n, err := sub.Dropped()
	if err != nil {
		return -1
	}
	return n
}

// asyncError handles errors reported by the client outside of Next.
func (s *NATSSource) asyncError(err error, dropped int) {
	if !errors.Is(err, nats.ErrSlowConsumer) {
		logging.LogError(s.logger, "nats events error", err)
		return
	}
	if s.reportDropped(dropped) > 0 {
		return
	}
	if dropped < 0 {
		// the count is unknown, at least one message is gone
		s.countLost(1)
	}
	logging.LogError(s.logger, "events dropped, consumer too slow", err)
}

// reportDropped logs and counts the part of the subscription's cumulative drop
// count not reported yet. It returns that delta.
func (s *NATSSource) reportDropped(total int) int {
	s.mu.Lock()
	delta := total - s.reported
	if delta > 0 {
		s.reported = total
	}
	s.mu.Unlock()
	if delta <= 0 {
		return 0
	}
	s.countLost(delta)
	logging.LogError(s.logger, "events dropped, consumer too slow", nats.ErrSlowConsumer,
		slog.Int("dropped", delta), slog.Int("droppedTotal", total))
	return delta
}

func (s *NATSSource) countLost(n int) {
	if s.lost != nil {
		s.lost.EventsLostAdd(n)
	}
}

func (s *NATSSource) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case msg := <-s.msgs:
			if ev, ok := s.decode(msg); ok {
				return ev, nil
			}
		case <-s.closed:
			// hand out what was delivered before the connection closed
			select {
			case msg := <-s.msgs:
				if ev, ok := s.decode(msg); ok {
					return ev, nil
				}
			default:
				return Event{}, io.EOF
			}
		}
	}
}

func (s *NATSSource) decode(msg *nats.Msg) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logging.LogError(s.logger, "dropping undecodable event", err, slog.String("subject", msg.Subject))
		return Event{}, false
	}
	if err := ev.Validate(); err != nil {
		logging.LogError(s.logger, "dropping invalid event", err, slog.String("subject", msg.Subject))
		return Event{}, false
	}
	// The client only signals the start of a slow-consumer episode, so the
	// drop count is checked again at every iteration boundary.
	if ev.Kind == KindIterationEnd && s.sub != nil {
		s.reportDropped(dropped(s.sub))
	}
	return ev, true
}

func (s *NATSSource) Close() error {
	if s.nc == nil {
		return nil
	}
	s.reportDropped(dropped(s.sub))
	if err := s.sub.Unsubscribe(); err != nil {
		s.logger.Warn("nats unsubscribe failed", "error", err)
	}
	s.nc.Close()
	return nil
}
