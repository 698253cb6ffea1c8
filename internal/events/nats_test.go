package events

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mode-calibrator/internal/logging"
)

type lossCount struct{ n int }

func (l *lossCount) EventsLostAdd(n int) { l.n += n }

func newTestNATSSource(buffer int) (*NATSSource, *lossCount, *bytes.Buffer) {
	var logs bytes.Buffer
	lost := &lossCount{}
	return &NATSSource{
		msgs:   make(chan *nats.Msg, buffer),
		closed: make(chan struct{}),
		lost:   lost,
		logger: logging.NewStructuredLogger(&logs, slog.LevelDebug),
	}, lost, &logs
}

func TestNATSSource_DrainsBufferedBeforeEOF(t *testing.T) {
	s, _, logs := newTestNATSSource(8)
	s.msgs <- &nats.Msg{Subject: "sim.events", Data: []byte(`{"type":"departure","person":"1","legMode":"car"}`)}
	s.msgs <- &nats.Msg{Subject: "sim.events", Data: []byte(`not json`)}
	s.msgs <- &nats.Msg{Subject: "sim.events", Data: []byte(`{"type":"iterationend","iteration":4}`)}
	close(s.closed)

	var got []Event
	for {
		ev, err := s.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	assert.Equal(t, []Event{Departure("1", "car", 0), IterationEnd(4)}, got)
	assert.Contains(t, logs.String(), "dropping undecodable event")
}

func TestNATSSource_ContextCancelled(t *testing.T) {
	s, _, _ := newTestNATSSource(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNATSSource_SlowConsumer(t *testing.T) {
	t.Run("counts the drop delta", func(t *testing.T) {
		s, lost, logs := newTestNATSSource(1)
		s.asyncError(nats.ErrSlowConsumer, 5)
		s.asyncError(nats.ErrSlowConsumer, 5)
		assert.Equal(t, 5, lost.n)

		assert.Equal(t, 3, s.reportDropped(8))
		assert.Equal(t, 8, lost.n)
		assert.Contains(t, logs.String(), "events dropped, consumer too slow")
	})

	t.Run("unknown count still records a loss", func(t *testing.T) {
		s, lost, _ := newTestNATSSource(1)
		s.asyncError(nats.ErrSlowConsumer, -1)
		assert.Equal(t, 1, lost.n)
	})

	t.Run("other errors are only logged", func(t *testing.T) {
		s, lost, logs := newTestNATSSource(1)
		s.asyncError(errors.New("permissions violation"), 0)
		assert.Zero(t, lost.n)
		assert.Contains(t, logs.String(), "permissions violation")
	})

	t.Run("nil counter", func(t *testing.T) {
		s, _, _ := newTestNATSSource(1)
		s.lost = nil
		assert.NotPanics(t, func() { s.asyncError(nats.ErrSlowConsumer, 2) })
	})
}
