package sim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"mode-calibrator/internal/boardings"
	"mode-calibrator/internal/calibration"
	"mode-calibrator/internal/events"
	"mode-calibrator/internal/logging"
	mmetrics "mode-calibrator/internal/metrics"
	"mode-calibrator/internal/trips"
)

// Options configures a Runner.
type Options struct {
	// Workers is the number of shards events are partitioned over by person.
	// Values below 1 mean a single shard processed on the reading goroutine.
	Workers         int
	Trips           trips.Config
	Index           *boardings.LineIndex
	OperatorPattern string
	// QueueSize is the per-shard channel buffer.
	QueueSize int
	Metrics   *mmetrics.Collector
	Logger    *slog.Logger
}

type work struct {
	ev  events.Event
	ack *sync.WaitGroup
}

type shard struct {
	trips     *trips.Aggregator
	boardings *boardings.Aggregator
	in        chan work
}

func (s *shard) handle(ev events.Event) {
	switch ev.Kind {
	case events.KindActivityEnd:
		s.trips.RecordActivityEnd(ev.Person, ev.ActType, ev.Time)
	case events.KindDeparture:
		s.trips.RecordDeparture(ev.Person, ev.LegMode)
	case events.KindActivityStart:
		s.trips.RecordActivityStart(ev.Person, ev.ActType, ev.Time)
	case events.KindEntersVehicle:
		s.boardings.RecordBoarding(ev.Person, ev.Vehicle)
	}
}

func (s *shard) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w, ok := <-s.in:
			if !ok {
				return nil
			}
			if w.ack != nil {
				w.ack.Done()
				continue
			}
			s.handle(w.ev)
		}
	}
}

// Runner feeds a simulation event stream into per-person sharded trip and
// boarding aggregators and calls the orchestrator at every iteration end.
// All events of one person land on the same shard, so per-person ordering is
// preserved while shards run in parallel.
//
// Runner implements calibration.TripSource and calibration.BoardingSource by
// merging the shards; Snapshot and Reset must only be called while the shards
// are idle, which Run guarantees by draining them before each iteration end.
type Runner struct {
	cfg     trips.Config
	shards  []*shard
	metrics *mmetrics.Collector
	logger  *slog.Logger
}

func NewRunner(opts Options) *Runner {
	n := max(opts.Workers, 1)
	queue := opts.QueueSize
	if queue <= 0 {
		queue = 1024
	}
	r := &Runner{
		cfg:     opts.Trips,
		shards:  make([]*shard, n),
		metrics: opts.Metrics,
		logger:  logging.OrDefault(opts.Logger),
	}
	for i := range r.shards {
		s := &shard{
			trips:     trips.NewAggregator(opts.Trips),
			boardings: boardings.NewAggregator(opts.Index, opts.OperatorPattern),
		}
		if n > 1 {
			s.in = make(chan work, queue)
		}
		r.shards[i] = s
	}
	return r
}

func (r *Runner) Workers() int { return len(r.shards) }

func (r *Runner) shardFor(person string) *shard {
	if len(r.shards) == 1 {
		return r.shards[0]
	}
	return r.shards[xxhash.Sum64String(person)%uint64(len(r.shards))]
}

// Snapshot merges the trip counts of all shards.
func (r *Runner) Snapshot() trips.TripSnapshot {
	out := trips.NewTripSnapshot(r.cfg)
	for _, s := range r.shards {
		out.Merge(s.trips.Snapshot())
	}
	return out
}

// BoardingSnapshot merges the boarding counts of all shards.
func (r *Runner) BoardingSnapshot() boardings.BoardingSnapshot {
	var out boardings.BoardingSnapshot
	for _, s := range r.shards {
		out.Merge(s.boardings.Snapshot())
	}
	return out
}

func (r *Runner) Reset() {
	for _, s := range r.shards {
		s.trips.Reset()
	}
}

// Boardings adapts the runner's boarding shards to calibration.BoardingSource.
func (r *Runner) Boardings() calibration.BoardingSource { return boardingSource{r} }

type boardingSource struct{ r *Runner }

func (b boardingSource) Snapshot() boardings.BoardingSnapshot { return b.r.BoardingSnapshot() }

func (b boardingSource) Reset() {
	for _, s := range b.r.shards {
		s.boardings.Reset()
	}
}

// Run consumes src until the orchestrator reports the last iteration, the
// stream ends or ctx is cancelled. A stream that ends early closes the
// orchestrator and returns nil. Report and observer failures are logged and
// the run continues; a strict missing-mode error stops it.
func (r *Runner) Run(ctx context.Context, src events.Source, orch *calibration.Orchestrator) error {
	if len(r.shards) == 1 {
		return r.dispatch(ctx, src, orch)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range r.shards {
		g.Go(func() error { return s.run(gctx) })
	}
	g.Go(func() error {
		defer r.closeShards()
		return r.dispatch(gctx, src, orch)
	})
	return g.Wait()
}

func (r *Runner) closeShards() {
	for _, s := range r.shards {
		close(s.in)
	}
}

func (r *Runner) dispatch(ctx context.Context, src events.Source, orch *calibration.Orchestrator) error {
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.logger.Warn("event stream ended before the last iteration")
			return orch.Close()
		}
		if err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.Events.WithLabelValues(string(ev.Kind)).Inc()
		}

		if ev.Kind != events.KindIterationEnd {
			if err := r.route(ctx, ev); err != nil {
				return err
			}
			continue
		}

		if err := r.drain(ctx); err != nil {
			return err
		}
		res, err := orch.EndIteration(ctx, ev.Iteration)
		if err != nil {
			if stop(err) {
				return err
			}
			if r.metrics != nil {
				r.metrics.OutputErrors.Inc()
			}
			logging.LogError(r.logger, "iteration outputs incomplete", err, slog.Int("iteration", ev.Iteration))
		}
		if res.Final {
			return nil
		}
	}
}

func stop(err error) bool {
	var missing *calibration.MissingModeError
	return errors.As(err, &missing) ||
		errors.Is(err, calibration.ErrFinalized) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *Runner) route(ctx context.Context, ev events.Event) error {
	s := r.shardFor(ev.Person)
	if s.in == nil {
		s.handle(ev)
		return nil
	}
	return send(ctx, s.in, work{ev: ev})
}

// drain blocks until every shard has processed everything queued before it.
func (r *Runner) drain(ctx context.Context) error {
	if len(r.shards) == 1 {
		return nil
	}
	var ack sync.WaitGroup
	ack.Add(len(r.shards))
	for _, s := range r.shards {
		if err := send(ctx, s.in, work{ack: &ack}); err != nil {
			return err
		}
	}
	done := make(chan struct{})
	go func() {
		ack.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func send(ctx context.Context, ch chan<- work, w work) error {
	select {
	case ch <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
