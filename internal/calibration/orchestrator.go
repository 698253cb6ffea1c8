package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mode-calibrator/internal/boardings"
	"mode-calibrator/internal/logging"
	"mode-calibrator/internal/trips"
)

// TripSource is the per-iteration trip accumulator read by the orchestrator.
type TripSource interface {
	Snapshot() trips.TripSnapshot
	Reset()
}

// BoardingSource is the per-iteration boarding accumulator.
type BoardingSource interface {
	Snapshot() boardings.BoardingSnapshot
	Reset()
}

// Reports persists calibration results. WriteIteration is called once per
// iteration, WriteFinal only on the last one, before Close.
type Reports interface {
	WriteHeaders(modes []string) error
	WriteIteration(r IterationResult) error
	WriteFinal(r IterationResult) error
	Close() error
}

// Observer receives every iteration result after the constants were updated,
// e.g. to publish them back to the simulation.
type Observer interface {
	ObserveIteration(ctx context.Context, r IterationResult) error
}

// IterationResult is everything computed at one iteration boundary.
type IterationResult struct {
	Iteration int
	Final     bool
	Trips     trips.TripSnapshot
	Boardings boardings.BoardingSnapshot
	// Shares are the home-based work mode shares; nil when no trips were seen.
	Shares    map[string]float64
	Constants map[string]float64
	Update    UpdateResult
	// UpdateErr is ErrNoTrips or a *MissingModeError when the update was
	// skipped entirely or partially.
	UpdateErr error
	Duration  time.Duration
}

// ErrFinalized is returned by EndIteration after the last iteration was
// calibrated or the orchestrator was closed.
var ErrFinalized = errors.New("orchestrator already finalized")

// Options configures an Orchestrator.
type Options struct {
	// Modes is the ordered list of calibrated modes used for report columns.
	Modes         []string
	LastIteration int
	// StrictModes turns a MissingModeError into a run-stopping error.
	StrictModes bool
	Boardings   BoardingSource
	Observers   []Observer
	Logger      *slog.Logger
}

// Orchestrator runs the calibration step at every iteration boundary.
type Orchestrator struct {
	trips     TripSource
	boardings BoardingSource
	updater   *Updater
	reports   Reports
	observers []Observer
	modes     []string
	last      int
	strict    bool
	logger    *slog.Logger
	closed    bool
}

func NewOrchestrator(tripSrc TripSource, updater *Updater, reports Reports, opts Options) *Orchestrator {
	return &Orchestrator{
		trips:     tripSrc,
		boardings: opts.Boardings,
		updater:   updater,
		reports:   reports,
		observers: opts.Observers,
		modes:     append([]string(nil), opts.Modes...),
		last:      opts.LastIteration,
		strict:    opts.StrictModes,
		logger:    logging.OrDefault(opts.Logger),
	}
}

// Start writes the report headers.
func (o *Orchestrator) Start() error {
	if err := o.reports.WriteHeaders(o.modes); err != nil {
		return fmt.Errorf("write report headers: %w", err)
	}
	return nil
}

func (o *Orchestrator) Modes() []string { return append([]string(nil), o.modes...) }

func (o *Orchestrator) Updater() *Updater { return o.updater }

// IsFinal reports whether iteration is the configured last one.
func (o *Orchestrator) IsFinal(iteration int) bool { return iteration >= o.last }

// EndIteration snapshots the aggregators, updates the constants from the
// home-based work mode shares, writes the reports and then either resets the
// aggregators or, on the last iteration, closes the reports.
//
// Report and observer failures are returned but never undo the constant update.
func (o *Orchestrator) EndIteration(ctx context.Context, iteration int) (IterationResult, error) {
	if o.closed {
		return IterationResult{}, ErrFinalized
	}
	if err := ctx.Err(); err != nil {
		return IterationResult{}, err
	}
	start := time.Now()

	res := IterationResult{
		Iteration: iteration,
		Final:     o.IsFinal(iteration),
		Trips:     o.trips.Snapshot(),
	}
	if o.boardings != nil {
		res.Boardings = o.boardings.Snapshot()
	}

	var fatal error
	shares, err := ComputeShares(res.Trips.Modes[trips.HomeBasedWork])
	switch {
	case err != nil:
		res.UpdateErr = err
		o.logger.Warn("skipping constant update", "iteration", iteration, "reason", err.Error())
	default:
		// configured modes nobody chose still show up, with a zero share
		for _, mode := range o.modes {
			if _, ok := shares[mode]; !ok {
				shares[mode] = 0
			}
		}
		res.Shares = shares
		o.logger.Info("home-based work mode split", "iteration", iteration, "shares", shares)
		res.Update, err = o.updater.Update(shares)
		if len(res.Update.Skipped) > 0 {
			o.logger.Warn("modes without home-based work trips keep their constant",
				"iteration", iteration, "modes", res.Update.Skipped)
		}
		if err != nil {
			res.UpdateErr = err
			logging.LogError(o.logger, "mode configuration error", err, slog.Int("iteration", iteration))
			var missing *MissingModeError
			if o.strict && errors.As(err, &missing) {
				fatal = fmt.Errorf("iteration %d: %w", iteration, err)
			}
		}
	}
	res.Constants = o.updater.Constants()
	res.Duration = time.Since(start)

	logging.LogOperation(o.logger, "iteration calibrated",
		slog.Int("iteration", iteration),
		slog.Int("trips", res.Trips.Trips),
		slog.Int("dropped", res.Trips.Dropped),
		slog.Int("boardings", res.Boardings.Total),
		slog.Any("constants", res.Constants),
		slog.Duration("duration", res.Duration))

	var errs []error
	if err := o.reports.WriteIteration(res); err != nil {
		errs = append(errs, fmt.Errorf("write iteration %d reports: %w", iteration, err))
	}
	for _, obs := range o.observers {
		if err := obs.ObserveIteration(ctx, res); err != nil {
			errs = append(errs, fmt.Errorf("observe iteration %d: %w", iteration, err))
		}
	}

	if res.Final {
		if err := o.reports.WriteFinal(res); err != nil {
			errs = append(errs, fmt.Errorf("write final reports: %w", err))
		}
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	} else {
		o.trips.Reset()
		if o.boardings != nil {
			o.boardings.Reset()
		}
	}

	for _, e := range errs {
		logging.LogError(o.logger, "calibration output failed", e, slog.Int("iteration", iteration))
	}
	if fatal != nil {
		errs = append([]error{fatal}, errs...)
	}
	return res, errors.Join(errs...)
}

// Close closes the reports. It is safe to call more than once.
func (o *Orchestrator) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.reports.Close(); err != nil {
		return fmt.Errorf("close reports: %w", err)
	}
	return nil
}
