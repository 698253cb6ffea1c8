package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"mode-calibrator/internal/api"
	"mode-calibrator/internal/boardings"
	"mode-calibrator/internal/calibration"
	"mode-calibrator/internal/config"
	"mode-calibrator/internal/db"
	"mode-calibrator/internal/events"
	"mode-calibrator/internal/logging"
	"mode-calibrator/internal/metrics"
	"mode-calibrator/internal/publisher"
	"mode-calibrator/internal/report"
	"mode-calibrator/internal/schedule"
	"mode-calibrator/internal/sim"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logging.LogError(logger, "calibrator stopped", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cal, err := config.LoadCalibration(cfg.CalibrationFile)
	if err != nil {
		return err
	}
	if sum := cal.TargetSum(); math.Abs(sum-1) > 1e-6 {
		logger.Warn("target shares do not sum to one", "sum", sum)
	}

	runID := uuid.NewString()
	logger = logger.With("run", runID)
	logger.Info("starting calibration",
		"modes", cal.ModeNames(),
		"lastIteration", cal.LastIteration,
		"workers", cfg.Workers,
		"events", cfg.EventsSource)

	sched, err := loadSchedule(ctx, cfg, logger)
	if err != nil {
		return err
	}

	mcol := metrics.NewCollector(cfg.Workers, cal.Targets())
	state := api.NewState(runID, cal.Constants())
	observers := []calibration.Observer{mcol, state}

	var store *db.ConstantStore
	if cfg.StoreDSN != "" {
		sqlDB, driver, err := db.Open(cfg.StoreDSN)
		if err != nil {
			return fmt.Errorf("open constant store: %w", err)
		}
		defer sqlDB.Close()
		if err := db.Ping(ctx, sqlDB); err != nil {
			return fmt.Errorf("ping constant store: %w", err)
		}
		store = db.NewConstantStore(sqlDB, driver, runID, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		observers = append(observers, store)
	}

	if cfg.PublishConstants {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSConstantsSubject, runID, mcol, logger)
		if err != nil {
			return fmt.Errorf("nats publisher: %w", err)
		}
		defer pub.Close()
		observers = append(observers, pub)
	}

	runner := sim.NewRunner(sim.Options{
		Workers:         cfg.Workers,
		Trips:           cal.TripsConfig(),
		Index:           boardings.NewLineIndex(sched),
		OperatorPattern: cal.Operators(),
		Metrics:         mcol,
		Logger:          logger,
	})

	reports, err := report.NewWriter(report.OutputDir{Dir: cfg.OutputDir}, cal.TripsConfig().BinLabels(), logger)
	if err != nil {
		return err
	}
	orch := calibration.NewOrchestrator(runner,
		calibration.NewUpdater(cal.Constants(), cal.Targets()),
		reports,
		calibration.Options{
			Modes:         cal.ModeNames(),
			LastIteration: cal.LastIteration,
			StrictModes:   cal.StrictModes,
			Boardings:     runner.Boardings(),
			Observers:     observers,
			Logger:        logger,
		})
	defer logging.SafeCloseWithLogging(orch, logger, "reports")
	if err := orch.Start(); err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		opts := api.Options{State: state, Metrics: mcol.Handler(), AllowedOrigins: cfg.CORSOrigins, Logger: logger}
		if store != nil {
			opts.History = store
		}
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.NewRouter(opts), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("http server listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.LogError(logger, "http server failed", err)
			}
		}()
		defer func() {
			// Shutdown with timeout
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	src, err := openSource(cfg, mcol, logger)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(src, logger, "event source")

	err = runner.Run(ctx, src, orch)
	if errors.Is(err, context.Canceled) {
		logger.Info("calibration interrupted")
		return nil
	}
	if err == nil {
		logger.Info("calibration finished", "constants", orch.Updater().Constants())
	}
	return err
}

func loadSchedule(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*schedule.Schedule, error) {
	var (
		sched *schedule.Schedule
		err   error
	)
	switch cfg.ScheduleSource {
	case config.ScheduleGTFS:
		sched, err = schedule.LoadGTFS(cfg.GTFSPath)
	case config.SchedulePostgres:
		sched, err = fetchSchedule(ctx, cfg, logger)
	default:
		logger.Info("no transit schedule configured, boardings are not counted")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	lines, routes, departures := sched.Counts()
	logger.Info("transit schedule loaded", "source", cfg.ScheduleSource, "lines", lines, "routes", routes, "departures", departures)
	return sched, nil
}

// fetchSchedule reads the trips table of the latest import for CITY, or of
// DATABASE_URL when no city is set.
func fetchSchedule(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*schedule.Schedule, error) {
	dsn, err := db.ResolveScheduleDSN(ctx, cfg.DatabaseURL, cfg.City)
	if err != nil {
		return nil, err
	}
	if cfg.City != "" {
		logger.Info("using latest city import", "city", cfg.City)
	}
	sqlDB, _, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db.FetchSchedule(ctx, sqlDB)
}

func openSource(cfg *config.Config, lost events.LossCounter, logger *slog.Logger) (events.Source, error) {
	if cfg.EventsSource == config.EventsFromNATS {
		src, err := events.NewNATSSource(cfg.NATSURL, cfg.NATSEventsSubject, cfg.EventBuffer, lost, logger)
		if err != nil {
			return nil, fmt.Errorf("nats events: %w", err)
		}
		return src, nil
	}
	src, err := events.OpenFile(cfg.EventsFile)
	if err != nil {
		return nil, err
	}
	return src, nil
}
