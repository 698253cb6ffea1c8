package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mode-calibrator/internal/calibration"
	"mode-calibrator/internal/events"
)

type Collector struct {
	reg *prometheus.Registry

	Events     *prometheus.CounterVec // kind label: actend|departure|actstart|entersvehicle|iterationend
	EventsLost prometheus.Counter

	TripsClassified prometheus.Counter
	TripsDropped    prometheus.Counter
	Boardings       prometheus.Counter

	Iterations        prometheus.Counter
	CurrentIteration  prometheus.Gauge
	IterationDuration prometheus.Histogram

	ModeConstant *prometheus.GaugeVec
	ModeShare    *prometheus.GaugeVec
	TargetShare  *prometheus.GaugeVec

	UpdatesSkipped *prometheus.CounterVec // reason label: no_trips|missing_mode|zero_share
	OutputErrors   prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	Workers prometheus.Gauge
}

func NewCollector(workers int, targets map[string]float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calibrator_events_total",
			Help: "Simulation events consumed, by type.",
		}, []string{"kind"}),
		EventsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calibrator_events_lost_total",
			Help: "Events dropped by the NATS client because the consumer fell behind.",
		}),
		TripsClassified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calibrator_trips_classified_total",
			Help: "Trips classified by purpose and mode.",
		}),
		TripsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calibrator_trips_dropped_total",
			Help: "Activity starts without a matching activity end or departure.",
		}),
		Boardings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calibrator_transit_boardings_total",
			Help: "Passenger boardings of scheduled transit vehicles.",
		}),
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calibrator_iterations_total",
			Help: "Iterations calibrated.",
		}),
		CurrentIteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "calibrator_current_iteration",
			Help: "Last iteration calibrated.",
		}),
		IterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calibrator_iteration_duration_seconds",
			Help:    "Time spent computing one calibration step.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		ModeConstant: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "calibrator_mode_constant",
			Help: "Current mode utility constant.",
		}, []string{"mode"}),
		ModeShare: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "calibrator_hbw_mode_share",
			Help: "Home-based work mode share of the last iteration.",
		}, []string{"mode"}),
		TargetShare: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "calibrator_target_mode_share",
			Help: "Configured target population share.",
		}, []string{"mode"}),
		UpdatesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calibrator_updates_skipped_total",
			Help: "Constant updates skipped, by reason.",
		}, []string{"reason"}),
		OutputErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calibrator_output_errors_total",
			Help: "Iterations whose reports or observers failed.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calibrator_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calibrator_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "calibrator_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "calibrator_workers",
			Help: "Event processing shards.",
		}),
	}

	reg.MustRegister(
		c.Events, c.EventsLost, c.TripsClassified, c.TripsDropped, c.Boardings,
		c.Iterations, c.CurrentIteration, c.IterationDuration,
		c.ModeConstant, c.ModeShare, c.TargetShare,
		c.UpdatesSkipped, c.OutputErrors,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.Workers,
	)

	c.Workers.Set(float64(workers))
	for _, k := range events.Kinds {
		c.Events.WithLabelValues(string(k))
	}
	for mode, share := range targets {
		c.TargetShare.WithLabelValues(mode).Set(share)
	}
	return c
}

// EventsLostAdd counts events the source lost before they were read.
func (c *Collector) EventsLostAdd(n int) {
	if n > 0 {
		c.EventsLost.Add(float64(n))
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// ObserveIteration records the outcome of one calibration step.
func (c *Collector) ObserveIteration(_ context.Context, r calibration.IterationResult) error {
	c.Iterations.Inc()
	c.CurrentIteration.Set(float64(r.Iteration))
	c.IterationDuration.Observe(r.Duration.Seconds())
	c.TripsClassified.Add(float64(r.Trips.Trips))
	c.TripsDropped.Add(float64(r.Trips.Dropped))
	c.Boardings.Add(float64(r.Boardings.Total))

	for mode, v := range r.Constants {
		c.ModeConstant.WithLabelValues(mode).Set(v)
	}
	for mode, v := range r.Shares {
		c.ModeShare.WithLabelValues(mode).Set(v)
	}

	var missing *calibration.MissingModeError
	switch {
	case errors.Is(r.UpdateErr, calibration.ErrNoTrips):
		c.UpdatesSkipped.WithLabelValues("no_trips").Inc()
	case errors.As(r.UpdateErr, &missing):
		c.UpdatesSkipped.WithLabelValues("missing_mode").Add(float64(len(missing.Modes)))
	}
	if n := len(r.Update.Skipped); n > 0 {
		c.UpdatesSkipped.WithLabelValues("zero_share").Add(float64(n))
	}
	return nil
}

// NATSPublishedInc, NATSPublishErrInc and NATSSetConnected let the collector
// serve as publisher.PublisherMetrics.
func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) NATSSetConnected(b bool) {
	if b {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
