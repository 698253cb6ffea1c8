package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"mode-calibrator/internal/calibration"
	"mode-calibrator/internal/logging"
)

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	nc      *nats.Conn
	conn    Conn
	subject string
	runID   string
	metrics PublisherMetrics
	logger  *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

// NewNATSPublisher connects to url and publishes iteration results on subject.
func NewNATSPublisher(url, subject, runID string, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logging.OrDefault(logger)
	nc, err := nats.Connect(url,
		nats.Name("mode-calibrator"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := NewPublisher(nc, subject, runID, m, logger)
	p.nc = nc
	return p, nil
}

// NewPublisher publishes over an existing connection.
func NewPublisher(conn Conn, subject, runID string, m PublisherMetrics, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:    conn,
		subject: subjectName(subject),
		runID:   runID,
		metrics: m,
		logger:  logging.OrDefault(logger),
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("nats drain failed", "error", err)
		}
		p.nc.Close()
	}
}

// ConstantsMessage carries the constants the simulation should use for its
// next iteration.
type ConstantsMessage struct {
	RunID     string             `json:"runId"`
	Iteration int                `json:"iteration"`
	Final     bool               `json:"final"`
	Constants map[string]float64 `json:"constants"`
	Shares    map[string]float64 `json:"shares,omitempty"`
	Updated   []string           `json:"updated,omitempty"`
	Skipped   []string           `json:"skipped,omitempty"`
	Missing   []string           `json:"missing,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func newConstantsMessage(runID string, r calibration.IterationResult) ConstantsMessage {
	return ConstantsMessage{
		RunID:     runID,
		Iteration: r.Iteration,
		Final:     r.Final,
		Constants: r.Constants,
		Shares:    r.Shares,
		Updated:   r.Update.Updated,
		Skipped:   r.Update.Skipped,
		Missing:   r.Update.Missing,
		Timestamp: time.Now().UTC(),
	}
}

// ObserveIteration publishes the updated constants of r.
func (p *NATSPublisher) ObserveIteration(_ context.Context, r calibration.IterationResult) error {
	b, err := json.Marshal(newConstantsMessage(p.runID, r))
	if err != nil {
		return err
	}
	err = p.conn.Publish(p.subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err == nil {
		p.logger.Debug("published mode constants", "subject", p.subject, "iteration", r.Iteration)
	}
	return err
}

// subjectName replaces characters NATS does not allow in subject tokens.
// Dots are kept since they separate tokens.
func subjectName(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ">", "_", "*", "_", "\t", "_")
	s = strings.Trim(repl.Replace(s), ".")
	if s == "" {
		s = "calibration.constants"
	}
	return s
}
