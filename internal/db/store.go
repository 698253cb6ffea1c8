package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"mode-calibrator/internal/calibration"
	"mode-calibrator/internal/logging"
)

const schemaModeConstants = `
CREATE TABLE IF NOT EXISTS mode_constants (
  run_id      TEXT NOT NULL,
  iteration   INTEGER NOT NULL,
  mode        TEXT NOT NULL,
  constant    DOUBLE PRECISION NOT NULL,
  share       DOUBLE PRECISION,
  recorded_at BIGINT NOT NULL,
  PRIMARY KEY (run_id, iteration, mode)
)`

// ConstantRecord is one stored constant of one iteration.
type ConstantRecord struct {
	RunID     string
	Iteration int
	Mode      string
	Constant  float64
	// Share is not Valid when the mode had no observed share.
	Share      sql.NullFloat64
	RecordedAt time.Time
}

// ConstantStore keeps the per-iteration constant history of calibration runs.
type ConstantStore struct {
	db     *sql.DB
	driver string
	runID  string
	logger *slog.Logger
	now    func() time.Time
}

func NewConstantStore(db *sql.DB, driver, runID string, logger *slog.Logger) *ConstantStore {
	return &ConstantStore{db: db, driver: driver, runID: runID, logger: logging.OrDefault(logger), now: time.Now}
}

func (s *ConstantStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaModeConstants); err != nil {
		return fmt.Errorf("create mode_constants: %w", err)
	}
	return nil
}

// rebind rewrites $n placeholders for sqlite.
func (s *ConstantStore) rebind(q string) string {
	if s.driver == DriverSQLite {
		return strings.ReplaceAll(q, "$", "?")
	}
	return q
}

// ObserveIteration stores the constants of r in one transaction.
func (s *ConstantStore) ObserveIteration(ctx context.Context, r calibration.IterationResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	q := s.rebind(`INSERT INTO mode_constants (run_id, iteration, mode, constant, share, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, iteration, mode) DO UPDATE
SET constant = excluded.constant, share = excluded.share, recorded_at = excluded.recorded_at`)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	modes := make([]string, 0, len(r.Constants))
	for m := range r.Constants {
		modes = append(modes, m)
	}
	sort.Strings(modes)

	at := s.now().UnixMilli()
	for _, m := range modes {
		share := sql.NullFloat64{}
		if v, ok := r.Shares[m]; ok {
			share = sql.NullFloat64{Float64: v, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, s.runID, r.Iteration, m, r.Constants[m], share, at); err != nil {
			return fmt.Errorf("insert %s: %w", m, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("stored mode constants", "run", s.runID, "iteration", r.Iteration, "modes", len(modes))
	return nil
}

// History returns the stored constants of runID ordered by iteration and mode.
func (s *ConstantStore) History(ctx context.Context, runID string) ([]ConstantRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT run_id, iteration, mode, constant, share, recorded_at
FROM mode_constants WHERE run_id = $1 ORDER BY iteration, mode`), runID)
	if err != nil {
		return nil, fmt.Errorf("query mode_constants: %w", err)
	}
	defer rows.Close()

	var out []ConstantRecord
	for rows.Next() {
		var rec ConstantRecord
		var at int64
		if err := rows.Scan(&rec.RunID, &rec.Iteration, &rec.Mode, &rec.Constant, &rec.Share, &at); err != nil {
			return nil, err
		}
		rec.RecordedAt = time.UnixMilli(at).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
