package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"mode-calibrator/internal/calibration"
	"mode-calibrator/internal/db"
	"mode-calibrator/internal/logging"
	"mode-calibrator/internal/trips"
)

// HistoryStore reads the stored constant history of a run.
type HistoryStore interface {
	History(ctx context.Context, runID string) ([]db.ConstantRecord, error)
}

type Options struct {
	State   *State
	Metrics http.Handler
	// History is optional; without it /v1/history answers 404.
	History        HistoryStore
	AllowedOrigins []string
	Logger         *slog.Logger
}

type handler struct {
	state   *State
	history HistoryStore
	logger  *slog.Logger
}

// NewRouter builds the read-only calibration API.
func NewRouter(opts Options) http.Handler {
	h := &handler{state: opts.State, history: opts.History, logger: logging.OrDefault(opts.Logger)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/constants", h.getConstants)
		r.Get("/shares", h.getShares)
		if h.history != nil {
			r.Get("/history", h.getHistory)
			r.Get("/history/{runId}", h.getHistory)
		}
	})
	return r
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ConstantsResponse is the body of GET /v1/constants.
type ConstantsResponse struct {
	RunID     string             `json:"runId"`
	Iteration *int               `json:"iteration,omitempty"`
	Final     bool               `json:"final"`
	Constants map[string]float64 `json:"constants"`
	Skipped   []string           `json:"skipped,omitempty"`
	Missing   []string           `json:"missing,omitempty"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

func (h *handler) getConstants(w http.ResponseWriter, r *http.Request) {
	constants, last, at := h.state.snapshot()
	resp := ConstantsResponse{RunID: h.state.runID, Constants: constants, UpdatedAt: at}
	if last != nil {
		it := last.Iteration
		resp.Iteration = &it
		resp.Final = last.Final
		resp.Skipped = last.Update.Skipped
		resp.Missing = last.Update.Missing
	}
	writeJSON(w, http.StatusOK, resp)
}

// SharesResponse is the body of GET /v1/shares.
type SharesResponse struct {
	RunID     string                    `json:"runId"`
	Iteration int                       `json:"iteration"`
	Purpose   string                    `json:"purpose"`
	Shares    map[string]float64        `json:"shares"`
	Trips     int                       `json:"trips"`
	Dropped   int                       `json:"dropped"`
	Purposes  map[string]map[string]int `json:"purposes"`
	Boardings map[string]int            `json:"boardings,omitempty"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

func (h *handler) getShares(w http.ResponseWriter, r *http.Request) {
	_, last, at := h.state.snapshot()
	if last == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no iteration calibrated yet"})
		return
	}
	purpose := trips.HomeBasedWork
	if q := r.URL.Query().Get("purpose"); q != "" {
		p, ok := trips.ParsePurpose(q)
		if !ok {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unknown purpose " + q})
			return
		}
		purpose = p
	}
	shares := last.Shares
	if purpose != trips.HomeBasedWork || shares == nil {
		// an empty purpose has no split
		shares, _ = calibration.ComputeShares(last.Trips.Modes[purpose])
		if shares == nil {
			shares = map[string]float64{}
		}
	}
	writeJSON(w, http.StatusOK, SharesResponse{
		RunID:     h.state.runID,
		Iteration: last.Iteration,
		Purpose:   purpose.String(),
		Shares:    shares,
		Trips:     last.Trips.Trips,
		Dropped:   last.Trips.Dropped,
		Purposes:  last.Trips.Modes.Labeled(),
		Boardings: last.Boardings.Lines,
		UpdatedAt: at,
	})
}

// HistoryEntry is one row of GET /v1/history.
type HistoryEntry struct {
	Iteration  int       `json:"iteration"`
	Mode       string    `json:"mode"`
	Constant   float64   `json:"constant"`
	Share      *float64  `json:"share,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if runID == "" {
		runID = h.state.runID
	}
	recs, err := h.history.History(r.Context(), runID)
	if err != nil {
		logging.LogError(h.logger, "history query failed", err, slog.String("run", runID))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to retrieve constant history",
			Details: map[string]any{"internal": err.Error()},
		})
		return
	}
	out := make([]HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		e := HistoryEntry{Iteration: rec.Iteration, Mode: rec.Mode, Constant: rec.Constant, RecordedAt: rec.RecordedAt}
		if rec.Share.Valid {
			v := rec.Share.Float64
			e.Share = &v
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runId": runID, "count": len(out), "history": out})
}
