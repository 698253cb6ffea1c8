package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mode-calibrator/internal/boardings"
	"mode-calibrator/internal/calibration"
	"mode-calibrator/internal/db"
	"mode-calibrator/internal/trips"
)

type fakeHistory struct {
	runs map[string][]db.ConstantRecord
	err  error
}

func (f *fakeHistory) History(_ context.Context, runID string) ([]db.ConstantRecord, error) {
	return f.runs[runID], f.err
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func observed() calibration.IterationResult {
	snap := trips.NewTripSnapshot(trips.Config{})
	snap.Modes[trips.HomeBasedWork]["car"] = 3
	snap.Modes[trips.HomeBasedWork]["pt"] = 1
	snap.Trips = 4
	return calibration.IterationResult{
		Iteration: 3,
		Trips:     snap,
		Boardings: boardings.BoardingSnapshot{Lines: map[string]int{"L1": 2}, Total: 2},
		Shares:    map[string]float64{"car": 0.75, "pt": 0.25},
		Constants: map[string]float64{"car": 0.1, "pt": -0.2},
		Update:    calibration.UpdateResult{Updated: []string{"car", "pt"}},
	}
}

func TestHealthz(t *testing.T) {
	h := NewRouter(Options{State: NewState("run", nil)})
	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) })
	h := NewRouter(Options{State: NewState("run", nil), Metrics: metrics})
	assert.Equal(t, "# metrics", get(t, h, "/metrics").Body.String())

	h = NewRouter(Options{State: NewState("run", nil)})
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
}

func TestConstants(t *testing.T) {
	state := NewState("run-1", map[string]float64{"car": 0, "pt": 0})
	h := NewRouter(Options{State: state})

	before := decode[ConstantsResponse](t, get(t, h, "/v1/constants"))
	assert.Equal(t, "run-1", before.RunID)
	assert.Nil(t, before.Iteration)
	assert.Equal(t, map[string]float64{"car": 0, "pt": 0}, before.Constants)

	require.NoError(t, state.ObserveIteration(context.Background(), observed()))
	rec := get(t, h, "/v1/constants")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	after := decode[ConstantsResponse](t, rec)
	require.NotNil(t, after.Iteration)
	assert.Equal(t, 3, *after.Iteration)
	assert.Equal(t, map[string]float64{"car": 0.1, "pt": -0.2}, after.Constants)
}

func TestShares(t *testing.T) {
	state := NewState("run-1", nil)
	h := NewRouter(Options{State: state})

	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/shares").Code)

	require.NoError(t, state.ObserveIteration(context.Background(), observed()))
	resp := decode[SharesResponse](t, get(t, h, "/v1/shares"))
	assert.Equal(t, 3, resp.Iteration)
	assert.Equal(t, "hbw", resp.Purpose)
	assert.Equal(t, map[string]float64{"car": 0.75, "pt": 0.25}, resp.Shares)
	assert.Equal(t, 4, resp.Trips)
	assert.Equal(t, map[string]int{"car": 3, "pt": 1}, resp.Purposes["hbw"])
	assert.Empty(t, resp.Purposes["nhb"])
	assert.Equal(t, map[string]int{"L1": 2}, resp.Boardings)

	latest, ok := state.Latest()
	require.True(t, ok)
	assert.Equal(t, 3, latest.Iteration)
}

func TestSharesByPurpose(t *testing.T) {
	state := NewState("run-1", nil)
	h := NewRouter(Options{State: state})
	res := observed()
	res.Trips.Modes[trips.HomeBasedOther]["car"] = 1
	res.Trips.Modes[trips.HomeBasedOther]["walk"] = 3
	require.NoError(t, state.ObserveIteration(context.Background(), res))

	hbw := decode[SharesResponse](t, get(t, h, "/v1/shares?purpose=hbw"))
	assert.Equal(t, "hbw", hbw.Purpose)
	assert.Equal(t, map[string]float64{"car": 0.75, "pt": 0.25}, hbw.Shares)

	hbo := decode[SharesResponse](t, get(t, h, "/v1/shares?purpose=hbo"))
	assert.Equal(t, "hbo", hbo.Purpose)
	assert.Equal(t, map[string]float64{"car": 0.25, "walk": 0.75}, hbo.Shares)

	nhb := decode[SharesResponse](t, get(t, h, "/v1/shares?purpose=nhb"))
	assert.Empty(t, nhb.Shares)

	rec := get(t, h, "/v1/shares?purpose=commute")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "commute")
}

func TestHistory(t *testing.T) {
	at := time.UnixMilli(1700000000000).UTC()
	store := &fakeHistory{runs: map[string][]db.ConstantRecord{
		"run-1": {
			{RunID: "run-1", Iteration: 0, Mode: "car", Constant: 0.1, Share: sql.NullFloat64{Float64: 0.8, Valid: true}, RecordedAt: at},
			{RunID: "run-1", Iteration: 0, Mode: "pt", Constant: -0.3, RecordedAt: at},
		},
		"run-0": {{RunID: "run-0", Mode: "car", RecordedAt: at}},
	}}
	h := NewRouter(Options{State: NewState("run-1", nil), History: store})

	type body struct {
		RunID   string         `json:"runId"`
		Count   int            `json:"count"`
		History []HistoryEntry `json:"history"`
	}
	own := decode[body](t, get(t, h, "/v1/history"))
	assert.Equal(t, "run-1", own.RunID)
	require.Equal(t, 2, own.Count)
	require.NotNil(t, own.History[0].Share)
	assert.InDelta(t, 0.8, *own.History[0].Share, 1e-12)
	assert.Nil(t, own.History[1].Share)

	other := decode[body](t, get(t, h, "/v1/history/run-0"))
	assert.Equal(t, "run-0", other.RunID)
	assert.Equal(t, 1, other.Count)

	store.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/v1/history").Code)
}

func TestHistoryDisabled(t *testing.T) {
	h := NewRouter(Options{State: NewState("run-1", nil)})
	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/history").Code)
}

func TestCORS(t *testing.T) {
	h := NewRouter(Options{State: NewState("run-1", nil), AllowedOrigins: []string{"http://localhost:5173"}})
	req := httptest.NewRequest(http.MethodGet, "/v1/constants", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
