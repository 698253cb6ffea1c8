package api

import (
	"context"
	"maps"
	"sync"
	"time"

	"mode-calibrator/internal/calibration"
)

// State holds the latest calibration result for the HTTP handlers. It is a
// calibration.Observer.
type State struct {
	mu        sync.RWMutex
	runID     string
	constants map[string]float64
	last      *calibration.IterationResult
	updatedAt time.Time
}

// NewState seeds the state with the constants the run starts from.
func NewState(runID string, constants map[string]float64) *State {
	return &State{runID: runID, constants: maps.Clone(constants), updatedAt: time.Now().UTC()}
}

func (s *State) ObserveIteration(_ context.Context, r calibration.IterationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &r
	s.constants = maps.Clone(r.Constants)
	s.updatedAt = time.Now().UTC()
	return nil
}

// Latest returns the last observed result, if any.
func (s *State) Latest() (calibration.IterationResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return calibration.IterationResult{}, false
	}
	return *s.last, true
}

func (s *State) snapshot() (constants map[string]float64, last *calibration.IterationResult, at time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.constants), s.last, s.updatedAt
}
