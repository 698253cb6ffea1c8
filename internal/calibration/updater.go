package calibration

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// MissingMode describes an observed mode lacking calibration configuration.
type MissingMode struct {
	Mode       string
	NoTarget   bool
	NoConstant bool
}

// MissingModeError reports observed modes that have no target share or no
// starting constant. Those modes are left untouched by Update.
type MissingModeError struct {
	Modes []MissingMode
}

func (e *MissingModeError) Error() string {
	parts := make([]string, 0, len(e.Modes))
	for _, m := range e.Modes {
		var what []string
		if m.NoTarget {
			what = append(what, "no target share")
		}
		if m.NoConstant {
			what = append(what, "no constant")
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", m.Mode, strings.Join(what, ", ")))
	}
	return "missing mode configuration: " + strings.Join(parts, "; ")
}

// UpdateResult lists what one Update call did, mode names sorted.
type UpdateResult struct {
	Updated []string `json:"updated"`
	// Skipped holds modes with a zero observed share, for which the log ratio is
	// undefined.
	Skipped []string `json:"skipped,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// Updater owns the mode constants and the target population shares.
type Updater struct {
	mu        sync.RWMutex
	constants map[string]float64
	targets   map[string]float64
}

// NewUpdater copies the starting constants and the targets.
func NewUpdater(constants, targets map[string]float64) *Updater {
	u := &Updater{
		constants: make(map[string]float64, len(constants)),
		targets:   make(map[string]float64, len(targets)),
	}
	for mode, c := range constants {
		u.constants[mode] = c
	}
	for mode, t := range targets {
		u.targets[mode] = t
	}
	return u
}

// Update applies the population bias correction
//
//	constant' = constant - ln(target / observed)
//
// to every mode in observed. Modes with a non-positive observed share are
// skipped. Modes without a target or constant are skipped and reported through
// a *MissingModeError; the other modes are still updated.
func (u *Updater) Update(observed map[string]float64) (UpdateResult, error) {
	modes := make([]string, 0, len(observed))
	for mode := range observed {
		modes = append(modes, mode)
	}
	sort.Strings(modes)

	u.mu.Lock()
	defer u.mu.Unlock()

	var res UpdateResult
	var missing []MissingMode
	for _, mode := range modes {
		share := observed[mode]
		target, hasTarget := u.targets[mode]
		constant, hasConstant := u.constants[mode]
		if !hasTarget || !hasConstant {
			missing = append(missing, MissingMode{Mode: mode, NoTarget: !hasTarget, NoConstant: !hasConstant})
			res.Missing = append(res.Missing, mode)
			continue
		}
		if share <= 0 || math.IsNaN(share) || target <= 0 {
			res.Skipped = append(res.Skipped, mode)
			continue
		}
		u.constants[mode] = constant - math.Log(target/share)
		res.Updated = append(res.Updated, mode)
	}
	if len(missing) > 0 {
		return res, &MissingModeError{Modes: missing}
	}
	return res, nil
}

func (u *Updater) Constant(mode string) (float64, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	c, ok := u.constants[mode]
	return c, ok
}

// Constants returns a copy of the current constants.
func (u *Updater) Constants() map[string]float64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make(map[string]float64, len(u.constants))
	for mode, c := range u.constants {
		out[mode] = c
	}
	return out
}

// Targets returns a copy of the target shares.
func (u *Updater) Targets() map[string]float64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make(map[string]float64, len(u.targets))
	for mode, t := range u.targets {
		out[mode] = t
	}
	return out
}
