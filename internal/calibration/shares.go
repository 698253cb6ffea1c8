package calibration

import "errors"

// ErrNoTrips is returned when mode shares are requested for an empty count table.
var ErrNoTrips = errors.New("no trips to compute mode shares from")

// ComputeShares normalizes per-mode trip counts into fractions summing to one.
func ComputeShares(counts map[string]int) (map[string]float64, error) {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total <= 0 {
		return nil, ErrNoTrips
	}
	shares := make(map[string]float64, len(counts))
	for mode, n := range counts {
		shares[mode] = float64(n) / float64(total)
	}
	return shares, nil
}
