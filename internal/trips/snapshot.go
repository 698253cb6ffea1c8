package trips

// PurposeModeTable counts trips by purpose and mode.
type PurposeModeTable map[Purpose]map[string]int

// TravelTimeHistogram holds per-purpose travel-time bin counts.
type TravelTimeHistogram map[Purpose][]int

// TripSnapshot is an immutable copy of an Aggregator's counts.
type TripSnapshot struct {
	Modes       PurposeModeTable
	TravelTimes TravelTimeHistogram
	Trips       int
	Dropped     int
}

// NewTripSnapshot returns an empty snapshot with every purpose present.
func NewTripSnapshot(cfg Config) TripSnapshot {
	cfg = cfg.withDefaults()
	s := TripSnapshot{
		Modes:       make(PurposeModeTable, numPurposes),
		TravelTimes: make(TravelTimeHistogram, numPurposes),
	}
	for _, p := range Purposes {
		s.Modes[p] = map[string]int{}
		s.TravelTimes[p] = make([]int, cfg.Bins)
	}
	return s
}

// Merge adds o into s element-wise. Merging is commutative and associative, so
// per-shard snapshots can be combined in any order.
func (s *TripSnapshot) Merge(o TripSnapshot) {
	if s.Modes == nil {
		s.Modes = make(PurposeModeTable, numPurposes)
	}
	if s.TravelTimes == nil {
		s.TravelTimes = make(TravelTimeHistogram, numPurposes)
	}
	for p, counts := range o.Modes {
		dst := s.Modes[p]
		if dst == nil {
			dst = make(map[string]int, len(counts))
			s.Modes[p] = dst
		}
		for mode, n := range counts {
			dst[mode] += n
		}
	}
	for p, bins := range o.TravelTimes {
		dst := s.TravelTimes[p]
		if len(dst) < len(bins) {
			grown := make([]int, len(bins))
			copy(grown, dst)
			dst = grown
		}
		for i, n := range bins {
			dst[i] += n
		}
		s.TravelTimes[p] = dst
	}
	s.Trips += o.Trips
	s.Dropped += o.Dropped
}

// Total returns the number of trips recorded for purpose p.
func (t PurposeModeTable) Total(p Purpose) int {
	n := 0
	for _, c := range t[p] {
		n += c
	}
	return n
}

// Labeled converts the table to string keys (hbw, hbo, nhb) for serialization.
func (t PurposeModeTable) Labeled() map[string]map[string]int {
	out := make(map[string]map[string]int, numPurposes)
	for _, p := range Purposes {
		counts := make(map[string]int, len(t[p]))
		for mode, n := range t[p] {
			counts[mode] = n
		}
		out[p.String()] = counts
	}
	return out
}
