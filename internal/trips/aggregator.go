package trips

import "math"

const (
	DefaultBins       = 20
	DefaultBinMinutes = 5
)

// Config sizes the travel-time histogram. The last bin absorbs every trip at or
// above Bins*BinMinutes minutes.
type Config struct {
	Bins       int
	BinMinutes int
}

func (c Config) withDefaults() Config {
	if c.Bins <= 0 {
		c.Bins = DefaultBins
	}
	if c.BinMinutes <= 0 {
		c.BinMinutes = DefaultBinMinutes
	}
	return c
}

// BinLabels returns the lower edge, in minutes, of every histogram bin.
func (c Config) BinLabels() []int {
	c = c.withDefaults()
	labels := make([]int, c.Bins)
	for i := range labels {
		labels[i] = i * c.BinMinutes
	}
	return labels
}

// Bin returns the histogram index for a trip lasting minutes.
func (c Config) Bin(minutes float64) int {
	c = c.withDefaults()
	top := float64(c.Bins*c.BinMinutes - 1)
	if math.IsNaN(minutes) || minutes < 0 {
		minutes = 0
	}
	if minutes > top {
		minutes = top
	}
	return int(minutes / float64(c.BinMinutes))
}

// Trip is one classified movement between two activities.
type Trip struct {
	Person        string
	Origin        string
	Destination   string
	Mode          string
	Purpose       Purpose
	DepartureTime float64 // seconds
	ArrivalTime   float64 // seconds
}

func (t Trip) DurationMinutes() float64 {
	return (t.ArrivalTime - t.DepartureTime) / 60
}

// pendingTrip is the correlation state of one agent between an activity end and
// the next activity start.
type pendingTrip struct {
	origin    string
	endTime   float64
	mode      string
	hasOrigin bool
	hasMode   bool
}

// Aggregator turns per-agent activity-end, departure and activity-start events
// into purpose x mode trip counts and travel-time histograms. It is not safe for
// concurrent use; shard by agent and merge snapshots instead.
type Aggregator struct {
	cfg         Config
	pending     map[string]pendingTrip
	modes       [numPurposes]map[string]int
	travelTimes [numPurposes]*CountBin
	trips       int
	dropped     int
}

func NewAggregator(cfg Config) *Aggregator {
	cfg = cfg.withDefaults()
	a := &Aggregator{
		cfg:     cfg,
		pending: make(map[string]pendingTrip),
	}
	for i := range a.modes {
		a.modes[i] = make(map[string]int)
		a.travelTimes[i] = NewCountBin(cfg.Bins)
	}
	return a
}

func (a *Aggregator) Config() Config { return a.cfg }

// RecordActivityEnd opens a new trip for person. Any half-built trip left over
// from an earlier activity end is discarded.
func (a *Aggregator) RecordActivityEnd(person, activityType string, time float64) {
	a.pending[person] = pendingTrip{origin: activityType, endTime: time, hasOrigin: true}
}

// RecordDeparture stores the planned leg mode for person's open trip.
func (a *Aggregator) RecordDeparture(person, mode string) {
	p := a.pending[person]
	p.mode = mode
	p.hasMode = true
	a.pending[person] = p
}

// RecordActivityStart closes person's open trip. When no activity end or no
// departure was seen for person the trip is dropped and ok is false.
func (a *Aggregator) RecordActivityStart(person, activityType string, time float64) (Trip, bool) {
	p, found := a.pending[person]
	delete(a.pending, person)
	if !found || !p.hasOrigin || !p.hasMode {
		a.dropped++
		return Trip{}, false
	}

	trip := Trip{
		Person:        person,
		Origin:        p.origin,
		Destination:   activityType,
		Mode:          p.mode,
		Purpose:       Classify(p.origin, activityType),
		DepartureTime: p.endTime,
		ArrivalTime:   time,
	}
	a.modes[trip.Purpose][trip.Mode]++
	a.travelTimes[trip.Purpose].Increment(a.cfg.Bin(trip.DurationMinutes()))
	a.trips++
	return trip, true
}

// Dropped returns the number of activity starts discarded since the last Reset.
func (a *Aggregator) Dropped() int { return a.dropped }

// Pending returns the number of agents with an open trip.
func (a *Aggregator) Pending() int { return len(a.pending) }

// Snapshot copies the current counts, leaving out modes not seen since the last
// Reset. It does not modify the aggregator.
func (a *Aggregator) Snapshot() TripSnapshot {
	s := TripSnapshot{
		Modes:       make(PurposeModeTable, numPurposes),
		TravelTimes: make(TravelTimeHistogram, numPurposes),
		Trips:       a.trips,
		Dropped:     a.dropped,
	}
	for _, p := range Purposes {
		counts := make(map[string]int, len(a.modes[p]))
		for mode, n := range a.modes[p] {
			if n > 0 {
				counts[mode] = n
			}
		}
		s.Modes[p] = counts
		s.TravelTimes[p] = a.travelTimes[p].Counts()
	}
	return s
}

// Reset forgets all open trips and zeroes the counts. Mode keys and histogram
// storage are kept so the next iteration does not reallocate them.
func (a *Aggregator) Reset() {
	clear(a.pending)
	for _, p := range Purposes {
		for mode := range a.modes[p] {
			a.modes[p][mode] = 0
		}
		a.travelTimes[p].Clear()
	}
	a.trips = 0
	a.dropped = 0
}
