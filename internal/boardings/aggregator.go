package boardings

import "strings"

// DefaultOperatorPattern marks transit driver agents, whose ids contain it.
const DefaultOperatorPattern = "pt_"

// Aggregator counts passenger boardings per transit line.
type Aggregator struct {
	index           *LineIndex
	operatorPattern string
	lines           map[string]int
	total           int
	ignored         int
}

// NewAggregator counts boardings of vehicles known to index. Persons whose id
// contains operatorPattern are treated as drivers and ignored; an empty pattern
// disables the check.
func NewAggregator(index *LineIndex, operatorPattern string) *Aggregator {
	if index == nil {
		index = NewLineIndex(nil)
	}
	return &Aggregator{
		index:           index,
		operatorPattern: operatorPattern,
		lines:           make(map[string]int),
	}
}

func (a *Aggregator) Index() *LineIndex { return a.index }

// IsOperator reports whether person is a transit driver.
func (a *Aggregator) IsOperator(person string) bool {
	return a.operatorPattern != "" && strings.Contains(person, a.operatorPattern)
}

// RecordBoarding counts person entering vehicle. It returns false when the
// vehicle is not a scheduled transit vehicle or the person is a driver.
func (a *Aggregator) RecordBoarding(person, vehicle string) bool {
	line, ok := a.index.LineForVehicle(vehicle)
	if !ok || a.IsOperator(person) {
		a.ignored++
		return false
	}
	a.lines[line]++
	a.total++
	return true
}

func (a *Aggregator) Snapshot() BoardingSnapshot {
	s := BoardingSnapshot{
		Lines:   make(map[string]int, len(a.lines)),
		Total:   a.total,
		Ignored: a.ignored,
	}
	for line, n := range a.lines {
		if n > 0 {
			s.Lines[line] = n
		}
	}
	return s
}

// Reset zeroes the counters. The line index is left untouched.
func (a *Aggregator) Reset() {
	for line := range a.lines {
		a.lines[line] = 0
	}
	a.total = 0
	a.ignored = 0
}

// BoardingSnapshot is a copy of the boarding counters of one iteration.
type BoardingSnapshot struct {
	Lines   map[string]int
	Total   int
	Ignored int
}

// Merge sums o into s.
func (s *BoardingSnapshot) Merge(o BoardingSnapshot) {
	if s.Lines == nil {
		s.Lines = make(map[string]int, len(o.Lines))
	}
	for line, n := range o.Lines {
		s.Lines[line] += n
	}
	s.Total += o.Total
	s.Ignored += o.Ignored
}
