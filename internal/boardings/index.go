package boardings

import (
	"sort"

	"mode-calibrator/internal/schedule"
)

// LineIndex resolves transit vehicles and routes to the line they serve. It is
// built once from the schedule and never mutated afterwards.
type LineIndex struct {
	vehicleLine map[string]string
	routeLine   map[string]string
	lines       []string
}

// NewLineIndex walks every line, route and departure of s. When a vehicle serves
// departures of several lines, the last one wins.
func NewLineIndex(s *schedule.Schedule) *LineIndex {
	ix := &LineIndex{
		vehicleLine: make(map[string]string),
		routeLine:   make(map[string]string),
	}
	if s == nil {
		return ix
	}
	for _, line := range s.Lines {
		ix.lines = append(ix.lines, line.ID)
		for _, route := range line.Routes {
			if _, ok := ix.routeLine[route.ID]; !ok {
				ix.routeLine[route.ID] = line.ID
			}
			for _, dep := range route.Departures {
				ix.vehicleLine[dep.VehicleID] = line.ID
			}
		}
	}
	sort.Strings(ix.lines)
	return ix
}

func (ix *LineIndex) LineForVehicle(vehicleID string) (string, bool) {
	line, ok := ix.vehicleLine[vehicleID]
	return line, ok
}

func (ix *LineIndex) LineForRoute(routeID string) (string, bool) {
	line, ok := ix.routeLine[routeID]
	return line, ok
}

// Lines returns the sorted line ids.
func (ix *LineIndex) Lines() []string {
	return append([]string(nil), ix.lines...)
}

func (ix *LineIndex) Vehicles() int { return len(ix.vehicleLine) }
