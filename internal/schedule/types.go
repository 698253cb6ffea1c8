package schedule

// Departure is one scheduled run of a transit route, served by a single vehicle.
type Departure struct {
	ID        string
	VehicleID string
}

// Route is a stop pattern of a line (typically one direction).
type Route struct {
	ID         string
	Departures []Departure
}

// Line groups the routes operated under one public line identity.
type Line struct {
	ID     string
	Routes []Route
}

// Schedule is the static transit supply: lines -> routes -> departures.
type Schedule struct {
	Lines []Line
}

// Counts returns the number of lines, routes and departures.
func (s *Schedule) Counts() (lines, routes, departures int) {
	if s == nil {
		return 0, 0, 0
	}
	for _, l := range s.Lines {
		lines++
		for _, r := range l.Routes {
			routes++
			departures += len(r.Departures)
		}
	}
	return lines, routes, departures
}

// TripRow is a flat trips-table record as found in GTFS, used to assemble a
// Schedule from row-oriented sources.
type TripRow struct {
	TripID      string
	RouteID     string
	DirectionID int
	BlockID     string
}

// FromTripRows groups rows into lines (GTFS routes) and routes (line+direction).
// A trip's vehicle is its block when set, otherwise the trip itself. Lines and
// routes keep the order of their first appearance.
func FromTripRows(rows []TripRow) *Schedule {
	s := &Schedule{}
	lineIdx := make(map[string]int)
	routeIdx := make(map[string]int)
	for _, row := range rows {
		li, ok := lineIdx[row.RouteID]
		if !ok {
			li = len(s.Lines)
			lineIdx[row.RouteID] = li
			s.Lines = append(s.Lines, Line{ID: row.RouteID})
		}
		line := &s.Lines[li]

		routeID := RouteID(row.RouteID, row.DirectionID)
		ri, ok := routeIdx[routeID]
		if !ok {
			ri = len(line.Routes)
			routeIdx[routeID] = ri
			line.Routes = append(line.Routes, Route{ID: routeID})
		}
		vehicle := row.BlockID
		if vehicle == "" {
			vehicle = row.TripID
		}
		line.Routes[ri].Departures = append(line.Routes[ri].Departures, Departure{ID: row.TripID, VehicleID: vehicle})
	}
	return s
}
