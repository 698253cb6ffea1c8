package schedule

import (
	"testing"

	"github.com/jamespfennell/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTripRows(t *testing.T) {
	s := FromTripRows([]TripRow{
		{TripID: "t1", RouteID: "R1", DirectionID: 0, BlockID: "b1"},
		{TripID: "t2", RouteID: "R1", DirectionID: 1},
		{TripID: "t3", RouteID: "R2", DirectionID: 0},
		{TripID: "t4", RouteID: "R1", DirectionID: 0, BlockID: "b1"},
	})

	require.Len(t, s.Lines, 2)
	assert.Equal(t, "R1", s.Lines[0].ID)
	require.Len(t, s.Lines[0].Routes, 2)
	assert.Equal(t, "R1_0", s.Lines[0].Routes[0].ID)
	assert.Equal(t, []Departure{{ID: "t1", VehicleID: "b1"}, {ID: "t4", VehicleID: "b1"}}, s.Lines[0].Routes[0].Departures)
	assert.Equal(t, []Departure{{ID: "t2", VehicleID: "t2"}}, s.Lines[0].Routes[1].Departures)

	lines, routes, departures := s.Counts()
	assert.Equal(t, 2, lines)
	assert.Equal(t, 3, routes)
	assert.Equal(t, 4, departures)
}

func TestFromGTFS(t *testing.T) {
	route := &gtfs.Route{Id: "10", ShortName: "10"}
	static := &gtfs.Static{
		Routes: []gtfs.Route{*route},
		Trips: []gtfs.ScheduledTrip{
			{ID: "trip-a", Route: route, BlockID: "block-9"},
			{ID: "trip-b", Route: route},
			{ID: "orphan"},
		},
	}

	s := FromGTFS(static)
	require.Len(t, s.Lines, 1)
	assert.Equal(t, "10", s.Lines[0].ID)
	_, _, departures := s.Counts()
	assert.Equal(t, 2, departures)
	assert.Equal(t, "block-9", s.Lines[0].Routes[0].Departures[0].VehicleID)
	assert.Equal(t, "trip-b", s.Lines[0].Routes[0].Departures[1].VehicleID)
}

func TestLoadGTFS_MissingFile(t *testing.T) {
	_, err := LoadGTFS(t.TempDir() + "/nope.zip")
	assert.Error(t, err)
}

func TestCounts_NilSchedule(t *testing.T) {
	var s *Schedule
	lines, routes, departures := s.Counts()
	assert.Zero(t, lines+routes+departures)
}
