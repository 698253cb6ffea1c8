package boardings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mode-calibrator/internal/schedule"
)

func testSchedule() *schedule.Schedule {
	return &schedule.Schedule{Lines: []schedule.Line{
		{ID: "red", Routes: []schedule.Route{
			{ID: "red_0", Departures: []schedule.Departure{{ID: "d1", VehicleID: "veh_1"}, {ID: "d2", VehicleID: "veh_2"}}},
			{ID: "red_1", Departures: []schedule.Departure{{ID: "d3", VehicleID: "veh_3"}}},
		}},
		{ID: "blue", Routes: []schedule.Route{
			{ID: "blue_0", Departures: []schedule.Departure{{ID: "d4", VehicleID: "veh_4"}}},
		}},
	}}
}

func TestLineIndex(t *testing.T) {
	ix := NewLineIndex(testSchedule())

	line, ok := ix.LineForVehicle("veh_3")
	require.True(t, ok)
	assert.Equal(t, "red", line)

	line, ok = ix.LineForRoute("blue_0")
	require.True(t, ok)
	assert.Equal(t, "blue", line)

	_, ok = ix.LineForVehicle("car_17")
	assert.False(t, ok)

	assert.Equal(t, []string{"blue", "red"}, ix.Lines())
	assert.Equal(t, 4, ix.Vehicles())
}

func TestAggregator_RecordBoarding(t *testing.T) {
	a := NewAggregator(NewLineIndex(testSchedule()), DefaultOperatorPattern)

	assert.True(t, a.RecordBoarding("1", "veh_1"))
	assert.True(t, a.RecordBoarding("2", "veh_3"))
	assert.True(t, a.RecordBoarding("3", "veh_4"))
	assert.False(t, a.RecordBoarding("pt_veh_1_driver", "veh_1"), "drivers are not passengers")
	assert.False(t, a.RecordBoarding("4", "car_4"), "private vehicles are not transit")

	snap := a.Snapshot()
	assert.Equal(t, map[string]int{"red": 2, "blue": 1}, snap.Lines)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.Ignored)
}

func TestAggregator_EmptyPatternCountsEveryone(t *testing.T) {
	a := NewAggregator(NewLineIndex(testSchedule()), "")
	assert.True(t, a.RecordBoarding("pt_driver", "veh_1"))
}

func TestAggregator_Reset(t *testing.T) {
	ix := NewLineIndex(testSchedule())
	a := NewAggregator(ix, DefaultOperatorPattern)
	a.RecordBoarding("1", "veh_1")
	a.RecordBoarding("2", "veh_4")
	a.RecordBoarding("3", "unknown")

	a.Reset()

	snap := a.Snapshot()
	assert.Empty(t, snap.Lines)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.Ignored)
	assert.Same(t, ix, a.Index())

	assert.True(t, a.RecordBoarding("1", "veh_2"), "index must survive reset")
	assert.Equal(t, map[string]int{"red": 1}, a.Snapshot().Lines)
}

func TestBoardingSnapshot_Merge(t *testing.T) {
	var merged BoardingSnapshot
	merged.Merge(BoardingSnapshot{Lines: map[string]int{"red": 2}, Total: 2})
	merged.Merge(BoardingSnapshot{Lines: map[string]int{"red": 1, "blue": 4}, Total: 5, Ignored: 1})
	assert.Equal(t, BoardingSnapshot{Lines: map[string]int{"red": 3, "blue": 4}, Total: 7, Ignored: 1}, merged)
}

func TestNilInputs(t *testing.T) {
	a := NewAggregator(nil, DefaultOperatorPattern)
	assert.False(t, a.RecordBoarding("1", "veh_1"))
	assert.Empty(t, a.Index().Lines())
}
