package schedule

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jamespfennell/gtfs"
)

// RouteID names the transit route of a GTFS line in one direction.
func RouteID(lineID string, direction int) string {
	return lineID + "_" + strconv.Itoa(direction)
}

// LoadGTFS reads a static GTFS zip from disk.
func LoadGTFS(path string) (*Schedule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading GTFS file: %w", err)
	}
	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("error parsing GTFS data: %w", err)
	}
	return FromGTFS(static), nil
}

// FromGTFS builds a Schedule from parsed static GTFS. Trips without a route are
// skipped.
func FromGTFS(static *gtfs.Static) *Schedule {
	if static == nil {
		return &Schedule{}
	}
	rows := make([]TripRow, 0, len(static.Trips))
	for _, t := range static.Trips {
		if t.Route == nil {
			continue
		}
		rows = append(rows, TripRow{
			TripID:      t.ID,
			RouteID:     t.Route.Id,
			DirectionID: int(t.DirectionId),
			BlockID:     t.BlockID,
		})
	}
	return FromTripRows(rows)
}
