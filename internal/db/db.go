package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"mode-calibrator/internal/schedule"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Driver picks the database/sql driver for dsn: postgres:// and postgresql://
// go to pgx, "sqlite:" prefixes and bare paths to sqlite.
func Driver(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite:"):
		return DriverSQLite, strings.TrimPrefix(dsn, "sqlite:")
	default:
		return DriverSQLite, dsn
	}
}

// Open opens dsn with the driver chosen by Driver.
func Open(dsn string) (*sql.DB, string, error) {
	driver, source := Driver(dsn)
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, "", err
	}
	if driver == DriverSQLite {
		// one connection keeps ":memory:" databases alive and serializes writers
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, driver, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchSchedule reads the GTFS trips table into a Schedule.
func FetchSchedule(ctx context.Context, db *sql.DB) (*schedule.Schedule, error) {
	q := `SELECT trip_id, route_id, COALESCE(CAST(direction_id AS INTEGER), 0), COALESCE(block_id, '')
FROM trips ORDER BY route_id, trip_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []schedule.TripRow
	for rows.Next() {
		var t schedule.TripRow
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.DirectionID, &t.BlockID); err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schedule.FromTripRows(trips), nil
}
