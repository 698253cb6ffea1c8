package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EventsFromFile = "file"
	EventsFromNATS = "nats"

	ScheduleGTFS     = "gtfs"
	SchedulePostgres = "postgres"
	ScheduleNone     = "none"
)

type Config struct {
	CalibrationFile string
	OutputDir       string

	EventsSource      string
	EventsFile        string
	NATSEventsSubject string
	EventBuffer       int
	Workers           int

	ScheduleSource string
	GTFSPath       string
	DatabaseURL    string
	City           string

	NATSURL              string
	PublishConstants     bool
	NATSConstantsSubject string

	StoreDSN    string
	HTTPAddr    string
	CORSOrigins []string
	LogFormat   string
	LogLevel    string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		CalibrationFile:      getenvDefault("CALIBRATION_FILE", "calibration.yaml"),
		OutputDir:            getenvDefault("OUTPUT_DIR", "output"),
		EventsFile:           getenvDefault("EVENTS_FILE", "-"),
		NATSEventsSubject:    getenvDefault("NATS_EVENTS_SUBJECT", "sim.events"),
		GTFSPath:             os.Getenv("GTFS_PATH"),
		NATSURL:              getenvDefault("NATS_URL", "nats://127.0.0.1:4222"),
		NATSConstantsSubject: getenvDefault("NATS_CONSTANTS_SUBJECT", "calibration.constants"),
		StoreDSN:             os.Getenv("STORE_DSN"),
		LogFormat:            getenvDefault("LOG_FORMAT", "json"),
		LogLevel:             getenvDefault("LOG_LEVEL", "info"),
		// Empty disables the HTTP server.
		HTTPAddr: firstNonEmpty(os.Getenv("HTTP_ADDR"), os.Getenv("METRICS_ADDR")),
		City:     firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME")),
	}

	cfg.EventsSource = strings.ToLower(getenvDefault("EVENTS_SOURCE", EventsFromFile))
	switch cfg.EventsSource {
	case EventsFromFile, EventsFromNATS:
	default:
		return nil, fmt.Errorf("invalid EVENTS_SOURCE: %q", cfg.EventsSource)
	}

	var err error
	if cfg.EventBuffer, err = positiveInt("EVENT_BUFFER", 65536); err != nil {
		return nil, err
	}
	if cfg.Workers, err = positiveInt("WORKERS", 1); err != nil {
		return nil, err
	}
	cfg.PublishConstants = parseBool(os.Getenv("PUBLISH_CONSTANTS"))
	cfg.CORSOrigins = splitList(os.Getenv("CORS_ORIGINS"))

	// Schedule defaults to the GTFS zip when a path is given.
	def := ScheduleNone
	if cfg.GTFSPath != "" {
		def = ScheduleGTFS
	}
	cfg.ScheduleSource = strings.ToLower(getenvDefault("SCHEDULE_SOURCE", def))
	switch cfg.ScheduleSource {
	case ScheduleNone:
	case ScheduleGTFS:
		if cfg.GTFSPath == "" {
			return nil, errors.New("GTFS_PATH must be set when SCHEDULE_SOURCE=gtfs")
		}
	case SchedulePostgres:
		if cfg.DatabaseURL, err = databaseURL(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid SCHEDULE_SOURCE: %q", cfg.ScheduleSource)
	}

	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars.
func databaseURL() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	// If CITY is provided, default base DB to 'postgres' when PGDATABASE is not set.
	if db == "" && firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME")) != "" {
		db = "postgres"
	}
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using CITY)")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func positiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
