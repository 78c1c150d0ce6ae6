// Package config loads the ingestion service configuration from the
// environment, failing fast at startup on anything missing or invalid.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// MinSyncInterval is the floor on the scheduler interval. Configuration
// below it is clamped, never honored.
const MinSyncInterval = 60 * time.Second

const defaultSyncIntervalSeconds = 300

type Config struct {
	DatabaseURL string // INGEST_DATABASE_URL (required)

	S3Bucket   string // INGEST_S3_BUCKET (required)
	S3Region   string // INGEST_S3_REGION (default "us-east-1")
	S3Endpoint string // INGEST_S3_ENDPOINT (custom endpoint for MinIO)

	SourcePrefix    string // INGEST_S3_SOURCE_PREFIX (required)
	ProcessedPrefix string // INGEST_S3_PROCESSED_PREFIX (default "<source>PROCESSED/")
	ErrorsPrefix    string // INGEST_S3_ERRORS_PREFIX (default "<processed>ERRORS/")

	SyncInterval time.Duration // INGEST_SYNC_INTERVAL, seconds (default 300, floor 60)
	// IntervalClamped is set when the configured interval was below the
	// floor; the caller logs it so the clamp is never silent.
	IntervalClamped bool

	Stage string // INGEST_STAGE (default "dev")

	CollDeclarePT     string // INGEST_COLL_DECLARE_PT (default "declare_pt_events")
	CollConsumirVasot string // INGEST_COLL_CONSUMIR_VASOT (default "consume_vasot_events")

	RoutesFile string // INGEST_ROUTES_FILE (optional TOML collection overrides)

	NATSURL     string // INGEST_NATS_URL (optional, empty = no events)
	MetricsAddr string // INGEST_METRICS_ADDR (optional, empty = no metrics listener)

	Workers int // INGEST_WORKERS (default 4, 1..16)
}

// routesFile is the shape of the optional TOML override file:
//
//	[collections]
//	DECLARE_PT = "declare_pt_events_v2"
//	CONSUMIR_VASOT = "consume_vasot_events_v2"
type routesFile struct {
	Collections map[string]string `toml:"collections"`
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("INGEST_DATABASE_URL"),
		S3Bucket:          os.Getenv("INGEST_S3_BUCKET"),
		S3Region:          envOrDefault("INGEST_S3_REGION", "us-east-1"),
		S3Endpoint:        os.Getenv("INGEST_S3_ENDPOINT"),
		SourcePrefix:      os.Getenv("INGEST_S3_SOURCE_PREFIX"),
		Stage:             envOrDefault("INGEST_STAGE", "dev"),
		CollDeclarePT:     envOrDefault("INGEST_COLL_DECLARE_PT", "declare_pt_events"),
		CollConsumirVasot: envOrDefault("INGEST_COLL_CONSUMIR_VASOT", "consume_vasot_events"),
		RoutesFile:        os.Getenv("INGEST_ROUTES_FILE"),
		NATSURL:           os.Getenv("INGEST_NATS_URL"),
		MetricsAddr:       os.Getenv("INGEST_METRICS_ADDR"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("INGEST_DATABASE_URL is required")
	}
	if c.S3Bucket == "" {
		return nil, fmt.Errorf("INGEST_S3_BUCKET is required")
	}
	if c.SourcePrefix == "" {
		return nil, fmt.Errorf("INGEST_S3_SOURCE_PREFIX is required")
	}

	c.SourcePrefix = ensureTrailingSlash(c.SourcePrefix)
	c.ProcessedPrefix = ensureTrailingSlash(
		envOrDefault("INGEST_S3_PROCESSED_PREFIX", c.SourcePrefix+"PROCESSED/"))
	c.ErrorsPrefix = ensureTrailingSlash(
		envOrDefault("INGEST_S3_ERRORS_PREFIX", c.ProcessedPrefix+"ERRORS/"))

	seconds, err := envInt("INGEST_SYNC_INTERVAL", defaultSyncIntervalSeconds)
	if err != nil {
		return nil, err
	}
	c.SyncInterval = time.Duration(seconds) * time.Second
	if c.SyncInterval < MinSyncInterval {
		c.SyncInterval = MinSyncInterval
		c.IntervalClamped = true
	}

	c.Workers, err = envInt("INGEST_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	if c.Workers < 1 || c.Workers > 16 {
		return nil, fmt.Errorf("INGEST_WORKERS must be between 1 and 16, got %d", c.Workers)
	}

	if c.RoutesFile != "" {
		if err := c.applyRoutesFile(c.RoutesFile); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// applyRoutesFile overrides the collection names from a TOML file. Unknown
// event kinds in the file are rejected rather than ignored, so a typo never
// silently routes everything to the defaults.
func (c *Config) applyRoutesFile(path string) error {
	var rf routesFile
	if _, err := toml.DecodeFile(path, &rf); err != nil {
		return fmt.Errorf("INGEST_ROUTES_FILE: %w", err)
	}
	for kind, coll := range rf.Collections {
		if coll == "" {
			return fmt.Errorf("INGEST_ROUTES_FILE: empty collection for %s", kind)
		}
		switch kind {
		case "DECLARE_PT":
			c.CollDeclarePT = coll
		case "CONSUMIR_VASOT":
			c.CollConsumirVasot = coll
		default:
			return fmt.Errorf("INGEST_ROUTES_FILE: unknown event kind %q", kind)
		}
	}
	return nil
}

func ensureTrailingSlash(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
