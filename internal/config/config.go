package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
)

// BeaconEndpoint configures one rate-limited route (full or archive) of
// the Beacon Client.
type BeaconEndpoint struct {
	BaseURL     string
	Concurrency int
	Retries     int
}

// Config is the fully resolved runtime configuration for the indexer
// process, assembled from environment variables per spec.md §6.
type Config struct {
	Chain ChainConfig

	Full    BeaconEndpoint
	Archive BeaconEndpoint

	BaseDelay time.Duration

	LookbackSlot uint64

	DatabaseURL string
}

// dsn assembles a PostgreSQL connection string from DATABASE_URL, falling
// back to the standard libpq PG* environment variables when
// DATABASE_URL is unset. Building a general-purpose URL builder is
// explicitly out of scope (spec.md §1); this is the minimal fallback a
// deployment without DATABASE_URL set still needs to boot.
func dsn() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := envOr("PGHOST", "localhost")
	port := envOr("PGPORT", "5432")
	user := envOr("PGUSER", "postgres")
	password := os.Getenv("PGPASSWORD")
	dbname := envOr("PGDATABASE", "postgres")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbname)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// FromEnv assembles a Config from the environment variables named in
// spec.md §6. Invalid or missing required values return an error; the
// caller (cmd/beacon-indexer) treats this as a fatal startup failure.
func FromEnv() (*Config, error) {
	chain := Chain(envOr("CHAIN", string(ChainEthereum)))
	chainCfg, err := ChainConfigFor(chain)
	if err != nil {
		return nil, errors.Wrap(err, "resolving CHAIN")
	}

	fullURL := os.Getenv("CONSENSUS_FULL_API_URL")
	if fullURL == "" {
		return nil, errors.New("CONSENSUS_FULL_API_URL is required")
	}
	archiveURL := os.Getenv("CONSENSUS_ARCHIVE_API_URL")
	if archiveURL == "" {
		return nil, errors.New("CONSENSUS_ARCHIVE_API_URL is required")
	}

	rps := chainCfg.ApiRequestPerSecond
	if v := os.Getenv("CONSENSUS_API_REQUEST_PER_SECOND"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &rps); err != nil {
			return nil, errors.Wrap(err, "parsing CONSENSUS_API_REQUEST_PER_SECOND")
		}
	}

	var lookback uint64
	lookbackStr := os.Getenv("CONSENSUS_LOOKBACK_SLOT")
	if lookbackStr == "" {
		return nil, errors.New("CONSENSUS_LOOKBACK_SLOT is required")
	}
	if _, err := fmt.Sscanf(lookbackStr, "%d", &lookback); err != nil {
		return nil, errors.Wrap(err, "parsing CONSENSUS_LOOKBACK_SLOT")
	}

	return &Config{
		Chain: chainCfg,
		Full: BeaconEndpoint{
			BaseURL:     fullURL,
			Concurrency: rps,
			Retries:     3,
		},
		Archive: BeaconEndpoint{
			BaseURL:     archiveURL,
			Concurrency: rps,
			Retries:     3,
		},
		BaseDelay:    500 * time.Millisecond,
		LookbackSlot: lookback,
		DatabaseURL:  dsn(),
	}, nil
}
