// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Durable cache backends.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
)

// UpstreamConfig controls outbound provider calls.
type UpstreamConfig struct {
	Timeout       time.Duration `env:"UPSTREAM_TIMEOUT"          envDefault:"15s"`
	UserAgent     string        `env:"UPSTREAM_USER_AGENT"       envDefault:"World-Data-Explorer/1.0"`
	RatePerSecond float64       `env:"UPSTREAM_RATE_PER_SECOND"  envDefault:"10"`
	Burst         int           `env:"UPSTREAM_BURST"            envDefault:"5"`
	RestCountries string        `env:"RESTCOUNTRIES_BASE_URL"    envDefault:"https://restcountries.com/v3.1"`
	WorldBank     string        `env:"WORLDBANK_BASE_URL"        envDefault:"https://api.worldbank.org/v2"`
	OWID          string        `env:"OWID_BASE_URL"             envDefault:"https://ourworldindata.org/grapher"`
	Wikidata      string        `env:"WIKIDATA_SPARQL_URL"       envDefault:"https://query.wikidata.org/sparql"`
}

// CacheConfig selects and configures the cache tiers.
type CacheConfig struct {
	Backend             string        `env:"CACHE_BACKEND"              envDefault:"memory"`
	MaxEntries          int           `env:"CACHE_MAX_ENTRIES"          envDefault:"10000"`
	CleanupEvery        time.Duration `env:"CACHE_CLEANUP_EVERY"        envDefault:"60s"`
	WriteTimeout        time.Duration `env:"CACHE_WRITE_TIMEOUT"        envDefault:"10s"`
	RedisURL            string        `env:"REDIS_URL"`
	RedisAddr           string        `env:"REDIS_ADDR"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	RedisDB             int           `env:"REDIS_DB"`
	KeyPrefix           string        `env:"CACHE_KEY_PREFIX"           envDefault:"worldstats:"`
	FirestoreCollection string        `env:"FIRESTORE_CACHE_COLLECTION" envDefault:"cache_entries"`
	SQLitePath          string        `env:"SQLITE_PATH"                envDefault:"worldstats-cache.db"`
	PostgresDSN         string        `env:"POSTGRES_DSN"`
}

// EnrichmentConfig sizes the deferred enrichment workers.
type EnrichmentConfig struct {
	Workers     int           `env:"ENRICHMENT_WORKERS"      envDefault:"2"`
	QueueSize   int           `env:"ENRICHMENT_QUEUE_SIZE"   envDefault:"100"`
	TaskTimeout time.Duration `env:"ENRICHMENT_TASK_TIMEOUT" envDefault:"30s"`
}

// PrefetchConfig controls cache warming at startup.
type PrefetchConfig struct {
	Enabled     bool          `env:"PREFETCH"`
	Regions     []string      `env:"PREFETCH_REGIONS"     envDefault:"Asia,Europe" envSeparator:","`
	Concurrency int           `env:"PREFETCH_CONCURRENCY" envDefault:"3"`
	Pace        time.Duration `env:"PREFETCH_PACE"        envDefault:"200ms"`
}

// ExportConfig enables snapshot export. Each sink is on when its id is set.
type ExportConfig struct {
	BigQueryDataset string        `env:"EXPORT_BQ_DATASET"`
	BigQueryTable   string        `env:"EXPORT_BQ_TABLE"        envDefault:"country_snapshots"`
	PubSubTopic     string        `env:"EXPORT_PUBSUB_TOPIC"`
	BatchSize       int           `env:"EXPORT_BATCH_SIZE"      envDefault:"50"`
	FlushInterval   time.Duration `env:"EXPORT_FLUSH_INTERVAL"  envDefault:"30s"`
	InsertTimeout   time.Duration `env:"EXPORT_INSERT_TIMEOUT"  envDefault:"30s"`
}

// Enabled reports whether any export sink is configured.
func (e ExportConfig) Enabled() bool {
	return e.BigQueryDataset != "" || e.PubSubTopic != ""
}

// Config is the whole service configuration.
type Config struct {
	Port            string        `env:"PORT"             envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	LogPretty       bool          `env:"LOG_PRETTY"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"  envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	ProjectID       string        `env:"GCP_PROJECT_ID"`
	CredentialsFile string        `env:"GCP_CREDENTIALS_FILE"`

	Upstream   UpstreamConfig
	Cache      CacheConfig
	Enrichment EnrichmentConfig
	Prefetch   PrefetchConfig
	Export     ExportConfig
}

// Load parses the process environment and validates the result.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environment map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	switch c.Cache.Backend {
	case BackendMemory, "":
	case BackendRedis:
		if c.Cache.RedisURL == "" && c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("CACHE_BACKEND=redis requires REDIS_URL or REDIS_ADDR"))
		}
	case BackendFirestore:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("CACHE_BACKEND=firestore requires GCP_PROJECT_ID"))
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Cache.SQLitePath) == "" {
			errs = append(errs, errors.New("CACHE_BACKEND=sqlite requires SQLITE_PATH"))
		}
	case BackendPostgres:
		if c.Cache.PostgresDSN == "" {
			errs = append(errs, errors.New("CACHE_BACKEND=postgres requires POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend))
	}

	if c.Export.Enabled() && c.ProjectID == "" {
		errs = append(errs, errors.New("snapshot export requires GCP_PROJECT_ID"))
	}
	if c.Prefetch.Concurrency <= 0 {
		errs = append(errs, errors.New("PREFETCH_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address derived from Port.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
