// Package config loads and validates bookmeta configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/bookmeta/internal/logging"
	"github.com/JakeFAU/bookmeta/internal/parser"
	"github.com/JakeFAU/bookmeta/internal/resolver"
)

// Cache backends.
const (
	CacheMemory   = "memory"
	CachePostgres = "postgres"
)

// Storage backends.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures every configuration knob.
type Config struct {
	Site    SiteConfig     `mapstructure:"site"`
	HTTP    HTTPConfig     `mapstructure:"http"`
	Lookup  LookupConfig   `mapstructure:"lookup"`
	Parsing ParsingConfig  `mapstructure:"parsing"`
	Cache   CacheConfig    `mapstructure:"cache"`
	Storage StorageConfig  `mapstructure:"storage"`
	Server  ServerConfig   `mapstructure:"server"`
	Logging logging.Config `mapstructure:"logging"`
}

// SiteConfig identifies the client to the catalog site.
type SiteConfig struct {
	UserAgent string `mapstructure:"user_agent"`
}

// HTTPConfig bounds network calls.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	CoverTimeout time.Duration `mapstructure:"cover_timeout"`
}

// LookupConfig controls candidate discovery and worker scheduling.
type LookupConfig struct {
	StartDelay          time.Duration `mapstructure:"start_delay"`
	SearchBase          string        `mapstructure:"search_base"`
	MaxSearchCandidates int           `mapstructure:"max_search_candidates"`
}

// ParsingConfig toggles optional extraction steps.
type ParsingConfig struct {
	ParseSeries    bool `mapstructure:"parse_series"`
	ParseComments  bool `mapstructure:"parse_comments"`
	ParseRating    bool `mapstructure:"parse_rating"`
	AddIdentifier  bool `mapstructure:"add_identifier"`
	VerboseLogging bool `mapstructure:"verbose_logging"`
}

// Options converts the section into parser options.
func (p ParsingConfig) Options() parser.Options {
	return parser.Options{
		ParseSeries:    p.ParseSeries,
		ParseComments:  p.ParseComments,
		ParseRating:    p.ParseRating,
		AddIdentifier:  p.AddIdentifier,
		VerboseLogging: p.VerboseLogging,
	}
}

// CacheConfig selects the cover URL / ISBN cache backend.
type CacheConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig configures the Postgres cache.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	CoverTable      string        `mapstructure:"cover_table"`
	ISBNTable       string        `mapstructure:"isbn_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// StorageConfig selects where downloaded covers are persisted.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Prefix  string      `mapstructure:"prefix"`
	Local   LocalConfig `mapstructure:"local"`
	GCS     GCSConfig   `mapstructure:"gcs"`
}

// LocalConfig configures filesystem storage.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSConfig configures Cloud Storage.
type GCSConfig struct {
	Bucket      string `mapstructure:"bucket"`
	CheckBucket bool   `mapstructure:"check_bucket"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load builds a Config from defaults, an optional file and BOOKMETA_* environment
// variables. With an empty path, a "bookmeta" config file is searched for in
// the working directory, /etc/bookmeta and $HOME/.bookmeta; none is required.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKMETA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("bookmeta")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bookmeta/")
		v.AddConfigPath("$HOME/.bookmeta")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.user_agent", "bookmeta/0.1 (+https://github.com/JakeFAU/bookmeta)")
	v.SetDefault("http.timeout", "20s")
	v.SetDefault("http.cover_timeout", "30s")
	v.SetDefault("lookup.start_delay", "1s")
	v.SetDefault("lookup.search_base", "https://www.google.com/search?q=site:databazeknih.cz+")
	v.SetDefault("lookup.max_search_candidates", 2)
	v.SetDefault("parsing.parse_series", true)
	v.SetDefault("parsing.parse_comments", true)
	v.SetDefault("parsing.parse_rating", true)
	v.SetDefault("parsing.add_identifier", true)
	v.SetDefault("parsing.verbose_logging", false)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.postgres.cover_table", "cover_urls")
	v.SetDefault("cache.postgres.isbn_table", "isbn_identifiers")
	v.SetDefault("cache.postgres.ensure_schema", true)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.prefix", "covers")
	v.SetDefault("storage.local.base_dir", "data/covers")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Lookup.StartDelay <= 0 {
		return fmt.Errorf("lookup.start_delay must be > 0")
	}
	if c.Lookup.MaxSearchCandidates <= 0 || c.Lookup.MaxSearchCandidates > resolver.DefaultMaxSearchCandidates {
		return fmt.Errorf("lookup.max_search_candidates must be between 1 and %d", resolver.DefaultMaxSearchCandidates)
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CachePostgres:
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("cache.postgres.dsn must be set when cache.backend is postgres")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
		}
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}
