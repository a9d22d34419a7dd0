// Package config loads the job runner configuration from YAML or JSON.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalidConfig     = errors.New("invalid config")
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

const (
	DriverMemory    = "memory"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
)

type Config struct {
	// Scope labels the child scopes of the executions.
	Scope     string          `koanf:"scope"`
	Log       LogConfig       `koanf:"log"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Store     StoreConfig     `koanf:"store"`
	HTTP      HTTPConfig      `koanf:"http"`
	Jobs      []JobConfig     `koanf:"jobs"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	// Format is either "console" or "json".
	Format string `koanf:"format"`
}

type SchedulerConfig struct {
	Heartbeat  time.Duration `koanf:"heartbeat"`
	MinBackoff time.Duration `koanf:"min_backoff"`
	MaxBackoff time.Duration `koanf:"max_backoff"`
	Jitter     time.Duration `koanf:"jitter"`
}

type StoreConfig struct {
	Driver    string          `koanf:"driver"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	Firestore FirestoreConfig `koanf:"firestore"`
}

type PostgresConfig struct {
	DSN          string        `koanf:"dsn"`
	Table        string        `koanf:"table"`
	LockDuration time.Duration `koanf:"lock_duration"`
	Migrate      bool          `koanf:"migrate"`
}

type FirestoreConfig struct {
	ProjectID    string        `koanf:"project_id"`
	Collection   string        `koanf:"collection"`
	LockDuration time.Duration `koanf:"lock_duration"`
}

type HTTPConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// JobConfig is a job scheduled at startup. Exactly one of Cron and Interval must be set.
type JobConfig struct {
	Key      string        `koanf:"key"`
	Type     string        `koanf:"type"`
	Cron     string        `koanf:"cron"`
	Interval time.Duration `koanf:"interval"`
	Payload  string        `koanf:"payload"`
}

func Default() Config {
	return Config{
		Scope: "job",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Scheduler: SchedulerConfig{
			Heartbeat:  10 * time.Second,
			MinBackoff: 10 * time.Second,
			MaxBackoff: 10 * time.Minute,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			Postgres: PostgresConfig{
				Table:        "schedules",
				LockDuration: 5 * time.Minute,
			},
			Firestore: FirestoreConfig{
				Collection:   "schedules",
				LockDuration: 5 * time.Minute,
			},
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads the file at path. The format is taken from the extension.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	format, err := detectFormat(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config '%s': %w", path, err)
	}
	return Parse(data, format)
}

// Parse reads the configuration from data, on top of the defaults.
func Parse(data []byte, format Format) (Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, not only the first.
func (c Config) Validate() error {
	var err error
	if c.Scope == "" {
		err = multierr.Append(err, errors.New("scope name is required"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown log format '%s'", c.Log.Format))
	}
	if c.Scheduler.MinBackoff <= 0 || c.Scheduler.MaxBackoff < c.Scheduler.MinBackoff {
		err = multierr.Append(err, fmt.Errorf("backoff must satisfy 0 < min (%s) <= max (%s)", c.Scheduler.MinBackoff, c.Scheduler.MaxBackoff))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			err = multierr.Append(err, errors.New("postgres dsn is required"))
		}
	case DriverFirestore:
		if c.Store.Firestore.ProjectID == "" {
			err = multierr.Append(err, errors.New("firestore project id is required"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown store driver '%s'", c.Store.Driver))
	}

	keys := map[string]bool{}
	for i, j := range c.Jobs {
		if j.Key == "" || j.Type == "" {
			err = multierr.Append(err, fmt.Errorf("job #%d: key and type are required", i))
		}
		if keys[j.Key] {
			err = multierr.Append(err, fmt.Errorf("job '%s': duplicate key", j.Key))
		}
		keys[j.Key] = true
		if (j.Cron == "") == (j.Interval <= 0) {
			err = multierr.Append(err, fmt.Errorf("job '%s': exactly one of cron and interval is required", j.Key))
		}
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func detectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension '%s'", ErrUnsupportedFormat, ext)
	}
}
