// Package config assembles the service configuration from defaults, an
// optional YAML file and GRANTSYNC_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/mkoziy/grants/syncer/internal/api"
	"github.com/mkoziy/grants/syncer/internal/database"
	"github.com/mkoziy/grants/syncer/internal/eligibility"
	"github.com/mkoziy/grants/syncer/internal/events"
	"github.com/mkoziy/grants/syncer/internal/pipeline"
	"github.com/mkoziy/grants/syncer/internal/scheduler"
	"github.com/mkoziy/grants/syncer/internal/sources/grantsgov"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GRANTSYNC"

type ctxKey string

const configContextKey ctxKey = "grantsync.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// Logging selects the log level and output format.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel maps Level onto slog; unknown values fall back to info.
func (l Logging) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Config is the complete service configuration.
type Config struct {
	Database    database.Config   `yaml:"database"`
	Source      grantsgov.Config  `yaml:"source"`
	Sync        pipeline.Config   `yaml:"sync"`
	Eligibility eligibility.Rules `yaml:"eligibility"`
	HTTP        api.Config        `yaml:"http"`
	Schedule    scheduler.Config  `yaml:"schedule"`
	Redis       events.Config     `yaml:"redis"`
	Logging     Logging           `yaml:"logging"`
}

// Default returns a configuration that syncs into a local SQLite file once a day.
func Default() *Config {
	return &Config{
		Database:    database.DefaultConfig(),
		Source:      grantsgov.DefaultConfig(),
		Sync:        pipeline.DefaultConfig(),
		Eligibility: eligibility.DefaultRules(),
		HTTP:        api.DefaultConfig(),
		Schedule:    scheduler.DefaultConfig(),
		Redis:       events.Config{Channel: events.DefaultChannel},
		Logging:     Logging{Level: "info", Format: "json"},
	}
}

// Load overlays the YAML file at path (if any) and the environment onto the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	cfg.Eligibility = cfg.Eligibility.WithDefaults()
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case database.DriverSQLite, database.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database driver %q is not supported", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if err := c.Source.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sync batch size must be positive, got %d", c.Sync.BatchSize))
	}
	if c.Sync.StaleAfter <= 0 {
		errs = append(errs, errors.New("sync stale_after must be positive"))
	}
	if err := c.Schedule.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging format %q must be json or text", c.Logging.Format))
	}
	return errors.Join(errs...)
}
