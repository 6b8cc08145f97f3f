package ratelimit

import "time"

// Config paces outbound requests to the feed host.
type Config struct {
	Strategy          Strategy      `yaml:"strategy" json:"strategy" envconfig:"STRATEGY"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second" split_words:"true"`
	Burst             int           `yaml:"burst" json:"burst"`
	Delay             time.Duration `yaml:"delay" json:"delay"`
}

// DefaultConfig keeps probing of the extract bucket polite.
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyTokenBucket,
		RequestsPerSecond: 2.0,
		Burst:             2,
		Delay:             500 * time.Millisecond,
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Delay <= 0 {
		cfg.Delay = def.Delay
	}
	return cfg
}
