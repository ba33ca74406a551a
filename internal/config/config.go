package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration loaded from a YAML file. Durations and
// decimals are strings in the file and resolved by Load.
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	NATS struct {
		URL           string `yaml:"url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Auction struct {
		Duration     string `yaml:"duration"`
		MinIncrement string `yaml:"min_increment"`
	} `yaml:"auction"`
}

// Rules are the resolved auction parameters shared by the registry, the
// gateway and the deadline scheduler.
type Rules struct {
	Duration     time.Duration
	MinIncrement decimal.Decimal
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.StreamName = "AUCTION_EVENTS"
	cfg.NATS.SubjectPrefix = "auction.events"
	cfg.Auction.Duration = "48h"
	cfg.Auction.MinIncrement = "10"
	return cfg
}

// Load reads and parses the YAML config at path, filling in defaults for
// fields the file omits. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = def.HTTP.Addr
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = def.NATS.URL
	}
	if cfg.NATS.StreamName == "" {
		cfg.NATS.StreamName = def.NATS.StreamName
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = def.NATS.SubjectPrefix
	}
	if cfg.Auction.Duration == "" {
		cfg.Auction.Duration = def.Auction.Duration
	}
	if cfg.Auction.MinIncrement == "" {
		cfg.Auction.MinIncrement = def.Auction.MinIncrement
	}
}

// AuctionRules resolves the auction section into typed rules.
func (c *Config) AuctionRules() (Rules, error) {
	dur, err := time.ParseDuration(c.Auction.Duration)
	if err != nil {
		return Rules{}, fmt.Errorf("invalid auction duration %q: %w", c.Auction.Duration, err)
	}
	if dur <= 0 {
		return Rules{}, fmt.Errorf("auction duration must be positive, got %s", dur)
	}
	inc, err := decimal.NewFromString(c.Auction.MinIncrement)
	if err != nil {
		return Rules{}, fmt.Errorf("invalid min increment %q: %w", c.Auction.MinIncrement, err)
	}
	if !inc.IsPositive() {
		return Rules{}, fmt.Errorf("min increment must be positive, got %s", inc)
	}
	return Rules{Duration: dur, MinIncrement: inc}, nil
}
