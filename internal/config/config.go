package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/virelang/coordination/internal/reward"
	"github.com/virelang/coordination/internal/schema"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Bus      BusConfig      `json:"bus"`
	Planner  PlannerConfig  `json:"planner"`
	Bridge   BridgeConfig   `json:"bridge"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type BusConfig struct {
	// ValidatorMode is "strict" (block invalid messages) or "off"
	// (deliver with a warning audit).
	ValidatorMode string `json:"validator_mode"`
}

type PlannerConfig struct {
	Period    int                       `json:"period"`
	VerifyMap map[string]reward.Verdict `json:"verify_map"`
}

type BridgeConfig struct {
	PromotionThreshold float64 `json:"promotion_threshold"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Bus.ValidatorMode == "" {
		c.Bus.ValidatorMode = schema.ModeStrict
	}
	if c.Planner.Period == 0 {
		c.Planner.Period = 3
	}
	if c.Bridge.PromotionThreshold == 0 {
		c.Bridge.PromotionThreshold = 0.5
	}
}

// Validate fails fast on configuration errors that must not surface per
// message: a bad validator mode, a non-positive period, or a verify map
// missing any of its three required statuses.
func (c *Config) Validate() error {
	if c.Bus.ValidatorMode != schema.ModeStrict && c.Bus.ValidatorMode != schema.ModeOff {
		return fmt.Errorf("bus.validator_mode must be %q or %q, got %q",
			schema.ModeStrict, schema.ModeOff, c.Bus.ValidatorMode)
	}
	if c.Planner.Period <= 0 {
		return fmt.Errorf("planner.period must be positive, got %d", c.Planner.Period)
	}
	if len(c.Planner.VerifyMap) > 0 {
		if _, err := reward.NewPolicy(c.Planner.VerifyMap); err != nil {
			return fmt.Errorf("planner.verify_map: %w", err)
		}
	}
	if c.Bridge.PromotionThreshold < 0 || c.Bridge.PromotionThreshold > 1 {
		return fmt.Errorf("bridge.promotion_threshold must be in [0,1], got %v", c.Bridge.PromotionThreshold)
	}
	return nil
}

// RewardPolicy builds the planner's reward policy from the verify map,
// falling back to the stock mapping when none is configured.
func (c *Config) RewardPolicy() (*reward.Policy, error) {
	if len(c.Planner.VerifyMap) == 0 {
		return reward.DefaultPolicy(), nil
	}
	return reward.NewPolicy(c.Planner.VerifyMap)
}
