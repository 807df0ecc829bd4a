// Package config loads simulator settings. SIM_* environment variables
// override the config file, which overrides the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"exchange-latency-sim/src/engine"
	"exchange-latency-sim/src/latency"
	"exchange-latency-sim/src/logger"
	"exchange-latency-sim/src/replay"
	"exchange-latency-sim/src/strategy"
)

const envPrefix = "SIM"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Simulation SimulationConfig `mapstructure:"simulation"`
	Network    NetworkConfig    `mapstructure:"network"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Logger     logger.Config    `mapstructure:"logger"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type SimulationConfig struct {
	Seed       uint64  `mapstructure:"seed"`
	TicksPerMs float64 `mapstructure:"ticks_per_ms"`
	PriceScale int64   `mapstructure:"price_scale"`
	ViewDepth  int     `mapstructure:"view_depth"`
	// ReplayFile is a CSV tape; empty runs the bundled sample.
	ReplayFile string `mapstructure:"replay_file"`
}

// NetworkConfig selects a built-in profile by name, or describes a custom
// path when Profile is empty.
type NetworkConfig struct {
	Profile         string  `mapstructure:"profile"`
	BaseLatencyMs   float64 `mapstructure:"base_latency_ms"`
	JitterScaleMs   float64 `mapstructure:"jitter_scale_ms"`
	DropProbability float64 `mapstructure:"drop_probability"`
}

// StrategyConfig parameterises the reference market maker. Prices are
// decimal strings in quote units.
type StrategyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	TriggerBid string `mapstructure:"trigger_bid"`
	Price      string `mapstructure:"price"`
	Quantity   int64  `mapstructure:"quantity"`
	OrderID    uint64 `mapstructure:"order_id"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("simulation.seed", 42)
	v.SetDefault("simulation.ticks_per_ms", 1000)
	v.SetDefault("simulation.price_scale", 100)
	v.SetDefault("simulation.view_depth", 5)
	v.SetDefault("simulation.replay_file", "")

	v.SetDefault("network.profile", "colo")
	v.SetDefault("network.base_latency_ms", 0)
	v.SetDefault("network.jitter_scale_ms", 0)
	v.SetDefault("network.drop_probability", 0)

	v.SetDefault("strategy.enabled", true)
	v.SetDefault("strategy.trigger_bid", "100.00")
	v.SetDefault("strategy.price", "100.50")
	v.SetDefault("strategy.quantity", 10)
	v.SetDefault("strategy.order_id", 999)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/sim.log")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 7)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("metrics.enabled", true)
}

// Load reads path (toml, yaml or json by extension) when non-empty, applies
// SIM_* overrides such as SIM_NETWORK_PROFILE and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	s := c.Simulation
	if s.TicksPerMs <= 0 {
		return fmt.Errorf("%w: simulation.ticks_per_ms must be > 0", ErrInvalid)
	}
	if s.PriceScale <= 0 {
		return fmt.Errorf("%w: simulation.price_scale must be > 0", ErrInvalid)
	}
	if s.ViewDepth < 0 {
		return fmt.Errorf("%w: simulation.view_depth must be >= 0", ErrInvalid)
	}
	if _, err := c.Network.Resolve(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Strategy.Enabled {
		if _, err := c.Strategy.MarketMaker(s.PriceScale); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("%w: http.addr is required", ErrInvalid)
	}
	return nil
}

// Resolve returns the latency model config this section describes.
func (n NetworkConfig) Resolve() (latency.NetworkConfig, error) {
	if n.Profile != "" {
		cfg, ok := latency.Profile(n.Profile)
		if !ok {
			return latency.NetworkConfig{}, fmt.Errorf("unknown network profile %q", n.Profile)
		}
		return cfg, nil
	}
	cfg := latency.NetworkConfig{
		Name:            "custom",
		BaseLatencyMs:   n.BaseLatencyMs,
		JitterScaleMs:   n.JitterScaleMs,
		DropProbability: n.DropProbability,
	}
	return cfg, cfg.Validate()
}

// MarketMaker builds the configured strategy with prices converted to ticks.
func (s StrategyConfig) MarketMaker(scale int64) (*strategy.SimpleMarketMaker, error) {
	trigger, err := replay.ParsePrice(s.TriggerBid, scale)
	if err != nil {
		return nil, fmt.Errorf("strategy.trigger_bid: %w", err)
	}
	price, err := replay.ParsePrice(s.Price, scale)
	if err != nil {
		return nil, fmt.Errorf("strategy.price: %w", err)
	}
	if s.Quantity <= 0 {
		return nil, fmt.Errorf("strategy.quantity must be > 0, got %d", s.Quantity)
	}
	if s.OrderID == 0 {
		return nil, errors.New("strategy.order_id must be set")
	}
	return &strategy.SimpleMarketMaker{
		TriggerBid: trigger,
		OrderID:    engine.OrderID(s.OrderID),
		Price:      price,
		Quantity:   s.Quantity,
	}, nil
}
