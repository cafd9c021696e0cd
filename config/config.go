package config

import (
	"fmt"
	"os"
	"time"

	redis_wrapper "github.com/joripage/matchbook/pkg/infra/redis"
	"github.com/joripage/matchbook/pkg/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type EngineConfig struct {
	ReferencePrice string `yaml:"reference_price"`
	MinPrice       string `yaml:"min_price"`
	MaxPrice       string `yaml:"max_price"`
	TickNum        int64  `yaml:"tick_num"`
	TickDen        int64  `yaml:"tick_den"`
	WakerSleepMs   int    `yaml:"waker_sleep_ms"`
	TapeCapacity   int    `yaml:"time_and_sales_capacity"`
}

type FeedConfig struct {
	Enable       bool   `yaml:"enable"`
	IntervalMs   int    `yaml:"interval_ms"`
	TapeChannel  string `yaml:"tape_channel"`
	QuoteChannel string `yaml:"quote_channel"`
}

type FixConfig struct {
	Enable     bool   `yaml:"enable"`
	ConfigFile string `yaml:"config_file"`
}

type AppConfig struct {
	ServiceName string                     `yaml:"service_name"`
	LogLevel    string                     `yaml:"log_level"`
	Engine      *EngineConfig              `yaml:"engine"`
	Redis       *redis_wrapper.RedisConfig `yaml:"redis"`
	Feed        *FeedConfig                `yaml:"feed"`
	Fix         *FixConfig                 `yaml:"fix"`
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	sugar := zap.S().With("func", "config.Load", "filePath", filePath)
	sugar.Debug("Load config...")

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}
	if err := yaml.Unmarshal(configBytes, cfg); err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)
	return cfg, nil
}

// OrderbookConfig converts the YAML form into the orderbook configuration.
func (c *EngineConfig) OrderbookConfig() (orderbook.Config, error) {
	ref, err := decimal.NewFromString(c.ReferencePrice)
	if err != nil {
		return orderbook.Config{}, fmt.Errorf("reference_price: %w", err)
	}
	min, err := decimal.NewFromString(c.MinPrice)
	if err != nil {
		return orderbook.Config{}, fmt.Errorf("min_price: %w", err)
	}
	max, err := decimal.NewFromString(c.MaxPrice)
	if err != nil {
		return orderbook.Config{}, fmt.Errorf("max_price: %w", err)
	}
	return orderbook.Config{
		Reference:    ref,
		Min:          min,
		Max:          max,
		TickNum:      c.TickNum,
		TickDen:      c.TickDen,
		WakerSleep:   time.Duration(c.WakerSleepMs) * time.Millisecond,
		TapeCapacity: c.TapeCapacity,
	}, nil
}
