package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the forecast service and the
// precompute batch job.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Forecast ForecastConfig `yaml:"forecast"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// DataConfig locates the raw records and the precomputed aggregate store.
type DataConfig struct {
	// RecordsPath points at a CSV export or a sqlite database of complaint
	// records; sqlite inputs also need RecordsTable.
	RecordsPath  string `yaml:"recordsPath"`
	RecordsTable string `yaml:"recordsTable"`
	StorePath    string `yaml:"storePath"`
}

// MetricConfig holds the per-metric forecasting constants.
type MetricConfig struct {
	MinMonths     int     `yaml:"minMonths"`
	MaxMAPE       float64 `yaml:"maxMAPE"`
	HorizonMonths int     `yaml:"horizonMonths"`
	TrendWindow   int     `yaml:"trendWindow"`
}

// ForecastConfig groups the metric constants with resolution policy knobs.
type ForecastConfig struct {
	Volume   MetricConfig `yaml:"volume"`
	Severity MetricConfig `yaml:"severity"`
	// RecencyYears bounds the MAPE comparison window.
	RecencyYears int `yaml:"recencyYears"`
	// ClosureThreshold decides whether one or two trailing months are
	// trimmed before fitting.
	ClosureThreshold float64 `yaml:"closureThreshold"`
	// ResultTTL bounds how long resolved forecasts are memoised.
	ResultTTL time.Duration `yaml:"resultTTL"`
}

// Metric returns the constants for the named metric.
func (f ForecastConfig) Metric(volume bool) MetricConfig {
	if volume {
		return f.Volume
	}
	return f.Severity
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FORECAST_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Data: DataConfig{
			RecordsPath: "data/records.csv",
			StorePath:   "data/aggregates.db",
		},
		Forecast: ForecastConfig{
			Volume: MetricConfig{
				MinMonths:     12,
				MaxMAPE:       50,
				HorizonMonths: 12,
				TrendWindow:   3,
			},
			Severity: MetricConfig{
				MinMonths:     6,
				MaxMAPE:       70,
				HorizonMonths: 6,
				TrendWindow:   2,
			},
			RecencyYears:     3,
			ClosureThreshold: 0.90,
			ResultTTL:        15 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func validate(cfg *Config) error {
	for _, mc := range []MetricConfig{cfg.Forecast.Volume, cfg.Forecast.Severity} {
		if mc.MinMonths < 2 {
			return fmt.Errorf("minMonths must be at least 2, got %d", mc.MinMonths)
		}
		if mc.MaxMAPE <= 0 {
			return fmt.Errorf("maxMAPE must be positive, got %v", mc.MaxMAPE)
		}
		if mc.HorizonMonths <= 0 {
			return fmt.Errorf("horizonMonths must be positive, got %d", mc.HorizonMonths)
		}
		if mc.TrendWindow < 1 {
			return fmt.Errorf("trendWindow must be at least 1, got %d", mc.TrendWindow)
		}
	}
	if cfg.Forecast.ClosureThreshold <= 0 || cfg.Forecast.ClosureThreshold > 1 {
		return fmt.Errorf("closureThreshold must be in (0,1], got %v", cfg.Forecast.ClosureThreshold)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORECAST_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("FORECAST_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("FORECAST_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("FORECAST_RECORDS_PATH"); v != "" {
		cfg.Data.RecordsPath = v
	}
	if v := os.Getenv("FORECAST_RECORDS_TABLE"); v != "" {
		cfg.Data.RecordsTable = v
	}
	if v := os.Getenv("FORECAST_STORE_PATH"); v != "" {
		cfg.Data.StorePath = v
	}
	if v := os.Getenv("FORECAST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FORECAST_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("FORECAST_RECENCY_YEARS"); v != "" {
		if years, err := strconv.Atoi(v); err == nil && years > 0 {
			cfg.Forecast.RecencyYears = years
		}
	}
	if v := os.Getenv("FORECAST_CLOSURE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Forecast.ClosureThreshold = f
		}
	}
	if v := os.Getenv("FORECAST_RESULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Forecast.ResultTTL = d
		}
	}
}
