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

	"github.com/observastack/health-sentinel/internal/models"
)

// Config captures the settings required to boot the health-sentinel service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Clients    ClientsConfig    `yaml:"clients"`
	Audit      AuditConfig      `yaml:"audit"`
	StateStore StateStoreConfig `yaml:"stateStore"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Advisories AdvisoriesConfig `yaml:"advisories"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups integrations with external data services.
type ClientsConfig struct {
	Telemetry TelemetryClientConfig `yaml:"telemetry"`
}

// TelemetryClientConfig configures access to the external telemetry store.
type TelemetryClientConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	AggregatePath string        `yaml:"aggregatePath"`
	HistoryPath   string        `yaml:"historyPath"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	HistoryTTL    time.Duration `yaml:"historyTTL"`
}

// AuditConfig configures the external audit/decision-event store.
type AuditConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
	ListTTL  time.Duration `yaml:"listTTL"`
}

// StateStoreConfig controls Valkey-backed persistence of hysteresis state.
type StateStoreConfig struct {
	Backend      string        `yaml:"backend"` // "valkey" or "memory"
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// ThresholdConfig is one indicator's pair of state boundaries. For
// lower-is-better indicators Healthy/Degraded are maxima; for
// higher-is-better indicators they are minima.
type ThresholdConfig struct {
	Healthy  float64 `yaml:"healthy"`
	Degraded float64 `yaml:"degraded"`
}

// HysteresisConfig holds the asymmetric consecutive-sample thresholds.
type HysteresisConfig struct {
	SamplesToDegrade int `yaml:"samplesToDegrade"`
	SamplesToImprove int `yaml:"samplesToImprove"`
}

// TrendConfig holds the trend classifier tuning knobs.
type TrendConfig struct {
	VolatileRSquaredBelow float64 `yaml:"volatileRSquaredBelow"`
	ImprovingSlopePerHour float64 `yaml:"improvingSlopePerHour"`
	DegradingSlopePerHour float64 `yaml:"degradingSlopePerHour"`
	PredictRSquaredMin    float64 `yaml:"predictRSquaredMin"`
}

// EvaluationConfig is the engine's externally supplied tuning surface.
type EvaluationConfig struct {
	Thresholds         map[models.IndicatorType]ThresholdConfig `yaml:"thresholds"`
	Weights            map[models.IndicatorType]float64         `yaml:"weights"`
	Hysteresis         HysteresisConfig                         `yaml:"hysteresis"`
	Trend              TrendConfig                              `yaml:"trend"`
	ExpectedIndicators int                                      `yaml:"expectedIndicators"`
	MaxDataAge         time.Duration                            `yaml:"maxDataAge"`
	Interval           time.Duration                            `yaml:"interval"`
	TrendLookback      time.Duration                            `yaml:"trendLookback"`
	BatchConcurrency   int                                      `yaml:"batchConcurrency"`
}

// AdvisoriesConfig controls rule-pack loading for the advisory engine.
type AdvisoriesConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("HEALTH_SENTINEL_CONFIG")
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
	normalise(&cfg)
	return &cfg, nil
}

// Default returns the configuration used absent any override.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			MetricsAddress:  ":2112",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    15 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Telemetry: TelemetryClientConfig{
				AggregatePath: "/api/v1/telemetry/aggregate",
				HistoryPath:   "/api/v1/telemetry/history",
				Timeout:       5 * time.Second,
				MaxRetries:    2,
				HistoryTTL:    2 * time.Minute,
			},
		},
		Audit: AuditConfig{
			Timeout: 5 * time.Second,
			ListTTL: time.Minute,
		},
		StateStore: StateStoreConfig{
			Backend:      "memory",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Evaluation: EvaluationConfig{
			Thresholds: map[models.IndicatorType]ThresholdConfig{
				models.IndicatorLatency:      {Healthy: 500, Degraded: 2000},
				models.IndicatorErrorRate:    {Healthy: 1, Degraded: 5},
				models.IndicatorThroughput:   {Healthy: 10, Degraded: 1},
				models.IndicatorSaturation:   {Healthy: 70, Degraded: 90},
				models.IndicatorAvailability: {Healthy: 99, Degraded: 95},
			},
			Weights: map[models.IndicatorType]float64{
				models.IndicatorErrorRate:    3.0,
				models.IndicatorAvailability: 2.5,
				models.IndicatorLatency:      2.0,
				models.IndicatorThroughput:   1.5,
				models.IndicatorSaturation:   1.0,
			},
			Hysteresis: HysteresisConfig{
				SamplesToDegrade: 1,
				SamplesToImprove: 3,
			},
			Trend: TrendConfig{
				VolatileRSquaredBelow: 0.3,
				ImprovingSlopePerHour: 0.01,
				DegradingSlopePerHour: 0.01,
				PredictRSquaredMin:    0.5,
			},
			ExpectedIndicators: 5,
			MaxDataAge:         5 * time.Minute,
			Interval:           time.Minute,
			TrendLookback:      24 * time.Hour,
			BatchConcurrency:   8,
		},
		Advisories: AdvisoriesConfig{Path: "configs/advisories/default.yaml"},
		Logging:    LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEALTH_SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_TELEMETRY_BASE_URL"); v != "" {
		cfg.Clients.Telemetry.BaseURL = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_TELEMETRY_AGGREGATE_PATH"); v != "" {
		cfg.Clients.Telemetry.AggregatePath = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_TELEMETRY_HISTORY_PATH"); v != "" {
		cfg.Clients.Telemetry.HistoryPath = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_AUDIT_ENDPOINT"); v != "" {
		cfg.Audit.Endpoint = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_AUDIT_API_KEY"); v != "" {
		cfg.Audit.APIKey = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("HEALTH_SENTINEL_ADVISORIES_PATH"); v != "" {
		cfg.Advisories.Path = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_STATE_BACKEND"); v != "" {
		cfg.StateStore.Backend = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_STATE_ADDR"); v != "" {
		cfg.StateStore.Addr = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_STATE_USERNAME"); v != "" {
		cfg.StateStore.Username = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_STATE_PASSWORD"); v != "" {
		cfg.StateStore.Password = v
	}
	if v := os.Getenv("HEALTH_SENTINEL_STATE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.StateStore.DB = db
		}
	}
	if v := os.Getenv("HEALTH_SENTINEL_STATE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.StateStore.TLS = true
	}
	if v := os.Getenv("HEALTH_SENTINEL_HYSTERESIS_TO_DEGRADE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Evaluation.Hysteresis.SamplesToDegrade = n
		}
	}
	if v := os.Getenv("HEALTH_SENTINEL_HYSTERESIS_TO_IMPROVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Evaluation.Hysteresis.SamplesToImprove = n
		}
	}
	if v := os.Getenv("HEALTH_SENTINEL_MAX_DATA_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Evaluation.MaxDataAge = d
		}
	}
	if v := os.Getenv("HEALTH_SENTINEL_EVALUATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Evaluation.Interval = d
		}
	}
	if v := os.Getenv("HEALTH_SENTINEL_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Evaluation.BatchConcurrency = n
		}
	}
}

// normalise clamps obviously invalid values back onto the defaults so a
// partial YAML file cannot disable the engine's guard rails.
func normalise(cfg *Config) {
	def := Default()
	if cfg.Evaluation.Hysteresis.SamplesToDegrade < 1 {
		cfg.Evaluation.Hysteresis.SamplesToDegrade = def.Evaluation.Hysteresis.SamplesToDegrade
	}
	if cfg.Evaluation.Hysteresis.SamplesToImprove < 1 {
		cfg.Evaluation.Hysteresis.SamplesToImprove = def.Evaluation.Hysteresis.SamplesToImprove
	}
	if cfg.Evaluation.ExpectedIndicators <= 0 {
		cfg.Evaluation.ExpectedIndicators = def.Evaluation.ExpectedIndicators
	}
	if cfg.Evaluation.MaxDataAge <= 0 {
		cfg.Evaluation.MaxDataAge = def.Evaluation.MaxDataAge
	}
	if cfg.Evaluation.Interval <= 0 {
		cfg.Evaluation.Interval = def.Evaluation.Interval
	}
	if cfg.Evaluation.TrendLookback <= 0 {
		cfg.Evaluation.TrendLookback = def.Evaluation.TrendLookback
	}
	if cfg.Evaluation.BatchConcurrency <= 0 {
		cfg.Evaluation.BatchConcurrency = def.Evaluation.BatchConcurrency
	}
	if cfg.Evaluation.Trend.VolatileRSquaredBelow <= 0 {
		cfg.Evaluation.Trend.VolatileRSquaredBelow = def.Evaluation.Trend.VolatileRSquaredBelow
	}
	if cfg.Evaluation.Trend.ImprovingSlopePerHour <= 0 {
		cfg.Evaluation.Trend.ImprovingSlopePerHour = def.Evaluation.Trend.ImprovingSlopePerHour
	}
	if cfg.Evaluation.Trend.DegradingSlopePerHour <= 0 {
		cfg.Evaluation.Trend.DegradingSlopePerHour = def.Evaluation.Trend.DegradingSlopePerHour
	}
	if cfg.Evaluation.Trend.PredictRSquaredMin <= 0 {
		cfg.Evaluation.Trend.PredictRSquaredMin = def.Evaluation.Trend.PredictRSquaredMin
	}
	for _, it := range models.IndicatorTypes {
		if cfg.Evaluation.Thresholds == nil {
			cfg.Evaluation.Thresholds = map[models.IndicatorType]ThresholdConfig{}
		}
		if _, ok := cfg.Evaluation.Thresholds[it]; !ok {
			cfg.Evaluation.Thresholds[it] = def.Evaluation.Thresholds[it]
		}
		if cfg.Evaluation.Weights == nil {
			cfg.Evaluation.Weights = map[models.IndicatorType]float64{}
		}
		if _, ok := cfg.Evaluation.Weights[it]; !ok {
			cfg.Evaluation.Weights[it] = def.Evaluation.Weights[it]
		}
	}
}
