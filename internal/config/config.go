package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Index    IndexConfig    `yaml:"index" mapstructure:"index"`
	Here     HereConfig     `yaml:"here" mapstructure:"here"`
	Cleaner  CleanerConfig  `yaml:"cleaner" mapstructure:"cleaner"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Fusion   FusionConfig   `yaml:"fusion" mapstructure:"fusion"`
	Anomaly  AnomalyConfig  `yaml:"anomaly" mapstructure:"anomaly"`
	EventLog EventLogConfig `yaml:"eventlog" mapstructure:"eventlog"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// IndexConfig locates the serialized lookup tables and embedding corpus.
type IndexConfig struct {
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
	TopK    int    `yaml:"top_k" mapstructure:"top_k"`
}

// HereConfig configures the external geocoder adapter. When Mock is true or
// the key is empty, the offline substitute backed by the index is used.
type HereConfig struct {
	APIKey         string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	ReverseBaseURL string  `yaml:"reverse_base_url" mapstructure:"reverse_base_url"`
	Mock           bool    `yaml:"mock" mapstructure:"mock"`
	TimeoutSecs    float64 `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	AttemptSecs    float64 `yaml:"attempt_secs" mapstructure:"attempt_secs"`
	Retries        int     `yaml:"retries" mapstructure:"retries"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// CleanerConfig configures the address text cleaner.
type CleanerConfig struct {
	AnthropicKey string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model        string  `yaml:"model" mapstructure:"model"`
	TimeoutSecs  float64 `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// CacheConfig bounds the result cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
	TTLSecs  int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TTL returns the entry lifetime as a duration.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSecs) * time.Second }

// PipelineConfig holds per-stage deadlines and batch limits.
type PipelineConfig struct {
	VectorTimeoutSecs  float64 `yaml:"vector_timeout_secs" mapstructure:"vector_timeout_secs"`
	OverallTimeoutSecs float64 `yaml:"overall_timeout_secs" mapstructure:"overall_timeout_secs"`
	BatchConcurrency   int     `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
	DefaultAddons      string  `yaml:"default_addons" mapstructure:"default_addons"`
}

// FusionConfig holds the confidence fusion weights.
type FusionConfig struct {
	VectorWeight    float64 `yaml:"vector_weight" mapstructure:"vector_weight"`
	ExternalWeight  float64 `yaml:"external_weight" mapstructure:"external_weight"`
	IntegrityWeight float64 `yaml:"integrity_weight" mapstructure:"integrity_weight"`
	MismatchPenalty float64 `yaml:"mismatch_penalty" mapstructure:"mismatch_penalty"`
}

// AnomalyConfig holds the detection rule thresholds.
type AnomalyConfig struct {
	LowFusedConf    float64 `yaml:"low_fused_conf" mapstructure:"low_fused_conf"`
	LowIntegrity    int     `yaml:"low_integrity" mapstructure:"low_integrity"`
	MismatchKm      float64 `yaml:"mismatch_km" mapstructure:"mismatch_km"`
	LowExternalConf float64 `yaml:"low_external_conf" mapstructure:"low_external_conf"`
	HighLatencyMs   int64   `yaml:"high_latency_ms" mapstructure:"high_latency_ms"`
}

// EventLogConfig configures the append-only event sink. An empty path
// disables persistence.
type EventLogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LOCALLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("index.data_dir", "data")
	v.SetDefault("index.top_k", 5)
	v.SetDefault("here.base_url", "https://geocode.search.hereapi.com/v1")
	v.SetDefault("here.reverse_base_url", "https://revgeocode.search.hereapi.com/v1")
	v.SetDefault("here.timeout_secs", 8.0)
	v.SetDefault("here.attempt_secs", 5.0)
	v.SetDefault("here.retries", 2)
	v.SetDefault("here.rate_limit_rps", 10.0)
	v.SetDefault("cleaner.model", "claude-haiku-4-5-20251001")
	v.SetDefault("cleaner.timeout_secs", 6.0)
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("pipeline.vector_timeout_secs", 6.0)
	v.SetDefault("pipeline.overall_timeout_secs", 20.0)
	v.SetDefault("pipeline.batch_concurrency", 5)
	v.SetDefault("pipeline.default_addons", "deliverability,safety")
	v.SetDefault("fusion.vector_weight", 0.3)
	v.SetDefault("fusion.external_weight", 0.35)
	v.SetDefault("fusion.integrity_weight", 0.25)
	v.SetDefault("fusion.mismatch_penalty", 0.2)
	v.SetDefault("anomaly.low_fused_conf", 0.5)
	v.SetDefault("anomaly.low_integrity", 40)
	v.SetDefault("anomaly.mismatch_km", 3.0)
	v.SetDefault("anomaly.low_external_conf", 0.4)
	v.SetDefault("anomaly.high_latency_ms", 1500)
	v.SetDefault("eventlog.path", "resolve_events.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
