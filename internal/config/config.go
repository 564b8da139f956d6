package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Overpass OverpassConfig `yaml:"overpass" mapstructure:"overpass"`
	Cluster  ClusterConfig  `yaml:"cluster" mapstructure:"cluster"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// OverpassConfig configures the boundary source client.
type OverpassConfig struct {
	BaseURL              string   `yaml:"base_url" mapstructure:"base_url"`
	UserAgent            string   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs          int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts          int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	RateLimitBackoffSecs int      `yaml:"rate_limit_backoff_secs" mapstructure:"rate_limit_backoff_secs"`
	RequestsPerMinute    int      `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	CountryCodes         []string `yaml:"country_codes" mapstructure:"country_codes"`
}

// ClusterConfig configures per-territory spatial clustering.
type ClusterConfig struct {
	MinClusters          int     `yaml:"min_clusters" mapstructure:"min_clusters"`
	MaxClusters          int     `yaml:"max_clusters" mapstructure:"max_clusters"`
	MinSamplesPerCluster int     `yaml:"min_samples_per_cluster" mapstructure:"min_samples_per_cluster"`
	MaxIterations        int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	ElbowThreshold       float64 `yaml:"elbow_threshold" mapstructure:"elbow_threshold"`
	Seed                 int64   `yaml:"seed" mapstructure:"seed"`
}

// AnalysisConfig configures sampling and statistics.
type AnalysisConfig struct {
	SamplingMethod         string `yaml:"sampling_method" mapstructure:"sampling_method"`
	SampleSize             int    `yaml:"sample_size" mapstructure:"sample_size"`
	MinSamplesPerTerritory int    `yaml:"min_samples_per_territory" mapstructure:"min_samples_per_territory"`
}

// PipelineConfig configures the run driver.
type PipelineConfig struct {
	DataFile    string `yaml:"data_file" mapstructure:"data_file"`
	Workers     int    `yaml:"workers" mapstructure:"workers"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultCountryCodes is the fixed default territory allowlist
// (EU member states, ISO 3166-1 alpha-2).
var DefaultCountryCodes = []string{
	"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR",
	"DE", "GR", "HU", "IE", "IT", "LV", "LT", "LU", "MT", "NL",
	"PL", "PT", "RO", "SK", "SI", "ES", "SE",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SOIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/soil_analysis.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("overpass.base_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.user_agent", "soil-pipeline/1.0")
	v.SetDefault("overpass.timeout_secs", 300)
	v.SetDefault("overpass.max_attempts", 3)
	v.SetDefault("overpass.rate_limit_backoff_secs", 2)
	v.SetDefault("overpass.requests_per_minute", 6)
	v.SetDefault("cluster.min_clusters", 2)
	v.SetDefault("cluster.max_clusters", 10)
	v.SetDefault("cluster.min_samples_per_cluster", 5)
	v.SetDefault("cluster.max_iterations", 100)
	v.SetDefault("cluster.elbow_threshold", 0.5)
	v.SetDefault("cluster.seed", 42)
	v.SetDefault("analysis.sampling_method", "random")
	v.SetDefault("analysis.sample_size", 100)
	v.SetDefault("analysis.min_samples_per_territory", 10)
	v.SetDefault("pipeline.data_file", "data/eu_wosis_points.shp")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.timeout_secs", 1800)

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
