// Package config loads application configuration from an optional config
// file and SITEINTEL_-prefixed environment variables, and initializes the
// global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/buildsmarter/siteintel-resolve/internal/cache"
	"github.com/buildsmarter/siteintel-resolve/internal/db"
	"github.com/buildsmarter/siteintel-resolve/internal/governor"
	"github.com/buildsmarter/siteintel-resolve/internal/ratelimit"
)

// Config holds the full application configuration.
type Config struct {
	Database  db.Config           `yaml:"database" mapstructure:"database"`
	Cache     cache.Config        `yaml:"cache" mapstructure:"cache"`
	RateLimit ratelimit.Config    `yaml:"rate_limit" mapstructure:"rate_limit"`
	Budget    governor.Thresholds `yaml:"budget" mapstructure:"budget"`
	Providers ProvidersConfig     `yaml:"providers" mapstructure:"providers"`
	Resolve   ResolveConfig       `yaml:"resolve" mapstructure:"resolve"`
	Region    RegionConfig        `yaml:"region" mapstructure:"region"`
	Server    ServerConfig        `yaml:"server" mapstructure:"server"`
	Log       LogConfig           `yaml:"log" mapstructure:"log"`
}

// ProvidersConfig holds upstream credentials and endpoints.
type ProvidersConfig struct {
	GoogleKey          string `yaml:"google_key" mapstructure:"google_key"`
	MapboxToken        string `yaml:"mapbox_token" mapstructure:"mapbox_token"`
	NominatimUserAgent string `yaml:"nominatim_user_agent" mapstructure:"nominatim_user_agent"`
	NominatimBaseURL   string `yaml:"nominatim_base_url" mapstructure:"nominatim_base_url"`
}

// ResolveConfig tunes the orchestrator.
type ResolveConfig struct {
	MinQueryLength     int    `yaml:"min_query_length" mapstructure:"min_query_length"`
	DefaultLimit       int    `yaml:"default_limit" mapstructure:"default_limit"`
	IntersectionSuffix string `yaml:"intersection_suffix" mapstructure:"intersection_suffix"`
	BatchConcurrency   int    `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
	ChainsFile         string `yaml:"chains_file" mapstructure:"chains_file"`
}

// RegionConfig bounds accepted results to the operating area, as a lon/lat
// bounding box. Defaults cover Texas.
type RegionConfig struct {
	MinLng float64 `yaml:"min_lng" mapstructure:"min_lng"`
	MinLat float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MaxLng float64 `yaml:"max_lng" mapstructure:"max_lng"`
	MaxLat float64 `yaml:"max_lat" mapstructure:"max_lat"`

	// ProximityLng/Lat bias provider ranking toward the metro center.
	ProximityLng float64 `yaml:"proximity_lng" mapstructure:"proximity_lng"`
	ProximityLat float64 `yaml:"proximity_lat" mapstructure:"proximity_lat"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
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
	v.SetEnvPrefix("SITEINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("cache.driver", "postgres")
	v.SetDefault("cache.sqlite_path", "siteintel-cache.db")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.auth_limit", 60)
	v.SetDefault("rate_limit.anon_limit", 10)
	v.SetDefault("budget.warn", 10.0)
	v.SetDefault("budget.critical", 25.0)
	v.SetDefault("providers.nominatim_user_agent", "siteintel-resolve/1.0")
	v.SetDefault("resolve.min_query_length", 3)
	v.SetDefault("resolve.default_limit", 1)
	v.SetDefault("resolve.intersection_suffix", "Houston, TX")
	v.SetDefault("resolve.batch_concurrency", 10)
	// Texas bounding box, Houston center.
	v.SetDefault("region.min_lng", -106.65)
	v.SetDefault("region.min_lat", 25.84)
	v.SetDefault("region.max_lng", -93.51)
	v.SetDefault("region.max_lat", 36.5)
	v.SetDefault("region.proximity_lng", -95.3698)
	v.SetDefault("region.proximity_lat", 29.7604)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
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
