package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store StoreConfig `yaml:"store" mapstructure:"store"`
	Load  LoadConfig  `yaml:"load" mapstructure:"load"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LoadConfig configures the catalog and event load.
type LoadConfig struct {
	CatalogRoot       string  `yaml:"catalog_root" mapstructure:"catalog_root"`
	LogRoot           string  `yaml:"log_root" mapstructure:"log_root"`
	Extension         string  `yaml:"extension" mapstructure:"extension"`
	CommitEvery       int     `yaml:"commit_every" mapstructure:"commit_every"`
	Resolver          string  `yaml:"resolver" mapstructure:"resolver"`
	DurationTolerance float64 `yaml:"duration_tolerance" mapstructure:"duration_tolerance"`
	CatalogPolicy     string  `yaml:"catalog_policy" mapstructure:"catalog_policy"`
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
	v.SetEnvPrefix("PLAYLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "host=127.0.0.1 dbname=sparkifydb user=student password=student")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("load.catalog_root", "data/song_data")
	v.SetDefault("load.log_root", "data/log_data")
	v.SetDefault("load.extension", ".json")
	v.SetDefault("load.commit_every", 1)
	v.SetDefault("load.resolver", "index")
	v.SetDefault("load.duration_tolerance", 0.001)
	v.SetDefault("load.catalog_policy", "first")
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

// Validate checks the settings a command needs. mode is one of "load",
// "migrate" or "status".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 {
		errs = append(errs, "store.max_conns and store.min_conns must be >= 0")
	}

	switch mode {
	case "load":
		errs = append(errs, c.Load.validate()...)
	case "migrate", "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (l LoadConfig) validate() []string {
	var errs []string
	if l.CatalogRoot == "" {
		errs = append(errs, "load.catalog_root is required")
	}
	if l.LogRoot == "" {
		errs = append(errs, "load.log_root is required")
	}
	if l.Extension == "" {
		errs = append(errs, "load.extension is required")
	}
	if l.CommitEvery < 1 {
		errs = append(errs, "load.commit_every must be >= 1")
	}
	if l.Resolver != "index" && l.Resolver != "query" {
		errs = append(errs, fmt.Sprintf("load.resolver must be index or query, got %q", l.Resolver))
	}
	if l.DurationTolerance < 0 {
		errs = append(errs, "load.duration_tolerance must be >= 0")
	}
	if l.CatalogPolicy != "first" && l.CatalogPolicy != "strict" {
		errs = append(errs, fmt.Sprintf("load.catalog_policy must be first or strict, got %q", l.CatalogPolicy))
	}
	return errs
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
