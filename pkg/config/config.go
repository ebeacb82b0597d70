package config

// Package config provides a reusable loader for this module's configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/dna/dht/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a dnanode process. It mirrors the
// structure of the YAML files Load reads from cmd/config or config.
type Config struct {
	Bootstrap struct {
		CachePath     string `mapstructure:"cache_path" json:"cache_path"`
		RegistryKey   string `mapstructure:"registry_key" json:"registry_key"`
		SeedCount     int    `mapstructure:"seed_count" json:"seed_count"`
		MaxAgeSeconds int64  `mapstructure:"max_age_seconds" json:"max_age_seconds"`
	} `mapstructure:"bootstrap" json:"bootstrap"`

	Identity struct {
		DataDir string `mapstructure:"data_dir" json:"data_dir"` // defaults to ~/.dna
	} `mapstructure:"identity" json:"identity"`

	Feed struct {
		TopicTTLDays    int `mapstructure:"topic_ttl_days" json:"topic_ttl_days"`
		GroupTTLDays    int `mapstructure:"group_ttl_days" json:"group_ttl_days"`
		IdentityTTLDays int `mapstructure:"identity_ttl_days" json:"identity_ttl_days"`
	} `mapstructure:"feed" json:"feed"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // environment variables named after config keys override file values; no env prefix is set

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	applyDefaults(&AppConfig)
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the DNA_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("DNA_ENV", ""))
}

// applyDefaults fills in zero-valued fields the rest of this module assumes
// are always populated, so a minimal or missing config file still produces
// a usable Config.
func applyDefaults(c *Config) {
	if c.Bootstrap.RegistryKey == "" {
		c.Bootstrap.RegistryKey = "dna:registry:bootstrap"
	}
	if c.Bootstrap.SeedCount == 0 {
		c.Bootstrap.SeedCount = 20
	}
	if c.Bootstrap.MaxAgeSeconds == 0 {
		c.Bootstrap.MaxAgeSeconds = 900
	}
	if c.Bootstrap.CachePath == "" {
		c.Bootstrap.CachePath = "~/.dna/bootstrap.db"
	}
	if c.Identity.DataDir == "" {
		c.Identity.DataDir = "~/.dna"
	}
	if c.Feed.TopicTTLDays == 0 {
		c.Feed.TopicTTLDays = 30
	}
	if c.Feed.GroupTTLDays == 0 {
		c.Feed.GroupTTLDays = 7
	}
	if c.Feed.IdentityTTLDays == 0 {
		c.Feed.IdentityTTLDays = 365
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
