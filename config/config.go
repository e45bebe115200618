// Package config implements kernel configuration file parsing, environment
// variable overrides, and default injection.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration the kernel is started with.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Plugins  PluginsConfig  `mapstructure:"plugins"`
	Log      LogConfig      `mapstructure:"log"`
	Network  NetworkConfig  `mapstructure:"network"`
	Identity IdentityConfig `mapstructure:"identity"`
}

// DatabaseConfig configures the embedded storage engine.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// PluginsConfig configures plugin discovery and the lifecycle manager.
type PluginsConfig struct {
	Directory   string        `mapstructure:"directory"`
	AutoLoad    bool          `mapstructure:"auto_load"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	MemoryCapMB int           `mapstructure:"memory_cap_mb"`
	Enable      []string      `mapstructure:"enable"`
	HotReload   bool          `mapstructure:"hot_reload"`
}

// LogConfig configures the logging subsystem.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NetworkConfig is reserved and unused by the core (see spec §6).
type NetworkConfig struct {
	ListenPort int `mapstructure:"listen_port"`
}

// IdentityConfig configures master-key resolution.
type IdentityConfig struct {
	UseCredentialStore bool   `mapstructure:"use_credential_store"`
	StoreTimeoutSecs   int    `mapstructure:"store_timeout_seconds"`
	PrivateKeyFile     string `mapstructure:"private_key_file"`
	AllowEnv           bool   `mapstructure:"allow_environment_variable"`
}

// EnvPrefix is the fixed prefix environment variables are recognized under.
const EnvPrefix = "KERNEL"

// Load reads configuration from the given file path (if non-empty and
// present), applies KERNEL_-prefixed environment variable overrides with
// "__" as the nested key separator, and injects defaults for any field left
// unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	injectDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %v", ErrConfig, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func injectDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "./kernel.db")
	v.SetDefault("database.max_connections", 5)
	v.SetDefault("database.connect_timeout", 5*time.Second)
	v.SetDefault("plugins.directory", "./plugins")
	v.SetDefault("plugins.auto_load", true)
	v.SetDefault("plugins.call_timeout", 30*time.Second)
	v.SetDefault("plugins.memory_cap_mb", 64)
	v.SetDefault("plugins.hot_reload", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("network.listen_port", 0)
	v.SetDefault("identity.use_credential_store", true)
	v.SetDefault("identity.store_timeout_seconds", 5)
	v.SetDefault("identity.allow_environment_variable", true)
}

func (c *Config) validate() error {
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("%w: database.max_connections must be positive", ErrConfig)
	}
	if c.Database.MaxConnections > 5 {
		return fmt.Errorf("%w: database.max_connections must not exceed 5 (spec §4.2 pool bound)", ErrConfig)
	}
	if c.Plugins.Directory == "" {
		return fmt.Errorf("%w: plugins.directory is required", ErrConfig)
	}
	switch c.Log.Level {
	case "error", "warn", "info", "debug", "":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrConfig, c.Log.Level)
	}
	return nil
}
