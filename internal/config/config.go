// Package config loads hdriver configuration from file, environment and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full hdriver configuration.
type Config struct {
	// LogLevel is the zerolog level name.
	LogLevel string `mapstructure:"log_level"`

	Server    ServerConfig    `mapstructure:"server"`
	NGC       NGCConfig       `mapstructure:"ngc"`
	Telescope TelescopeConfig `mapstructure:"telescope"`
	Offsetter OffsetterConfig `mapstructure:"offsetter"`
	Sequencer SequencerConfig `mapstructure:"sequencer"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// NGCConfig configures the instrument control bridge client.
type NGCConfig struct {
	URL string `mapstructure:"url"`
}

// TelescopeConfig configures the telescope offset bridge client.
type TelescopeConfig struct {
	URL string `mapstructure:"url"`
}

// OffsetterConfig configures the offset coordinator.
type OffsetterConfig struct {
	Directory        string        `mapstructure:"directory"`
	Glob             string        `mapstructure:"glob"`
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
}

// SequencerConfig configures the command sequencer.
type SequencerConfig struct {
	Pacing time.Duration `mapstructure:"pacing"`
}

// DatabaseConfig configures the observation event log.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("ngc.url", "http://localhost:5001")
	v.SetDefault("telescope.url", "http://localhost:5002")
	v.SetDefault("offsetter.directory", "/data")
	v.SetDefault("offsetter.glob", "run*.fits")
	v.SetDefault("offsetter.debounce_interval", 100*time.Millisecond)
	v.SetDefault("offsetter.settle_delay", 3*time.Second)
	v.SetDefault("sequencer.pacing", 100*time.Millisecond)
	v.SetDefault("database.path", "hdriver.db")
}

// Load reads configuration from the given file (optional), HDRIVER_*
// environment variables and built-in defaults, in that precedence order.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HDRIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("hdriver")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hdriver")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
