// Package config loads the daemon configuration from an optional YAML file,
// environment variables prefixed XVCD_, and built-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full daemon configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Probe   ProbeConfig   `mapstructure:"probe"`
	JTAG    JTAGConfig    `mapstructure:"jtag"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the XVC listener.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// ProbeConfig selects the JTAG cable. Driver "ftdi" opens a USB device;
// "sim" runs the built-in loopback adapter.
type ProbeConfig struct {
	Driver  string `mapstructure:"driver"`
	VID     int    `mapstructure:"vid"`
	PID     int    `mapstructure:"pid"`
	Channel string `mapstructure:"channel"`
}

// JTAGConfig holds link settings applied at startup.
type JTAGConfig struct {
	TCKFrequencyHz int `mapstructure:"tck_frequency_hz"`
}

// LoggingConfig configures the zap logger. Output is "stdout", "stderr" or a
// file path; file output rotates via lumberjack.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads the configuration. path names an explicit config file; when
// empty, xvcd.yaml is searched for in the working directory and /etc/xvcd,
// and a missing file falls back to defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("XVCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: error reading %s: %w", path, err)
		}
	} else {
		v.SetConfigName("xvcd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/xvcd")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "0.0.0.0:2542")

	v.SetDefault("probe.driver", "ftdi")
	v.SetDefault("probe.vid", 0x0403)
	v.SetDefault("probe.pid", 0x6010)
	v.SetDefault("probe.channel", "A")

	v.SetDefault("jtag.tck_frequency_hz", 10_000_000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", false)
}

func validate(cfg *Config) error {
	switch cfg.Probe.Driver {
	case "ftdi", "sim":
	default:
		return fmt.Errorf("unknown probe driver %q (want ftdi or sim)", cfg.Probe.Driver)
	}
	if cfg.Probe.Driver == "ftdi" {
		if cfg.Probe.VID <= 0 || cfg.Probe.VID > 0xFFFF {
			return fmt.Errorf("probe vid 0x%X out of range", cfg.Probe.VID)
		}
		if cfg.Probe.PID <= 0 || cfg.Probe.PID > 0xFFFF {
			return fmt.Errorf("probe pid 0x%X out of range", cfg.Probe.PID)
		}
		switch cfg.Probe.Channel {
		case "A", "a", "B", "b", "":
		default:
			return fmt.Errorf("unknown probe channel %q (want A or B)", cfg.Probe.Channel)
		}
	}
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server listen address must not be empty")
	}
	if cfg.JTAG.TCKFrequencyHz < 0 {
		return fmt.Errorf("tck frequency must not be negative")
	}
	return nil
}
