// Package config loads engine settings from a yaml file, MEDITONE_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cbegin/meditone-go/internal/category"
)

const EnvPrefix = "MEDITONE"

type Config struct {
	SampleRate     int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Variant        string `mapstructure:"variant" yaml:"variant"`
	CategoriesFile string `mapstructure:"categories_file" yaml:"categories_file"`

	Assets AssetsConfig `mapstructure:"assets" yaml:"assets"`
	Timing TimingConfig `mapstructure:"timing" yaml:"timing"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// AssetsConfig selects where intro and ambient clips come from. StoreURL,
// when set, is a signing endpoint and takes precedence over Dir.
type AssetsConfig struct {
	Dir           string        `mapstructure:"dir" yaml:"dir"`
	StoreURL      string        `mapstructure:"store_url" yaml:"store_url"`
	ProbeAddr     string        `mapstructure:"probe_addr" yaml:"probe_addr"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

type TimingConfig struct {
	IntroPause   time.Duration `mapstructure:"intro_pause" yaml:"intro_pause"`
	Dwell        time.Duration `mapstructure:"dwell" yaml:"dwell"`
	FadeInterval time.Duration `mapstructure:"fade_interval" yaml:"fade_interval"`
	FadeDuration time.Duration `mapstructure:"fade_duration" yaml:"fade_duration"`
	ClipTimeout  time.Duration `mapstructure:"clip_timeout" yaml:"clip_timeout"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		SampleRate: 48000,
		Variant:    "classic",
		Assets: AssetsConfig{
			Dir:           "assets",
			ProbeInterval: 5 * time.Second,
			MaxAttempts:   3,
		},
		Timing: TimingConfig{
			IntroPause:   3 * time.Second,
			Dwell:        600 * time.Second,
			FadeInterval: 100 * time.Millisecond,
			FadeDuration: 15 * time.Second,
			ClipTimeout:  15 * time.Second,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8089"},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"sample-rate":   "sample_rate",
	"variant":       "variant",
	"categories":    "categories_file",
	"assets-dir":    "assets.dir",
	"store-url":     "assets.store_url",
	"probe-addr":    "assets.probe_addr",
	"max-attempts":  "assets.max_attempts",
	"intro-pause":   "timing.intro_pause",
	"dwell":         "timing.dwell",
	"fade-duration": "timing.fade_duration",
	"addr":          "server.addr",
	"log-level":     "log.level",
	"log-format":    "log.format",
}

// Load reads path (optional), the environment and any of flags that were
// set. Flags not listed in flagKeys are ignored.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("sample_rate", d.SampleRate)
	v.SetDefault("variant", d.Variant)
	v.SetDefault("categories_file", d.CategoriesFile)
	v.SetDefault("assets.dir", d.Assets.Dir)
	v.SetDefault("assets.store_url", d.Assets.StoreURL)
	v.SetDefault("assets.probe_addr", d.Assets.ProbeAddr)
	v.SetDefault("assets.probe_interval", d.Assets.ProbeInterval)
	v.SetDefault("assets.max_attempts", d.Assets.MaxAttempts)
	v.SetDefault("timing.intro_pause", d.Timing.IntroPause)
	v.SetDefault("timing.dwell", d.Timing.Dwell)
	v.SetDefault("timing.fade_interval", d.Timing.FadeInterval)
	v.SetDefault("timing.fade_duration", d.Timing.FadeDuration)
	v.SetDefault("timing.clip_timeout", d.Timing.ClipTimeout)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

func (c *Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.New("config: sample_rate must be positive")
	case c.Assets.MaxAttempts <= 0:
		return errors.New("config: assets.max_attempts must be positive")
	case c.Timing.FadeInterval <= 0 || c.Timing.FadeDuration < c.Timing.FadeInterval:
		return errors.New("config: fade_duration must be at least one fade_interval")
	case c.Log.Format != "console" && c.Log.Format != "json":
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// CategorySet loads CategoriesFile when set, otherwise the built-in Variant.
func (c *Config) CategorySet() (*category.Set, error) {
	if c.CategoriesFile != "" {
		return category.Load(c.CategoriesFile)
	}
	return category.Builtin(c.Variant)
}
