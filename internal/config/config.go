package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/addinscan/addinscan/internal/registry"
)

type Config struct {
	Registry RegistryConfig `mapstructure:"registry"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Log      LogConfig      `mapstructure:"log"`
}

type RegistryConfig struct {
	Path        string `mapstructure:"path"`
	StartupDir  string `mapstructure:"startup_dir"`
	AddinsDir   string `mapstructure:"addins_dir"`
	DatabaseDir string `mapstructure:"database_dir"`
}

type WorkerConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	KillGrace time.Duration `mapstructure:"kill_grace"`
	TempImage bool          `mapstructure:"temp_image"`
	ImageDir  string        `mapstructure:"image_dir"`
}

type LogConfig struct {
	Verbosity int    `mapstructure:"verbosity"`
	Format    string `mapstructure:"format"`
}

const (
	DefaultTimeout   = 10 * time.Minute
	DefaultKillGrace = 5 * time.Second
)

var cfg *Config

// InitConfig loads configuration from cfgFile, or from
// ~/.config/addinscan/config.yaml when cfgFile is empty. Environment
// variables prefixed with ADDINSCAN_ override file values; a missing default
// config file is not an error.
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "addinscan"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ADDINSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("registry.path", "")
	viper.SetDefault("registry.startup_dir", "")
	viper.SetDefault("registry.addins_dir", "")
	viper.SetDefault("registry.database_dir", "")
	viper.SetDefault("worker.timeout", DefaultTimeout)
	viper.SetDefault("worker.kill_grace", DefaultKillGrace)
	viper.SetDefault("worker.temp_image", false)
	viper.SetDefault("worker.image_dir", "")
	viper.SetDefault("log.verbosity", 1)
	viper.SetDefault("log.format", "text")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg = c
	return nil
}

func Get() *Config {
	if cfg == nil {
		if err := InitConfig(""); err != nil {
			cfg = &Config{
				Worker: WorkerConfig{Timeout: DefaultTimeout, KillGrace: DefaultKillGrace},
				Log:    LogConfig{Verbosity: 1, Format: "text"},
			}
		}
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Worker.Timeout < 0 {
		return fmt.Errorf("worker timeout must not be negative, got %s", c.Worker.Timeout)
	}
	if c.Worker.KillGrace < 0 {
		return fmt.Errorf("worker kill grace must not be negative, got %s", c.Worker.KillGrace)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q, expected text or json", c.Log.Format)
	}
	return nil
}

// Locations resolves the registry locations to absolute paths, filling unset
// directories relative to the registry path. The registry path itself defaults to
// addinscan under the user cache directory and the startup directory to
// the working directory.
func (c *Config) Locations() (registry.Locations, error) {
	loc := registry.Locations{
		RegistryPath: c.Registry.Path,
		StartupDir:   c.Registry.StartupDir,
		AddinsDir:    c.Registry.AddinsDir,
		DatabaseDir:  c.Registry.DatabaseDir,
	}
	if loc.RegistryPath == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return loc, fmt.Errorf("failed to resolve default registry path: %w", err)
		}
		loc.RegistryPath = filepath.Join(dir, "addinscan")
	}
	if loc.StartupDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return loc, fmt.Errorf("failed to resolve startup dir: %w", err)
		}
		loc.StartupDir = wd
	}
	if loc.AddinsDir == "" {
		loc.AddinsDir = filepath.Join(loc.RegistryPath, "addins")
	}
	if loc.DatabaseDir == "" {
		loc.DatabaseDir = filepath.Join(loc.RegistryPath, "db")
	}
	loc, err := loc.Abs()
	if err != nil {
		return loc, err
	}
	return loc, loc.Validate()
}
