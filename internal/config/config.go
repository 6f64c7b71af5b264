// Package config loads the coordinator's static configuration: the
// listen address, the storage layout, the ambient process options, and
// logging. It ports dync/server.py's load_config/_check_config, using
// the teacher's viper/mapstructure/yaml.v3 loading idiom
// (_examples/marmos91-dittofs/pkg/config/config.go).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/creditdrop/creditdrop/pkg/model"
)

// Config is the coordinator's full static configuration.
type Config struct {
	// Address is the TCP listen address, e.g. "0.0.0.0:2023".
	Address string `mapstructure:"address" yaml:"address"`

	// TmpDir is the staging directory uploads are written into before
	// their atomic rename into a destination.
	TmpDir string `mapstructure:"tmp_dir" yaml:"tmp_dir"`

	// AuthDir holds one "<origin>.token" file per authorized client.
	AuthDir string `mapstructure:"auth_dir" yaml:"auth_dir"`

	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Options OptionsConfig `mapstructure:"options" yaml:"options"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// StorageConfig configures where finished uploads land.
type StorageConfig struct {
	// Manual is the passthrough root used when a client supplies
	// meta.passthrough instead of relying on dropbox matching.
	Manual string `mapstructure:"manual" yaml:"manual"`

	// Dropboxes is the ordered list of openBis-style matching rules.
	Dropboxes []model.DropboxRule `mapstructure:"dropboxes" yaml:"dropboxes"`
}

// OptionsConfig carries the ambient daemon knobs ported from dync's
// DyncDaemon constructor.
type OptionsConfig struct {
	Pidfile string `mapstructure:"pidfile" yaml:"pidfile"`
	Umask   int    `mapstructure:"umask" yaml:"umask"`
}

// LoggingConfig sets the level of the server's zerolog logger.
type LoggingConfig struct {
	// Level is one of zerolog's level names: trace, debug, info, warn,
	// error, fatal, panic (case-insensitive).
	Level string `mapstructure:"level" yaml:"level"`
}

// validate mirrors _check_config's validation of load_config's
// top-level dict: address, tmp_dir and auth_dir must be set, and storage
// must carry at least one dropbox rule or a manual path. logging.level and
// options.pidfile are filled by applyDefaults before validate runs.
func (c *Config) validate() error {
	if c.Address == "" {
		return fmt.Errorf("config: %q is required", "address")
	}
	if c.TmpDir == "" {
		return fmt.Errorf("config: %q is required", "tmp_dir")
	}
	if c.AuthDir == "" {
		return fmt.Errorf("config: %q is required", "auth_dir")
	}
	if len(c.Storage.Dropboxes) == 0 && c.Storage.Manual == "" {
		return fmt.Errorf("config: storage needs at least one dropbox rule or a manual path")
	}
	for i, d := range c.Storage.Dropboxes {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("config: storage.dropboxes[%d]: %w", i, err)
		}
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Options.Pidfile == "" {
		c.Options.Pidfile = "/var/run/creditdrop.pid"
	}
}

// Load reads configPath (YAML), applies CREDITDROP_ environment
// overrides, fills defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CREDITDROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as
// needed. Mostly useful for tests and `creditdrop-server init`-style
// tooling.
func Save(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
