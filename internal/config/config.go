// Package config holds the engine configuration: kernel launch command,
// connection and readiness timeouts, and persistence settings. Values come
// from defaults, an optional YAML file, and per-connection overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// LaunchConfig describes how a kernel process is spawned. The Argv
// template expands {python} to the environment's interpreter path and
// {connection_file} to the generated connection file path.
type LaunchConfig struct {
	Argv []string          `yaml:"argv" mapstructure:"argv"`
	Dir  string            `yaml:"dir,omitempty" mapstructure:"dir"`
	Env  map[string]string `yaml:"env,omitempty" mapstructure:"env"`
}

// StoreConfig selects the session record backend.
type StoreConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // memory | file | redis
	Dir     string `yaml:"dir,omitempty" mapstructure:"dir"`
	Addr    string `yaml:"addr,omitempty" mapstructure:"addr"`
	Pass    string `yaml:"pass,omitempty" mapstructure:"pass"`
	DB      int    `yaml:"db,omitempty" mapstructure:"db"`
}

// Config is the full engine configuration.
type Config struct {
	Launch         LaunchConfig  `yaml:"launch" mapstructure:"launch"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout" mapstructure:"ready_timeout"`
	IP             string        `yaml:"ip" mapstructure:"ip"`
	Store          StoreConfig   `yaml:"store" mapstructure:"store"`
	LogLevel       string        `yaml:"log_level" mapstructure:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Launch: LaunchConfig{
			Argv: []string{"{python}", "-m", "ipykernel_launcher", "-f", "{connection_file}"},
		},
		ConnectTimeout: 30 * time.Second,
		ReadyTimeout:   20 * time.Second,
		IP:             "127.0.0.1",
		Store:          StoreConfig{Backend: "memory"},
		LogLevel:       "info",
	}
}

// Load reads a YAML config file over the defaults. A missing path is not
// an error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Apply merges loosely-typed overrides (e.g. from a JSON request body or
// CLI flags) into the config. Keys follow the mapstructure tags.
func (c *Config) Apply(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("building override decoder: %w", err)
	}
	if err := dec.Decode(overrides); err != nil {
		return fmt.Errorf("applying config overrides: %w", err)
	}
	return nil
}

// ExpandArgv substitutes the launch template placeholders.
func (c *Config) ExpandArgv(python, connectionFile string) []string {
	argv := make([]string, len(c.Launch.Argv))
	for i, arg := range c.Launch.Argv {
		arg = strings.ReplaceAll(arg, "{python}", python)
		arg = strings.ReplaceAll(arg, "{connection_file}", connectionFile)
		argv[i] = arg
	}
	return argv
}
