package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads, parses and validates a TOML config file. Unknown keys are
// fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults
// otherwise, so aware-sync runs without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ResolvePath picks the config file: CLI flag, then environment, then the
// platform default.
func ResolvePath(env EnvOverrides, cli CLIOverrides) string {
	switch {
	case cli.ConfigPath != "":
		return cli.ConfigPath
	case env.ConfigPath != "":
		return env.ConfigPath
	default:
		return DefaultConfigPath()
	}
}

// Resolve loads the config file and applies environment and CLI overrides,
// then fills in and expands file paths.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfg, err := LoadOrDefault(ResolvePath(env, cli))
	if err != nil {
		return nil, err
	}

	if env.Host != "" {
		cfg.Server.Host = env.Host
	}

	if env.DeviceID != "" {
		cfg.Server.DeviceID = env.DeviceID
	}

	if cli.Host != nil {
		cfg.Server.Host = *cli.Host
	}

	if cli.DryRun != nil {
		cfg.Sync.DryRun = *cli.DryRun
	}

	if len(cli.Collections) > 0 {
		cfg.Source.Collections = append([]string(nil), cli.Collections...)
	}

	resolvePaths(cfg)

	if err := ValidateResolved(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func resolvePaths(cfg *Config) {
	if cfg.State.Path == "" {
		cfg.State.Path = DefaultStatePath()
	}

	if cfg.State.DeviceIDPath == "" {
		cfg.State.DeviceIDPath = DefaultDeviceIDPath()
	}

	cfg.State.Path = ExpandHome(cfg.State.Path)
	cfg.State.DeviceIDPath = ExpandHome(cfg.State.DeviceIDPath)
	cfg.Source.Path = ExpandHome(cfg.Source.Path)
	cfg.Logging.LogFile = ExpandHome(cfg.Logging.LogFile)
}

// ResolvedDefaults returns the defaults with file paths filled in, for
// commands that must run even when the config file is broken.
func ResolvedDefaults() *Config {
	cfg := DefaultConfig()
	resolvePaths(cfg)

	return cfg
}
