package config

import "sync"

// Holder gives concurrent readers the current *Config and re-resolves it on
// SIGHUP with the overrides the process started with.
type Holder struct {
	mu  sync.RWMutex
	cfg *Config

	// Immutable after construction.
	path string
	env  EnvOverrides
	cli  CLIOverrides
}

// NewHolder wraps a resolved config. Reload re-applies env and cli.
func NewHolder(cfg *Config, env EnvOverrides, cli CLIOverrides) *Holder {
	return &Holder{
		cfg:  cfg,
		path: ResolvePath(env, cli),
		env:  env,
		cli:  cli,
	}
}

// Config returns the current snapshot. Callers must not modify it.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// Reload resolves the configuration again. On error the current snapshot
// is kept.
func (h *Holder) Reload() (*Config, error) {
	cfg, err := Resolve(h.env, h.cli)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()

	return cfg, nil
}
