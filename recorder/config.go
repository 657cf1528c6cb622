package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxConfigSize = 1 << 20 // 1MB is generous for this config's shape

// Config is the core's configuration record (spec §6.5), plus the
// source-selection knobs the CLI needs to pick between the synthetic and
// NATS-backed source.Source implementations.
type Config struct {
	BufferSeconds       float64       `json:"buffer_seconds"`
	MaxSamplesPerPull   int           `json:"max_samples_per_pull"`
	PullTimeout         time.Duration `json:"pull_timeout_s"`
	ClockSyncInterval   time.Duration `json:"clock_sync_interval_s"`
	DiscoveryTimeout    time.Duration `json:"discovery_timeout_s"`
	StopTimeout         time.Duration `json:"stop_timeout_s"`
	BindAddress         string        `json:"bind_address"`
	Port                int           `json:"port"`
	EnableRemoteControl bool          `json:"enable_remote_control"`

	// Source selects the acquisition backend: "synthetic" or "nats".
	Source  string `json:"source"`
	NATSURL string `json:"nats_url"`
}

// DefaultConfig returns spec §6.5's defaults.
func DefaultConfig() Config {
	return Config{
		BufferSeconds:       360,
		MaxSamplesPerPull:   500,
		PullTimeout:         200 * time.Millisecond,
		ClockSyncInterval:   5 * time.Second,
		DiscoveryTimeout:    2 * time.Second,
		StopTimeout:         5 * time.Second,
		BindAddress:         "127.0.0.1",
		Port:                22345,
		EnableRemoteControl: true,
		Source:              "synthetic",
		NATSURL:             "nats://127.0.0.1:4222",
	}
}

// Validate rejects configuration values nothing downstream can recover
// from cleanly.
func (c Config) Validate() error {
	if c.MaxSamplesPerPull <= 0 {
		return errors.New("max_samples_per_pull must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Source != "synthetic" && c.Source != "nats" {
		return fmt.Errorf("unknown source %q", c.Source)
	}
	return nil
}

// LoadConfig reads a JSON config file over DefaultConfig(), so a file only
// needs to set the keys it wants to override.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := safeReadConfigFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// safeReadConfigFile rejects relative paths that lead outside the working
// directory, absolute paths containing "..", overly large files, and
// anything that isn't a plain regular file, before
// handing the content to the JSON decoder.
func safeReadConfigFile(path string) ([]byte, error) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) {
		if strings.Contains(filepath.ToSlash(clean), "..") {
			return nil, fmt.Errorf("path traversal not allowed: %s", path)
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		abs, err := filepath.Abs(clean)
		if err != nil {
			return nil, fmt.Errorf("resolve absolute path: %w", err)
		}
		rel, err := filepath.Rel(cwd, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("path traversal not allowed: %s", path)
		}
	}

	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
	}

	return os.ReadFile(clean)
}
