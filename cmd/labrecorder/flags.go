package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration for the recorder binary.
type CLIConfig struct {
	ConfigPath     string
	Filename       string
	BindAddress    string
	Port           int
	DisableControl bool
	Source         string
	NATSURL        string
	MetricsPort    int
	LogLevel       string
	LogFormat      string
	ShowVersion    bool
	ShowHelp       bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("LABRECORDER_CONFIG", ""),
		"Path to JSON configuration file (env: LABRECORDER_CONFIG)")

	flag.StringVar(&cfg.Filename, "filename",
		getEnv("LABRECORDER_FILENAME", ""),
		"Output filename or {root:..} {template:..} spec (env: LABRECORDER_FILENAME)")

	flag.StringVar(&cfg.BindAddress, "bind-address",
		getEnv("LABRECORDER_BIND_ADDRESS", "127.0.0.1"),
		"Control server bind address (env: LABRECORDER_BIND_ADDRESS)")

	flag.IntVar(&cfg.Port, "port",
		getEnvInt("LABRECORDER_PORT", 22345),
		"Control server port (env: LABRECORDER_PORT)")

	flag.BoolVar(&cfg.DisableControl, "disable-control",
		getEnvBool("LABRECORDER_DISABLE_CONTROL", false),
		"Disable the control server (env: LABRECORDER_DISABLE_CONTROL)")

	flag.StringVar(&cfg.Source, "source",
		getEnv("LABRECORDER_SOURCE", "synthetic"),
		"Stream source backend: synthetic or nats (env: LABRECORDER_SOURCE)")

	flag.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("LABRECORDER_NATS_URL", "nats://127.0.0.1:4222"),
		"NATS broker URL, used when -source=nats (env: LABRECORDER_NATS_URL)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("LABRECORDER_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: LABRECORDER_METRICS_PORT)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("LABRECORDER_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: LABRECORDER_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("LABRECORDER_LOG_FORMAT", "text"),
		"Log format: json, text (env: LABRECORDER_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")

	flag.Usage = printDetailedHelp
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Source != "synthetic" && cfg.Source != "nats" {
		return fmt.Errorf("invalid source: %s", cfg.Source)
	}
	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - multi-stream LSL-to-XDF recorder

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  %s -filename recording.xdf -source synthetic
  %s -config /etc/labrecorder/config.json -disable-control

Version: %s
`, os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}
