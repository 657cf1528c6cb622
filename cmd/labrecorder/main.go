// Command labrecorder discovers streams from a stream source, records the
// user's selection into a single XDF file, and exposes a line-oriented TCP
// control channel for driving the recording session.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/labrecorder/control"
	"github.com/c360/labrecorder/metric"
	"github.com/c360/labrecorder/recorder"
	"github.com/c360/labrecorder/source"
	"github.com/c360/labrecorder/source/natsstream"
	"github.com/c360/labrecorder/source/synthetic"
)

const appName = "labrecorder"

// Version is set at build time via -ldflags, defaulting to "dev" otherwise.
var Version = "dev"

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return
	}
	if cli.ShowHelp {
		printDetailedHelp()
		return
	}

	if err := validateFlags(cli); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)

	cfg, err := loadConfiguration(cli)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, cli, logger); err != nil {
		logger.Error("recorder exited with error", "error", err)
		os.Exit(1)
	}
}

func loadConfiguration(cli *CLIConfig) (recorder.Config, error) {
	cfg := recorder.DefaultConfig()
	if cli.ConfigPath != "" {
		fileCfg, err := recorder.LoadConfig(cli.ConfigPath)
		if err != nil {
			return recorder.Config{}, err
		}
		cfg = fileCfg
	}

	cfg.BindAddress = cli.BindAddress
	cfg.Port = cli.Port
	cfg.EnableRemoteControl = !cli.DisableControl
	cfg.Source = cli.Source
	cfg.NATSURL = cli.NATSURL

	if err := cfg.Validate(); err != nil {
		return recorder.Config{}, err
	}
	return cfg, nil
}

func buildSource(cfg recorder.Config) source.Source {
	switch cfg.Source {
	case "nats":
		return natsstream.New(natsstream.DefaultConfig(cfg.NATSURL))
	default:
		return synthetic.New(nil)
	}
}

func run(cfg recorder.Config, cli *CLIConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	src := buildSource(cfg)
	ctrl := recorder.New(src, cfg, logger, metrics)

	if cli.Filename != "" {
		if _, err := ctrl.SetFilename(cli.Filename); err != nil {
			return fmt.Errorf("setting initial filename: %w", err)
		}
	}

	var metricsSrv *http.Server
	if cli.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry.PrometheusRegistry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.BindAddress, cli.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	var ctrlSrv *control.Server
	if cfg.EnableRemoteControl {
		addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
		srv, err := control.New(addr, ctrl, logger)
		if err != nil {
			return fmt.Errorf("starting control server: %w", err)
		}
		ctrlSrv = srv
		go func() {
			logger.Info("control server listening", "addr", ctrlSrv.Addr().String())
			if err := ctrlSrv.Serve(ctx); err != nil {
				logger.Error("control server failed", "error", err)
			}
		}()
	} else {
		logger.Info("control server disabled")
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if ctrl.State() == recorder.StateRecording {
		if err := ctrl.Stop(); err != nil {
			logger.Error("failed to stop recording cleanly", "error", err)
		}
	}

	if ctrlSrv != nil {
		_ = ctrlSrv.Close()
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	return nil
}
