// cmd/unipi-controld/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unipi-control/unipi-controld/internal/config"
	"github.com/unipi-control/unipi-controld/internal/daemon"
	"github.com/unipi-control/unipi-controld/internal/runtimectx"
)

// shutdownGrace is the window given to flush the Command Queue and persist
// cover state before forcing a hard exit (spec.md §5 Cancellation).
const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: unipi-controld <config.yaml>")
		return int(daemon.ExitConfigFatal)
	}

	cfgPath := os.Args[1]

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return int(daemon.ExitConfigFatal)
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config validation failed: %v\n", &config.ConfigInvalidError{Err: err})
		return int(daemon.ExitConfigFatal)
	}

	log, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		return int(daemon.ExitConfigFatal)
	}
	defer log.Sync() //nolint:errcheck

	rc := runtimectx.New(log, cfg)

	d, err := daemon.New(rc)
	if err != nil {
		log.Error("daemon build failed", zap.Error(err))
		var cfgErr *config.ConfigInvalidError
		if errors.As(err, &cfgErr) {
			return int(daemon.ExitConfigFatal)
		}
		return int(daemon.ExitTransportFatal)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil {
			log.Error("daemon exited", zap.Error(err))
			return int(daemon.ExitMQTTFatal)
		}
		return int(daemon.ExitOK)

	case <-ctx.Done():
		log.Info("shutdown signal received, draining")
		select {
		case err := <-runErr:
			if err != nil {
				log.Error("daemon exited during shutdown", zap.Error(err))
				return int(daemon.ExitMQTTFatal)
			}
			return int(daemon.ExitOK)
		case <-time.After(shutdownGrace):
			log.Warn("shutdown grace period exceeded, forcing exit")
			return int(daemon.ExitMQTTFatal)
		}
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	zapLevel := zapcore.InfoLevel
	if level != "" {
		if err := zapLevel.Set(level); err != nil {
			return nil, fmt.Errorf("invalid logging level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
