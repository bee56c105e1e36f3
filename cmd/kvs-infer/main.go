// Command kvs-infer runs the video-inference pipeline: one worker per
// configured camera pulling frames from a live HLS session, running them
// through a detector chain, and publishing events, snapshots, and metadata
// (spec §5/§6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/technosupport/ts-vms/internal/config"
	"github.com/technosupport/ts-vms/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline configuration file")
	httpAddr := flag.String("http", ":8080", "address for the /healthz, /metrics, and status HTTP surface (empty disables it)")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(), AddSource: true}))
	slog.SetDefault(log)

	if err := run(*configPath, *httpAddr, log); err != nil {
		log.Error("kvs-infer exiting", "error", err)
		os.Exit(1)
	}
}

func run(configPath, httpAddr string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	sup, err := supervisor.New(cfg, awsCfg, httpAddr, log)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	go config.WatchForValidation(ctx, configPath, log)

	log.Info("kvs-infer starting", "config", configPath, "cameras", len(cfg.Cameras))
	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("supervisor run: %w", err)
	}
	log.Info("kvs-infer stopped")
	return nil
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
