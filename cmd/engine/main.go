// Command engine runs one transcode worker engine: it registers itself
// with a dispatcher, reports heartbeats and periodic benchmarks, and polls
// for and executes transcode jobs until told to shut down.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcode-worker/internal/config"
	"transcode-worker/internal/dispatcher"
	"transcode-worker/internal/engine"
	"transcode-worker/internal/executor"
	"transcode-worker/internal/ledger"
	"transcode-worker/internal/logging"
	"transcode-worker/internal/probe"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "engine:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel})

	prober := probe.New(cfg.FFmpegPath, logger)

	hostname := cfg.Hostname
	if hostname == "" {
		hostname = prober.Hostname(context.Background())
	}

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open job ledger at %s: %w", cfg.DBPath, err)
	}
	defer store.Close()

	client, err := dispatcher.New(dispatcher.Config{
		BaseURL:    cfg.DispatchBaseURL,
		APIKey:     cfg.APIKey,
		CACertPath: cfg.CACertPath,
		Timeout:    cfg.ControlPlaneTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("build dispatcher client: %w", err)
	}

	transcoder := executor.New(executor.Config{
		FFmpegPath:      cfg.FFmpegPath,
		WorkDir:         cfg.WorkDir,
		DownloadTimeout: cfg.TransferTimeout,
		UploadTimeout:   cfg.TransferTimeout,
		RunTimeout:      cfg.TranscodeTimeout,
		HTTPClient:      &http.Client{Timeout: cfg.TransferTimeout},
	}, logger)

	identity := engine.Identity{
		EngineID:          cfg.EngineID,
		Hostname:          hostname,
		DispatchBaseURL:   cfg.DispatchBaseURL,
		APIKey:            cfg.APIKey,
		CACertPath:        cfg.CACertPath,
		StorageCapacityGB: cfg.StorageCapacityGB,
		StreamingSupport:  cfg.StreamingSupport,
	}

	eng := engine.New(identity, engine.Config{
		PollInterval:        cfg.PollInterval,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		BenchmarkInterval:   cfg.BenchmarkInterval,
		DrainTimeout:        cfg.DrainTimeout,
		ControlPlaneTimeout: cfg.ControlPlaneTimeout,
	}, logger, client, store, prober, transcoder)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("engine_id", cfg.EngineID).
		Str("hostname", hostname).
		Str("dispatch_url", cfg.DispatchBaseURL).
		Msg("engine: starting")

	start := time.Now()
	err = eng.Run(ctx)
	logger.Info().Dur("uptime", time.Since(start)).Msg("engine: stopped")
	return err
}
