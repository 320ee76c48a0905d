package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/verid/internal/config"
	"github.com/your-org/verid/internal/ingest"
	"github.com/your-org/verid/internal/observability"
	"github.com/your-org/verid/internal/queue"
	"github.com/your-org/verid/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsPort := flag.Int("metrics-port", 9091, "prometheus metrics port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Error("ensure bucket", "error", err)
		os.Exit(1)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Error("ensure jetstream streams", "error", err)
		os.Exit(1)
	}

	manager := ingest.NewManager(producer, minioStore, db,
		cfg.Detection.FrameWidth,
		cfg.Detection.FrameSkipN,
		cfg.Detection.FrameSkipM,
	)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect nats consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	sub, err := consumer.SubscribeControl(func(data []byte) {
		cmd, err := ingest.ParseCommand(data)
		if err != nil {
			slog.Error("parse stream command", "error", err)
			return
		}
		if err := manager.HandleCommand(ctx, cmd); err != nil {
			slog.Error("handle stream command", "action", cmd.Action, "stream_id", cmd.StreamID, "error", err)
		}
	})
	if err != nil {
		slog.Error("subscribe control subject", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", *metricsPort)
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Error("metrics server", "error", err)
		}
	}()

	slog.Info("ingestor ready, waiting for stream commands")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	cancel()
	manager.StopAll()
}
