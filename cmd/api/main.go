package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/verid/internal/api"
	"github.com/your-org/verid/internal/api/handlers"
	"github.com/your-org/verid/internal/api/ws"
	"github.com/your-org/verid/internal/config"
	"github.com/your-org/verid/internal/liveness"
	"github.com/your-org/verid/internal/models"
	"github.com/your-org/verid/internal/observability"
	"github.com/your-org/verid/internal/queue"
	"github.com/your-org/verid/internal/storage"
	"github.com/your-org/verid/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting api server", "port", cfg.Server.Port)

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

	hub := ws.NewHub()
	go hub.Run()

	router := api.NewRouter(cfg, db, minioStore, producer, hub)

	// The enrollment endpoint needs the detection and embedding models.
	// The API degrades to 503 on those routes if models are unavailable.
	if backend, embedder, emonet, err := vision.LoadModels(cfg.Detection); err != nil {
		slog.Warn("vision models unavailable, enrollment disabled", "error", err)
	} else {
		quality := vision.NewQualityAssessor(
			cfg.Quality.MinScore,
			cfg.Quality.BrightnessMin,
			cfg.Quality.BrightnessMax,
			cfg.Quality.SharpnessFloor,
			cfg.Quality.MinFacePixels,
		)
		pipeline := vision.NewPipeline(vision.Deps{
			Backend:  backend,
			Embedder: embedder,
			Emotion:  emonet,
			Quality:  quality,
		}, liveCfg(cfg), cfg.Tracking)
		defer pipeline.Close()
		router.Persons.EmbedFn = pipeline.EmbedImage
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect nats consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Persist every pipeline event and fan it out to WebSocket clients.
	err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
		var ev models.PipelineEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			slog.Error("unmarshal event", "error", err)
			return nil // poison message, do not redeliver
		}
		if err := db.CreateEvent(ctx, &ev); err != nil {
			return fmt.Errorf("persist event: %w", err)
		}
		wsEvent := handlers.EventToWS(&ev)
		hub.BroadcastEvent(&wsEvent)
		return nil
	})
	if err != nil {
		slog.Error("start event consumer", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.Engine(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	cancel()
}

func liveCfg(cfg *config.Config) liveness.Config {
	return liveness.Config{
		Window:           time.Duration(cfg.Liveness.Window),
		MinBlinks:        cfg.Liveness.MinBlinks,
		EARThreshold:     cfg.Liveness.EARThreshold,
		BlinkFrames:      cfg.Liveness.BlinkFrames,
		MotionThreshold:  cfg.Liveness.MotionThreshold,
		TextureThreshold: cfg.Liveness.TextureThreshold,
	}
}
