package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/verid/internal/attendance"
	"github.com/your-org/verid/internal/config"
	"github.com/your-org/verid/internal/emotion"
	"github.com/your-org/verid/internal/identify"
	"github.com/your-org/verid/internal/ingest"
	"github.com/your-org/verid/internal/liveness"
	"github.com/your-org/verid/internal/models"
	"github.com/your-org/verid/internal/observability"
	"github.com/your-org/verid/internal/queue"
	"github.com/your-org/verid/internal/storage"
	"github.com/your-org/verid/internal/vision"
)

const enrollmentReloadInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsPort := flag.Int("metrics-port", 9092, "prometheus metrics port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting worker", "workers", cfg.Detection.WorkerCount)

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

	backend, embedder, emonet, err := vision.LoadModels(cfg.Detection)
	if err != nil {
		slog.Error("load models", "error", err)
		os.Exit(1)
	}

	matcher, err := buildMatcher(cfg.Matching)
	if err != nil {
		slog.Error("build matcher", "error", err)
		os.Exit(1)
	}
	if err := reloadEnrollment(ctx, db, matcher); err != nil {
		slog.Error("load enrollment", "error", err)
		os.Exit(1)
	}
	go func() {
		ticker := time.NewTicker(enrollmentReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := reloadEnrollment(ctx, db, matcher); err != nil {
					slog.Warn("reload enrollment", "error", err)
				}
			}
		}
	}()

	cutoff, err := cfg.Attendance.CutoffMinutes()
	if err != nil {
		slog.Error("parse late cutoff", "error", err)
		os.Exit(1)
	}
	marker := attendance.NewMarker(db, cutoff)

	smoother := emotion.NewSmoother(cfg.Emotion.BufferSize, cfg.Emotion.ConfidenceFloor)

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
		Matcher:  matcher,
		Marker:   marker,
		Smoother: smoother,
		Store:    minioStore,
		Producer: producer,
	}, liveness.Config{
		Window:           time.Duration(cfg.Liveness.Window),
		MinBlinks:        cfg.Liveness.MinBlinks,
		EARThreshold:     cfg.Liveness.EARThreshold,
		BlinkFrames:      cfg.Liveness.BlinkFrames,
		MotionThreshold:  cfg.Liveness.MotionThreshold,
		TextureThreshold: cfg.Liveness.TextureThreshold,
	}, cfg.Tracking)
	defer pipeline.Close()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect nats consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeFrames(ctx, "verid-worker", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.FrameTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal frame task", "error", err)
			return nil // poison message, do not redeliver
		}

		start := time.Now()
		err := pipeline.ProcessFrame(ctx, task)
		observability.StageDuration.WithLabelValues("frame_total").Observe(time.Since(start).Seconds())
		return err
	}, cfg.Detection.WorkerCount)
	if err != nil {
		slog.Error("start frame consumer", "error", err)
		os.Exit(1)
	}

	// Stop commands abort tracking and pending liveness sessions for the
	// stream so they resolve inconclusive instead of dangling.
	sub, err := consumer.SubscribeControl(func(data []byte) {
		cmd, err := ingest.ParseCommand(data)
		if err != nil {
			return
		}
		if cmd.Action != "stop" {
			return
		}
		streamID, err := uuid.Parse(cmd.StreamID)
		if err != nil {
			return
		}
		pipeline.AbortStream(ctx, streamID)
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

	slog.Info("worker ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())
	cancel()
}

func buildMatcher(cfg config.MatchingConfig) (*identify.Matcher, error) {
	switch cfg.Strategy {
	case "brute", "":
		return identify.NewMatcher(identify.NewBruteForce(), cfg.Tolerance), nil
	case "hnsw":
		return identify.NewMatcher(identify.NewHNSWIndex(), cfg.Tolerance), nil
	default:
		return nil, fmt.Errorf("unknown matching strategy %q", cfg.Strategy)
	}
}

func reloadEnrollment(ctx context.Context, db *storage.PostgresStore, matcher *identify.Matcher) error {
	entries, err := db.LoadEnrollment(ctx)
	if err != nil {
		return err
	}
	matcher.Reload(entries)
	slog.Debug("enrollment reloaded", "entries", len(entries))
	return nil
}
