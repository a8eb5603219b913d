// Command api runs the face recognition pipeline and the attendance
// coordinator behind one HTTP process: it warms the ONNX models, connects
// Postgres/MinIO/NATS, fans attendance events out to WebSocket clients,
// and serves the REST API until shutdown.
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
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/lunarithm/facelogix/internal/api"
	"github.com/lunarithm/facelogix/internal/api/ws"
	"github.com/lunarithm/facelogix/internal/config"
	"github.com/lunarithm/facelogix/internal/coordinator"
	"github.com/lunarithm/facelogix/internal/observability"
	"github.com/lunarithm/facelogix/internal/queue"
	"github.com/lunarithm/facelogix/internal/storage"
	"github.com/lunarithm/facelogix/internal/vision"
	"github.com/lunarithm/facelogix/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facelogix API service", "port", cfg.Server.Port)

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	hub := ws.NewHub()
	go hub.Run()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create attendance event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeAttendanceEvents(ctx, "api-attendance", func(_ context.Context, msg jetstream.Msg) error {
		var evt dto.WSEvent
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			return err
		}
		hub.BroadcastEvent(&evt)
		return nil
	})
	if err != nil {
		slog.Warn("start attendance event consumer", "error", err)
	}

	// The ONNX Runtime environment is process-wide, initialized once
	// before the first inference.
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("initialize onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	pipeline := vision.NewPipeline(cfg.Vision)
	if err := pipeline.Warmup(); err != nil {
		slog.Error("vision pipeline warmup failed", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()
	slog.Info("vision pipeline warmed up")

	go pollQueueDepth(ctx, producer)

	coord := coordinator.New(db)

	router := api.NewRouter(api.RouterConfig{
		APIKey:      cfg.Server.APIKey,
		DB:          db,
		MinIO:       minioStore,
		Producer:    producer,
		Hub:         hub,
		Pipeline:    pipeline,
		Coordinator: coord,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// pollQueueDepth periodically samples the attendance stream's pending
// message count into the queue_depth gauge until ctx is cancelled.
func pollQueueDepth(ctx context.Context, producer *queue.Producer) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := producer.QueueDepth(ctx)
			if err != nil {
				slog.Warn("sample queue depth", "error", err)
				continue
			}
			observability.QueueDepth.Set(float64(depth))
		}
	}
}

// getONNXLibPath returns the ONNX Runtime shared library name for the
// host platform.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
