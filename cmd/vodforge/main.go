package main

import (
	"VodForge/internal/api"
	"VodForge/internal/config"
	"VodForge/internal/intake"
	"VodForge/internal/job"
	"VodForge/internal/logging"
	"VodForge/internal/media"
	"VodForge/internal/pipeline"
	"VodForge/internal/pipeline/storage"
	"VodForge/internal/video"
	"VodForge/pkg/ffmpeg"
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const uploadConcurrency = 4

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	bootLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}

	cfg, err := config.NewConfigLoader(bootLogger).Load(*configPath)
	if err != nil {
		bootLogger.Fatal("Failed to load config", zap.Error(err))
	}
	_ = bootLogger.Sync()

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("can't initialize logger: %v", err)
	}
	defer func(logger *zap.Logger) {
		if err := logger.Sync(); err != nil {
			log.Printf("error syncing logger: %v", err)
		}
	}(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("VodForge stopped with error", zap.Error(err))
	}
	logger.Info("VodForge stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	queue, closeQueue, err := newQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	videos, closeVideos, err := newVideoStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeVideos()

	store, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	ff := ffmpeg.NewFFmpeg(cfg.Pipeline.FFMpegPath, cfg.Pipeline.FFProbePath)
	slots := semaphore.NewWeighted(int64(cfg.Pipeline.EncodeConcurrency))

	workflow := pipeline.NewWorkflow(
		media.NewInspector(ff, logger),
		media.LadderFromConfig(cfg.Ladder),
		pipeline.NewTranscoder(ff, slots, cfg.Pipeline, logger),
		pipeline.NewPackager(ff, cfg.Pipeline.SegmentDurationSec, logger),
		pipeline.NewThumbnailer(ff, logger),
		pipeline.NewUploader(store, pipeline.KeyScheme{Prefix: cfg.Storage.KeyPrefix}, cfg.Pipeline.UploadRetry, uploadConcurrency, logger),
		videos,
		cfg.Pipeline,
		logger,
	)

	manager := job.NewManager(queue, videos, int(cfg.Pipeline.Retry.MaxAttempts), logger)
	pool := job.NewPool(queue, workflow, manager, cfg.Pipeline.WorkerSlots,
		time.Duration(cfg.Pipeline.JobTimeoutSec)*time.Second, logger)

	spool, err := intake.NewSpool(cfg.Spool, logger)
	if err != nil {
		return err
	}
	server := api.NewServer(manager, spool, cfg, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		pruneLoop(ctx, manager, time.Duration(cfg.Queue.RetentionSec)*time.Second, logger)
	}()

	if cfg.Kafka.Enabled {
		reader := intake.NewKafkaReader(cfg.Kafka)
		consumer := intake.NewConsumer(reader, manager, cfg.Pipeline.Retry, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Kafka intake stopped", zap.Error(err))
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// the pool drains its in-flight jobs once ctx is cancelled
	wg.Wait()
	return nil
}

func newQueue(cfg *config.Config, logger *zap.Logger) (job.Queue, func(), error) {
	backoff := job.BackoffFromConfig(cfg.Pipeline.Retry)

	if cfg.Queue.Driver != "redis" {
		q := job.NewMemoryQueue(backoff, logger)
		return q, func() { _ = q.Close() }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  millis(cfg.Redis.DialTimeout),
		ReadTimeout:  millis(cfg.Redis.ReadTimeout),
		WriteTimeout: millis(cfg.Redis.WriteTimeout),
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	q := job.NewRedisQueue(rdb, cfg.Queue.KeyPrefix, backoff, millis(cfg.Queue.PollInterval),
		time.Duration(cfg.Queue.LeaseSec)*time.Second, logger)
	return q, func() {
		_ = q.Close()
		_ = rdb.Close()
	}, nil
}

func newVideoStore(ctx context.Context, cfg *config.Config) (video.Store, func(), error) {
	if cfg.Database.Driver != "postgres" {
		return video.NewMemoryStore(), func() {}, nil
	}
	db, err := video.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return video.NewPostgresStore(db), db.Close, nil
}

func pruneLoop(ctx context.Context, manager *job.Manager, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := manager.PruneFinished(ctx, retention); err != nil {
				logger.Warn("Pruning finished jobs failed", zap.Error(err))
			}
		}
	}
}

// zero keeps the client's own default
func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
