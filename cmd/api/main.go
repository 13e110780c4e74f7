package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iago/media-compressor-back/internal/codec"
	"github.com/iago/media-compressor-back/internal/config"
	httpserver "github.com/iago/media-compressor-back/internal/http"
	"github.com/iago/media-compressor-back/internal/http/handlers"
	"github.com/iago/media-compressor-back/internal/queue"
	"github.com/iago/media-compressor-back/internal/repository"
	"github.com/iago/media-compressor-back/internal/service"
	"github.com/iago/media-compressor-back/internal/transcode"
	"github.com/iago/media-compressor-back/internal/upload"
	"github.com/iago/media-compressor-back/internal/version"
	"github.com/iago/media-compressor-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[compressor] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	for _, warning := range cfg.Warnings() {
		logger.Printf("WARNING %s", warning)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o700); err != nil {
		logger.Fatalf("work dir %s unusable: %v", cfg.WorkDir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, storeCloser := setupStore(ctx, cfg, logger)
	defer storeCloser()

	uploader, err := upload.NewCloudinaryUploader(upload.CloudinaryConfig{
		URL:            cfg.CloudinaryURL,
		CloudName:      cfg.CloudinaryCloudName,
		APIKey:         cfg.CloudinaryAPIKey,
		APISecret:      cfg.CloudinaryAPISecret,
		ImageFolder:    cfg.CloudinaryImageFolder,
		VideoFolder:    cfg.CloudinaryVideoFolder,
		Transformation: cfg.CloudinaryTransform,
	})
	if err != nil {
		logger.Fatalf("media host unavailable: %v", err)
	}

	policy, _ := queue.ParseAdmissionPolicy(cfg.QueueFullPolicy)
	workQueue := queue.NewLocalQueue(cfg.QueueCapacity(), policy)
	logger.Printf(
		"work queue ready capacity=%d policy=%s workers=%d",
		workQueue.Capacity(),
		workQueue.Policy(),
		cfg.WorkerCount,
	)

	mediaService := service.NewMediaService(store, workQueue, codec.NewJPEGCompressor(), uploader, service.MediaConfig{
		WorkDir: cfg.WorkDir,
		Image: codec.Options{
			Quality:   cfg.ImageQuality,
			MaxWidth:  cfg.ImageMaxWidth,
			MaxHeight: cfg.ImageMaxHeight,
		},
	}, logger)
	progressService := service.NewProgressService(store, service.ProgressConfig{
		Interval:    cfg.ProgressInterval(),
		MaxDuration: cfg.ProgressMaxDuration(),
	})
	api := handlers.NewAPI(mediaService, progressService, workQueue, handlers.APIConfig{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Version:        version.Version,
	}, logger)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	pool := worker.NewPool(workQueue, store, transcode.NewFFmpeg(cfg.FFmpegPath), uploader, worker.PoolConfig{
		Workers:    cfg.WorkerCount,
		WorkDir:    cfg.WorkDir,
		Retention:  cfg.JobRetention(),
		JobTimeout: cfg.JobTimeout(),
		Params: transcode.Params{
			Codec:  cfg.VideoCodec,
			CRF:    cfg.VideoCRF,
			Preset: cfg.VideoPreset,
		},
	}, logger)
	pool.Start(poolCtx)
	logger.Printf("worker pool started workers=%d", pool.Workers())

	// Uploads up to MAX_UPLOAD_BYTES need a long read window.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s version=%s", cfg.Port, version.Version)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdown(server, workQueue, pool, time.Duration(cfg.ShutdownTimeoutSecs)*time.Second, stopPool, logger)
}

// shutdown stops admission first, then lets requests and in-flight jobs
// finish within timeout. Jobs still buffered in the queue are discarded.
func shutdown(
	server *http.Server,
	workQueue *queue.LocalQueue,
	pool *worker.Pool,
	timeout time.Duration,
	stopPool context.CancelFunc,
	logger *log.Logger,
) {
	workQueue.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed, closing open streams: %v", err)
		_ = server.Close()
	}

	stopPool()
	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Printf("worker pool drained")
	case <-shutdownCtx.Done():
		logger.Printf("shutdown timeout reached with jobs still running")
	}

	if pending := workQueue.Drain(); len(pending) > 0 {
		logger.Printf("discarding %d queued jobs", len(pending))
		pool.Discard(context.Background(), pending)
	}
}

func setupStore(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobStore, func()) {
	if cfg.RedisAddr != "" {
		redisStore, err := repository.NewRedisJobStore(ctx, repository.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			logger.Printf("failed to initialize redis job store, fallback to memory: %v", err)
			return repository.NewMemoryJobStore(), func() {}
		}
		logger.Printf("redis job store initialized addr=%s", cfg.RedisAddr)
		return redisStore, func() {
			_ = redisStore.Close()
		}
	}

	if cfg.DatabaseURL != "" {
		pgStore, err := repository.NewPostgresJobStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Printf("failed to initialize postgres job store, fallback to memory: %v", err)
			return repository.NewMemoryJobStore(), func() {}
		}
		logger.Printf("postgres job store initialized")
		sweepCtx, stopSweep := context.WithCancel(context.Background())
		go sweepExpired(sweepCtx, pgStore, time.Duration(cfg.DatabaseSweepIntervalSecs)*time.Second, logger)
		return pgStore, func() {
			stopSweep()
			pgStore.Close()
		}
	}

	logger.Printf("REDIS_ADDR and DATABASE_URL not configured, using in-memory job store")
	return repository.NewMemoryJobStore(), func() {}
}

// sweepExpired purges rows past their retention; Postgres has no native TTL.
func sweepExpired(ctx context.Context, store *repository.PostgresJobStore, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := store.DeleteExpired(ctx)
			if err != nil {
				logger.Printf("expired job sweep failed: %v", err)
				continue
			}
			if deleted > 0 {
				logger.Printf("expired job sweep removed=%d", deleted)
			}
		}
	}
}
