package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/iago/gasometria-back/internal/ai"
	"github.com/iago/gasometria-back/internal/config"
	httpserver "github.com/iago/gasometria-back/internal/http"
	"github.com/iago/gasometria-back/internal/http/handlers"
	"github.com/iago/gasometria-back/internal/prompt"
	"github.com/iago/gasometria-back/internal/queue"
	"github.com/iago/gasometria-back/internal/repository"
	"github.com/iago/gasometria-back/internal/retry"
	"github.com/iago/gasometria-back/internal/service"
	"github.com/iago/gasometria-back/internal/worker"
	"go.uber.org/zap"
)

func main() {
	dotenvErr := config.LoadDotEnv(".env", ".env.local")
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if dotenvErr != nil {
		logger.Warn("failed loading .env files", zap.Error(dotenvErr))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser, err := setupRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("job store unavailable", zap.String("job_store", cfg.JobStore), zap.Error(err))
	}
	defer repoCloser()

	dispatch, err := setupQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("dispatcher unavailable", zap.String("dispatch_mode", cfg.DispatchMode), zap.Error(err))
	}
	defer dispatch.close()

	generator, err := setupGenerator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("generation backend unavailable", zap.String("backend", cfg.GenerationBackend), zap.Error(err))
	}
	if !generator.Available() {
		logger.Warn("GEMINI_API_KEY not configured, report generation will fail")
	}

	reports := service.NewAIReportGenerator(service.AIReportDependencies{
		Router: ai.NewModelRouter(ai.ModelRouterConfig{
			ReportPrimary:   cfg.GeminiModel,
			ReportFallback:  cfg.GeminiFallbackModel,
			Temperature:     cfg.GeminiTemperature,
			MaxOutputTokens: cfg.GeminiMaxOutputTokens,
		}),
		Client:  generator,
		Prompts: prompt.NewRenderer(cfg.PromptsDir),
		Logger:  logger.Named("reports"),
	})
	jobsService := service.NewJobsService(repo, dispatch.producer, reports, logger.Named("jobs"))
	api := handlers.NewAPI(handlers.APIDependencies{
		Jobs:   jobsService,
		Logger: logger.Named("api"),
	})

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger.Named("http"),
		InternalToken:  cfg.InternalToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	var background sync.WaitGroup
	switch {
	case !cfg.WorkerEnabled:
		logger.Info("worker disabled by configuration")
	case dispatch.consumer == nil:
		logger.Info("worker not started, jobs run through the background endpoint")
	default:
		processor := worker.NewProcessor(dispatch.consumer, jobsService, logger.Named("worker"))
		background.Add(1)
		go func() {
			defer background.Done()
			processor.Start(ctx)
		}()
		logger.Info("worker enabled and started")
	}

	if lister, ok := repo.(repository.StaleJobLister); ok {
		reaper := worker.NewReaper(lister, jobsService, worker.ReaperConfig{
			Interval:   cfg.ReaperInterval(),
			StaleAfter: cfg.ReaperStaleAfter(),
			Logger:     logger.Named("reaper"),
		})
		background.Add(1)
		go func() {
			defer background.Done()
			reaper.Start(ctx)
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			zap.String("port", cfg.Port),
			zap.String("job_store", cfg.JobStore),
			zap.String("dispatch_mode", cfg.DispatchMode),
			zap.String("backend", cfg.GenerationBackend),
		)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	api.Wait()
	dispatch.wait()
	background.Wait()
	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		parsed = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = parsed
	return zapConfig.Build()
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
) (repository.JobsRepository, func(), error) {
	switch cfg.JobStore {
	case config.JobStorePostgres:
		pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("postgres job store initialized")
		return pgRepo, pgRepo.Close, nil
	case config.JobStoreRedis:
		redisRepo, err := repository.NewRedisJobsRepository(ctx, repository.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
			Retention: cfg.JobRetention(),
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("redis job store initialized", zap.Duration("retention", cfg.JobRetention()))
		return redisRepo, func() { _ = redisRepo.Close() }, nil
	default:
		logger.Warn("using in-memory job store, jobs are lost on restart")
		return repository.NewMemoryJobsRepository(), func() {}, nil
	}
}

type dispatchSetup struct {
	producer queue.Producer
	consumer queue.Consumer
	wait     func()
	close    func()
}

func setupQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (dispatchSetup, error) {
	queueLogger := logger.Named("queue")
	setup := dispatchSetup{wait: func() {}, close: func() {}}

	switch cfg.DispatchMode {
	case config.DispatchHTTP:
		dispatcher, err := queue.NewHTTPDispatcher(queue.HTTPDispatcherConfig{
			URL:           cfg.BackgroundURL,
			InternalToken: cfg.InternalToken,
			Logger:        queueLogger,
		})
		if err != nil {
			return setup, err
		}
		logger.Info("http dispatcher initialized", zap.String("background_url", cfg.BackgroundURL))
		setup.producer = dispatcher
		setup.wait = dispatcher.Wait
		return setup, nil

	case config.DispatchStreams:
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: cfg.QueueAttempts,
			Logger:      queueLogger,
		})
		if err != nil {
			logger.Warn("failed to initialize redis streams queue, fallback to local", zap.Error(err))
			break
		}
		logger.Info("redis streams queue initialized", zap.String("stream", cfg.RedisStream))
		setup.producer = streams
		setup.consumer = streams
		setup.close = func() { _ = streams.Close() }

		if cfg.QueueBatchingEnabled {
			batching := queue.NewBatchingProducer(ctx, streams, queue.BatchingConfig{
				MaxBatchSize:  cfg.QueueBatchSize,
				FlushInterval: cfg.QueueBatchFlush(),
				QueueCapacity: cfg.QueueBufferLen,
				Logger:        queueLogger,
			})
			setup.producer = batching
			setup.close = func() {
				batching.Close()
				_ = streams.Close()
			}
			logger.Info("queue batching enabled",
				zap.Int("batch_size", cfg.QueueBatchSize),
				zap.Int("flush_ms", cfg.QueueBatchFlushMS),
			)
		}
		return setup, nil
	}

	local := queue.NewLocalQueue(cfg.QueueBufferLen, cfg.QueueAttempts, queueLogger)
	setup.producer = local
	setup.consumer = local
	return setup, nil
}

func setupGenerator(ctx context.Context, cfg config.Config, logger *zap.Logger) (ai.TextGenerator, error) {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.GeminiMaxAttempts
	policy.BaseDelay = cfg.GeminiBaseDelay()
	policy.AttemptTimeout = cfg.GeminiTimeout()
	aiLogger := logger.Named("gemini")

	if cfg.GenerationBackend == config.BackendGenAI {
		client, err := ai.NewGenAIClient(ctx, ai.GenAIClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GenAIBaseURL,
			Retry:   policy,
			Logger:  aiLogger,
		})
		switch {
		case err == nil:
			return client, nil
		case !errors.Is(err, ai.ErrGeminiUnavailable):
			return nil, err
		}
	}

	return ai.NewGeminiClient(ai.GeminiClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Retry:   policy,
		Logger:  aiLogger,
	}), nil
}
