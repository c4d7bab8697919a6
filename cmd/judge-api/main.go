package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	commonmw "judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/metrics"
	"judgeflow/internal/common/storage"
	"judgeflow/internal/judge/backend"
	"judgeflow/internal/judge/controller"
	"judgeflow/internal/judge/queue"
	"judgeflow/internal/judge/repository"
	"judgeflow/internal/judge/service"
	"judgeflow/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_api.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge-api exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	database, err := db.Open(appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = database.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var archive service.SourceArchiver
	if appCfg.MinIO.Enabled() {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		archive = repository.NewSourceArchive(objStorage, appCfg.Judge.SourceBucket)
	} else {
		logger.Info(ctx, "object storage not configured, sources are kept in the database only")
	}

	// The api only reads the backend identity; judging happens in judge-worker.
	execBackend, err := backend.NewHTTPBackend(appCfg.Backend, nil)
	if err != nil {
		return fmt.Errorf("init backend config failed: %w", err)
	}

	appMetrics := metrics.New()
	submissions := repository.NewSubmissionRepository(database)
	testCases := repository.NewTestCaseRepository(database)
	results := repository.NewResultCache(redisCache, appCfg.Judge.ResultTTL)
	notifier := repository.NewEventNotifier(redisCache.Client())
	jobQueue := queue.NewRedisQueue(redisCache.Client(), appCfg.Queue, "api-"+uuid.NewString())

	builder := service.NewJobBuilder(testCases, service.JobBuilderConfig{
		Languages:        appCfg.Judge.Languages,
		MaxTimeLimitMs:   appCfg.Judge.MaxTimeLimitMs,
		MaxMemoryLimitKB: appCfg.Judge.MaxMemoryLimitKB,
	})
	submitService, err := service.NewSubmitService(service.SubmitDeps{
		Limiter: service.NewRateLimiter(redisCache, appCfg.Judge.CacheTimeout),
		Builder: builder,
		Store:   submissions,
		Queue:   jobQueue,
		Results: results,
		Archive: archive,
		Metrics: appMetrics,
	}, appCfg.Judge.Submit)
	if err != nil {
		return fmt.Errorf("init submit service failed: %w", err)
	}
	statusService := service.NewStatusService(submissions, results, appCfg.Judge.Submit.StoreTimeout)
	streamService := service.NewStreamService(statusService, notifier, appCfg.Judge.Stream)

	handlers := controller.Handlers{
		Submit: controller.NewSubmitController(submitService, statusService),
		Stream: controller.NewStreamController(streamService, appMetrics),
		Queue:  controller.NewQueueController(jobQueue, execBackend.Identity()),
	}
	httpServer := buildHTTPServer(appCfg.Server, appCfg.Auth, handlers, appMetrics)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge api started", zap.String("addr", appCfg.Server.Addr), zap.String("backend", execBackend.Identity()))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownTimeout, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownTimeout); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

func buildHTTPServer(cfg ServerConfig, authCfg commonmw.AuthConfig, handlers controller.Handlers, appMetrics *metrics.Metrics) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(appMetrics.Handler()))
	controller.Register(router.Group("/api/v1"), handlers, commonmw.AuthMiddleware(authCfg))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
