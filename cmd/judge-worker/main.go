package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/metrics"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/backend"
	"judgeflow/internal/judge/queue"
	"judgeflow/internal/judge/repository"
	"judgeflow/internal/judge/service"
	"judgeflow/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/judge_worker.yaml"

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
		logger.Error(context.Background(), "judge-worker exited", zap.Error(err))
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

	var verdicts service.VerdictSink
	if appCfg.Kafka.Enabled() {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		verdicts = repository.NewVerdictPublisher(producer, appCfg.Judge.VerdictTopic)
	} else {
		logger.Info(ctx, "kafka not configured, verdict fan-out disabled")
	}

	httpBackend, err := backend.NewHTTPBackend(appCfg.Backend.HTTPConfig, nil)
	if err != nil {
		return fmt.Errorf("init backend failed: %w", err)
	}
	execBackend := backend.NewLimitedBackend(httpBackend, appCfg.Backend.MaxConcurrent)

	appMetrics := metrics.New()
	judge, err := service.NewJudge(service.JudgeDeps{
		Backend:  execBackend,
		Store:    repository.NewSubmissionRepository(database),
		Results:  repository.NewResultCache(redisCache, appCfg.Judge.ResultTTL),
		Events:   repository.NewEventNotifier(redisCache.Client()),
		Verdicts: verdicts,
		Metrics:  appMetrics,
	}, service.JudgeConfig{
		Languages:       appCfg.Judge.Languages,
		CompareMode:     appCfg.Judge.CompareMode,
		Retry:           appCfg.Backend.Retry,
		BackendOverhead: appCfg.Backend.Overhead,
		CompileDeadline: appCfg.Backend.CompileDeadline,
		StoreTimeout:    appCfg.Judge.StoreTimeout,
		MaxOutputBytes:  appCfg.Judge.MaxOutputBytes,
	})
	if err != nil {
		return fmt.Errorf("init judge failed: %w", err)
	}

	workerID := "worker-" + uuid.NewString()
	jobQueue := queue.NewRedisQueue(redisCache.Client(), appCfg.Queue, workerID)
	dispatcher := service.NewDispatcher(jobQueue, judge, appMetrics, appCfg.Dispatcher)

	mux := http.NewServeMux()
	mux.Handle("/metrics", appMetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: appCfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "judge worker started",
		zap.String("worker_id", workerID),
		zap.String("backend", execBackend.Identity()),
		zap.String("metrics_addr", appCfg.MetricsAddr),
	)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
