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

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	judgecache "codejudge/internal/judge/cache"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

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
		logger.Error(context.Background(), "judge service exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

type bucketChecker interface {
	CheckBucket(ctx context.Context, bucket string) error
}

// checkBuckets fails startup when any bucket the service reads from is missing.
func checkBuckets(ctx context.Context, checker bucketChecker, buckets []string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, bucket := range buckets {
		if err := checker.CheckBucket(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio: %w", err)
		}
		if err := checkBuckets(ctx, minioStorage, appCfg.requiredBuckets()); err != nil {
			return fmt.Errorf("init minio: %w", err)
		}
		objStorage = minioStorage
	}

	var mqClient *mq.KafkaQueue
	if appCfg.Kafka.enabled() {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
	}

	eng, err := engine.NewEngine(appCfg.Sandbox.toEngineConfig())
	if err != nil {
		return fmt.Errorf("init sandbox engine: %w", err)
	}
	pruner, err := engine.NewPruner(appCfg.Sandbox.toPrunerConfig())
	if err != nil {
		return fmt.Errorf("init sandbox pruner: %w", err)
	}
	pruner.Start(ctx)

	registry, err := language.NewRegistry(appCfg.Language.Images)
	if err != nil {
		return fmt.Errorf("init language registry: %w", err)
	}
	metrics, err := observer.NewPrometheusRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	jobRunner, err := runner.NewRunner(eng, registry, metrics, appCfg.Limits.toRunnerConfig())
	if err != nil {
		return fmt.Errorf("init runner: %w", err)
	}
	worker := sandbox.NewWorker(jobRunner, metrics)

	var publisher repository.StatusEventPublisher
	if mqClient != nil {
		publisher = repository.NewMQStatusEventPublisher(mqClient, appCfg.Status.FinalTopic)
	}
	statusRepo := repository.NewStatusRepository(redisCache, appCfg.Status.TTL, publisher)

	var testcases repository.TestcaseSource
	switch appCfg.Testcases.Source {
	case testcaseSourceDataPack:
		testcases, err = judgecache.NewDataPackCache(appCfg.Testcases.DataPack.toCacheConfig(), objStorage, redisCache)
		if err != nil {
			return fmt.Errorf("init data pack cache: %w", err)
		}
	default:
		testcases = repository.NewTestcaseRepository(mysqlDB, redisCache, appCfg.Testcases.CacheTTL, appCfg.Testcases.EmptyTTL)
	}

	svcCfg := service.Config{
		Worker:         worker,
		Testcases:      testcases,
		Submissions:    repository.NewSubmissionRepository(mysqlDB),
		StatusRepo:     statusRepo,
		Lock:           redisCache,
		Storage:        objStorage,
		SourceBucket:   appCfg.Source.Bucket,
		Limits:         appCfg.Limits.Run,
		MaxSourceBytes: appCfg.Worker.MaxSourceBytes,
		WorkerTimeout:  appCfg.Worker.Timeout,
		StorageTimeout: appCfg.Source.Timeout,
		StatusTimeout:  appCfg.Status.Timeout,
		LockTTL:        appCfg.Worker.LockTTL,
		SlotWait:       appCfg.Worker.SlotWait,
		WorkerPoolSize: appCfg.Worker.PoolSize,
	}
	if mqClient != nil {
		svcCfg.RetryQueue = mqClient
		svcCfg.Retry = service.RetryPolicy{
			Topic:           appCfg.Kafka.RetryTopic,
			DeadLetterTopic: appCfg.Kafka.DeadLetter,
			MaxRetries:      appCfg.Kafka.PoolRetryMax,
			BaseDelay:       appCfg.Kafka.PoolRetryBase,
			MaxDelay:        appCfg.Kafka.PoolRetryMaxD,
		}
	}
	judgeSvc, err := service.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("init judge service: %w", err)
	}
	worker.SetStatusReporter(judgeSvc)

	if mqClient != nil {
		opts := appCfg.Kafka.subscribeOptions()
		for _, topic := range []string{appCfg.Kafka.Topic, appCfg.Kafka.RetryTopic} {
			if err := mqClient.SubscribeWithOptions(ctx, topic, judgeSvc.HandleMessage, opts); err != nil {
				return fmt.Errorf("subscribe %s: %w", topic, err)
			}
		}
		if err := mqClient.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	var limiter *middleware.RateLimiter
	if appCfg.RateLimit.enabled() {
		limiter = middleware.NewRateLimiter(appCfg.RateLimit.toPolicy())
	}
	router := controller.NewRouter(controller.NewJudgeController(judgeSvc, registry), limiter)
	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(stopCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if mqClient != nil {
		_ = mqClient.Stop()
	}
	pruner.Stop(context.WithoutCancel(ctx))
	return nil
}
