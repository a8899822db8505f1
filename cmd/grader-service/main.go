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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cosc121od/pycode/internal/common/cache"
	"github.com/cosc121od/pycode/internal/common/db"
	commonmw "github.com/cosc121od/pycode/internal/common/http/middleware"
	"github.com/cosc121od/pycode/internal/common/mq"
	"github.com/cosc121od/pycode/internal/common/storage"
	"github.com/cosc121od/pycode/internal/grading/backup"
	"github.com/cosc121od/pycode/internal/grading/controller"
	"github.com/cosc121od/pycode/internal/grading/repository"
	"github.com/cosc121od/pycode/internal/grading/sandbox/engine"
	"github.com/cosc121od/pycode/internal/grading/sandbox/observer"
	"github.com/cosc121od/pycode/internal/grading/sandbox/runner"
	"github.com/cosc121od/pycode/internal/grading/service"
	"github.com/cosc121od/pycode/pkg/utils/logger"
)

const defaultConfigPath = "configs/grader_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.OpenMySQL(context.Background(), appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCache(context.Background(), appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var archiver *backup.Archiver
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		if appCfg.Grading.EnsureBackupBucket {
			if err := objStorage.EnsureBucket(context.Background(), appCfg.Grading.BackupBucket); err != nil {
				logger.Error(context.Background(), "ensure backup bucket failed", zap.Error(err))
				return
			}
		}
		archiver = backup.NewArchiver(objStorage, appCfg.Grading.BackupBucket, appCfg.Grading.BackupPrefix)
	}

	var mqClient *mq.Kafka
	if appCfg.Kafka.Enabled {
		mqClient, err = mq.NewKafka(appCfg.Kafka.toMQConfig())
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mqClient.Close()
		}()
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := mqClient.Ping(pingCtx); err != nil {
			logger.Warn(context.Background(), "kafka broker unreachable, consumer will keep retrying", zap.Error(err))
		}
		pingCancel()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics, err := commonmw.NewHTTPMetrics(registry)
	if err != nil {
		logger.Error(context.Background(), "init http metrics failed", zap.Error(err))
		return
	}
	sandboxMetrics, err := observer.NewPrometheusRecorder(registry)
	if err != nil {
		logger.Error(context.Background(), "init sandbox metrics failed", zap.Error(err))
		return
	}

	if err := os.MkdirAll(appCfg.Sandbox.WorkRoot, 0o755); err != nil {
		logger.Error(context.Background(), "create work root failed", zap.Error(err))
		return
	}
	eng, err := engine.NewEngine(appCfg.Sandbox.Engine)
	if err != nil {
		logger.Error(context.Background(), "init sandbox engine failed", zap.Error(err))
		return
	}
	runners, err := runner.NewRegistry(eng, sandboxMetrics, appCfg.Sandbox.WorkRoot, appCfg.Languages.Languages)
	if err != nil {
		logger.Error(context.Background(), "init language runners failed", zap.Error(err))
		return
	}

	testCaseRepo := repository.NewTestCaseRepositoryWithTTL(mysqlDB, redisCache, appCfg.Grading.TestCaseCacheTTL, appCfg.Grading.TestCaseEmptyTTL)
	submissionRepo := repository.NewSubmissionRepository(mysqlDB)
	bundleCache := repository.NewBundleCache(redisCache, submissionRepo, appCfg.Grading.BundleCacheTTL, appCfg.Grading.BundleEmptyTTL)

	svcCfg := service.Config{
		Runners:        runners,
		TestCases:      testCaseRepo,
		Submissions:    submissionRepo,
		Bundles:        bundleCache,
		Grading:        appCfg.Grading.Config,
		Limits:         appCfg.Sandbox.Limits,
		MaxCodeBytes:   appCfg.Grading.MaxCodeBytes,
		WorkerPoolSize: appCfg.Worker.PoolSize,
		SlotWait:       appCfg.Worker.SlotWait,
		LockTTL:        appCfg.Grading.LockTTL,
		LockWait:       appCfg.Grading.LockWait,
	}
	if archiver != nil {
		svcCfg.Archiver = archiver
		svcCfg.ArchiveLinkTTL = appCfg.MinIO.PresignTTL
	}
	if mqClient != nil {
		svcCfg.Publisher = repository.NewMQResultEventPublisher(mqClient, appCfg.Kafka.ResultTopic)
	}
	gradingSvc, err := service.NewService(svcCfg)
	if err != nil {
		logger.Error(context.Background(), "init grading service failed", zap.Error(err))
		return
	}
	logger.Info(context.Background(), "grading languages ready", zap.Strings("languages", gradingSvc.Languages()))

	if mqClient != nil {
		consumer := service.NewSubmitConsumer(gradingSvc, service.ConsumerConfig{
			Queue:             mqClient,
			RetryTopic:        appCfg.Kafka.RetryTopic,
			DeadLetterTopic:   appCfg.Kafka.DeadLetter,
			PoolRetryMax:      appCfg.Kafka.PoolRetryMax,
			PoolRetryBase:     appCfg.Kafka.PoolRetryBase,
			PoolRetryMaxDelay: appCfg.Kafka.PoolRetryMaxD,
			Timeout:           appCfg.Worker.Timeout,
		})
		if err := mqClient.Consume(context.Background(), appCfg.Kafka.SubmitTopic, consumer.HandleMessage, appCfg.Kafka.toConsumeOptions()); err != nil {
			logger.Error(context.Background(), "consume submit topic failed", zap.Error(err))
			return
		}
	}

	verifier := commonmw.NewTokenVerifier(appCfg.Auth.Secret, appCfg.Auth.Issuer)
	httpServer := buildHTTPServer(appCfg, gradingSvc, verifier, httpMetrics, registry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(context.Background(), "grader http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	var grpcServer *grpc.Server
	var healthServer *health.Server
	if appCfg.GRPC.Enabled {
		grpcListener, err := net.Listen("tcp", appCfg.GRPC.Addr)
		if err != nil {
			logger.Error(context.Background(), "init grpc listener failed", zap.Error(err))
			return
		}
		grpcServer = grpc.NewServer()
		healthServer = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			logger.Info(context.Background(), "grader grpc health server started", zap.String("addr", appCfg.GRPC.Addr))
			errCh <- grpcServer.Serve(grpcListener)
		}()
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if healthServer != nil {
		go watchHealth(shutdownCtx, healthServer, defaultHealthInterval, mysqlDB.Ping)
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	if healthServer != nil {
		healthServer.Shutdown()
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if mqClient != nil {
		if err := mqClient.Close(); err != nil {
			logger.Warn(context.Background(), "close kafka failed", zap.Error(err))
		}
	}
}

func buildHTTPServer(appCfg *AppConfig, gradingSvc *service.Service, verifier *commonmw.TokenVerifier, httpMetrics *commonmw.HTTPMetrics, gatherer prometheus.Gatherer) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())
	router.Use(httpMetrics.Middleware())

	if appCfg.Metrics.Enabled {
		router.GET(appCfg.Metrics.Path, commonmw.PrometheusHandler(gatherer))
	}

	roles := appCfg.Auth.AuthorRoles
	if len(roles) == 0 {
		roles = []string{"author", "admin"}
	}
	hostAuth := commonmw.AuthMiddleware(verifier, commonmw.AuthPolicy{Roles: roles})

	api := router.Group("/api/v1/grading")
	controller.NewGradingController(gradingSvc).RegisterRoutes(api, hostAuth)

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}
