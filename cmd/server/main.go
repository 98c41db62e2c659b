package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	handlers "EchoCast/internal/handler"
	"EchoCast/internal/models"
	"EchoCast/pkg/config"
	"EchoCast/pkg/llm"
	"EchoCast/pkg/logger"
	"EchoCast/pkg/middleware"
	"EchoCast/pkg/queue"
	"EchoCast/pkg/sse"
	stores "EchoCast/pkg/storage"
	"EchoCast/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

func main() {
	// 1. 配置与日志
	if err := config.Load(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := config.ValidateServer(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	cfg := config.GlobalConfig
	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. 数据库
	db, err := util.OpenDatabase(cfg.DBDriver, cfg.DSN)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// 3. 对象存储与生成服务商
	store, err := stores.NewMinioStore(stores.MinioConfigFromEnv())
	if err != nil {
		logger.Fatal("failed to init object storage", zap.Error(err))
	}
	provider, err := llm.NewGeminiProvider(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, logrus.StandardLogger())
	if err != nil {
		logger.Fatal("failed to init AI provider", zap.Error(err))
	}

	// 4. 队列（API 侧只入队和订阅事件）
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.New(rdb, cfg.QueueName, queue.Options{
		MaxAttempts:   cfg.QueueAttempts,
		BackoffBase:   cfg.QueueBackoffBase,
		LeaseTimeout:  cfg.QueueLeaseTimeout,
		KeepCompleted: queue.KeepPolicy{Count: cfg.KeepCompletedCount, Age: cfg.KeepCompletedAge},
		KeepFailed:    queue.KeepPolicy{Count: cfg.KeepFailedCount, Age: cfg.KeepFailedAge},
	})

	// 5. 进度事件转发到 SSE
	hub := sse.NewHub(30 * time.Second)
	pumpCtx, stopPump := context.WithCancel(context.Background())
	defer stopPump()
	go pumpQueueEvents(pumpCtx, q, hub)

	// 6. HTTP 服务
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate: "100-M",
		PerRouteRates: map[string]string{
			cfg.APIPrefix + "/documents/process": "10-M",
		},
		SkipPaths:  []string{cfg.APIPrefix + "/system"},
		AddHeaders: true,
	}, nil).WithObserver(middleware.NewPrometheusObserver())

	api := r.Group(cfg.APIPrefix)
	api.Use(rl.Middleware())

	h := handlers.NewHandlers(db, store, provider, q,
		handlers.WithPollPolicy(cfg.ProviderPollInterval, cfg.ProviderPollTimeout),
		handlers.WithProgressHub(hub),
	)
	h.RegisterRoutes(api, middleware.AuthRequired(),
		middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{TTL: 10 * time.Minute}))

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// 7. 优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	stopPump()
	q.Close()
	_ = rdb.Close()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// pumpQueueEvents 订阅队列事件，按任务属主推送到 SSE
func pumpQueueEvents(ctx context.Context, q *queue.Queue, hub *sse.Hub) {
	for e := range q.SubscribeEvents(ctx) {
		job, err := q.GetJob(ctx, e.JobID)
		if err != nil {
			continue
		}
		var payload models.GenerationJob
		if err := job.Unmarshal(&payload); err != nil || payload.UserID == "" {
			continue
		}
		hub.PublishJSON(payload.UserID, e)
	}
}
