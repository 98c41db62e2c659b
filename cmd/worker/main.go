package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"EchoCast/internal/models"
	"EchoCast/internal/worker"
	"EchoCast/pkg/config"
	"EchoCast/pkg/llm"
	"EchoCast/pkg/logger"
	"EchoCast/pkg/queue"
	"EchoCast/pkg/scheduler"
	"EchoCast/pkg/util"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

func main() {
	// 1. 配置与日志
	if err := config.Load(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	cfg := config.GlobalConfig
	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. 数据库（Worker 可能先于 API 启动，同样负责建表）
	db, err := util.OpenDatabase(cfg.DBDriver, cfg.DSN)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// 3. 生成服务商
	provider, err := llm.NewGeminiProvider(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, logrus.StandardLogger())
	if err != nil {
		logger.Fatal("failed to init AI provider", zap.Error(err))
	}

	// 4. 队列与消费者
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

	processor := worker.NewProcessor(db, provider)
	w, err := queue.NewWorker(q, processor.Handle, queue.WorkerOptions{
		Concurrency: cfg.WorkerConcurrency,
		Rate:        cfg.WorkerRate,
	})
	if err != nil {
		logger.Fatal("failed to create worker", zap.Error(err))
	}

	// 5. 周期清理过期的终态任务记录
	cron := scheduler.NewCron(nil)
	if _, err := cron.Add("0 * * * *", scheduler.FuncJob(func(ctx context.Context) {
		if err := q.PurgeAged(ctx); err != nil {
			logger.Warn("failed to purge aged jobs", zap.Error(err))
		}
	})); err != nil {
		logger.Fatal("failed to schedule purge job", zap.Error(err))
	}
	cron.Start()

	// 队列深度上报，供排查积压
	sched := scheduler.New()
	sched.Every(30*time.Second, scheduler.FuncJob(func(ctx context.Context) {
		counts, err := q.Counts(ctx)
		if err != nil {
			logger.Warn("failed to read queue counts", zap.Error(err))
			return
		}
		logger.Info("queue depth",
			zap.Int64("waiting", counts[queue.StatusWaiting]),
			zap.Int64("active", counts[queue.StatusActive]),
			zap.Int64("delayed", counts[queue.StatusDelayed]),
			zap.Int64("failed", counts[queue.StatusFailed]),
		)
	}))

	// 6. 队列事件日志
	go logQueueEvents(q)

	// 7. 消费直到收到退出信号；在途任务跑完后返回
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info("worker started",
		zap.String("queue", cfg.QueueName),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("rate", cfg.WorkerRate),
	)
	w.Run(ctx)

	logger.Info("worker shutting down")
	sched.Stop()
	cron.Stop()
	q.Close()
	_ = rdb.Close()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func logQueueEvents(q *queue.Queue) {
	for e := range q.Events() {
		fields := []zap.Field{
			zap.String("jobId", e.JobID),
			zap.String("queue", e.Queue),
		}
		switch e.Type {
		case queue.EventCompleted:
			logger.Info("job completed", fields...)
		case queue.EventRetrying:
			logger.Warn("job failed, retry scheduled", append(fields,
				zap.Int("attempt", e.Attempt), zap.String("error", e.Error))...)
		case queue.EventFailed:
			logger.Error("job failed permanently", append(fields,
				zap.Int("attempt", e.Attempt), zap.String("error", e.Error))...)
		case queue.EventStalled:
			logger.Warn("job lease expired, requeued", fields...)
		}
	}
}
