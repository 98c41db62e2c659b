package config

import (
	"EchoCast/pkg/logger"
	"EchoCast/pkg/util"
	"fmt"
	"log"
	"os"
	"time"
)

// config/config.go
type Config struct {
	DBDriver  string `env:"DB_DRIVER"`
	DSN       string `env:"DSN"`
	Log       logger.LogConfig
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	APIPrefix string `env:"API_PREFIX"`

	// 生成服务商（Gemini）
	GeminiAPIKey         string        `env:"GEMINI_API_KEY"`
	GeminiModel          string        `env:"GEMINI_MODEL"`
	ProviderPollInterval time.Duration `env:"PROVIDER_POLL_INTERVAL"`
	ProviderPollTimeout  time.Duration `env:"PROVIDER_POLL_TIMEOUT"`

	// 队列后端（Redis）
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`

	// 队列策略
	QueueName          string        `env:"QUEUE_NAME"`
	QueueAttempts      int           `env:"QUEUE_ATTEMPTS"`
	QueueBackoffBase   time.Duration `env:"QUEUE_BACKOFF_BASE"`
	QueueLeaseTimeout  time.Duration `env:"QUEUE_LEASE_TIMEOUT"`
	KeepCompletedCount int           `env:"QUEUE_KEEP_COMPLETED_COUNT"`
	KeepCompletedAge   time.Duration `env:"QUEUE_KEEP_COMPLETED_AGE"`
	KeepFailedCount    int           `env:"QUEUE_KEEP_FAILED_COUNT"`
	KeepFailedAge      time.Duration `env:"QUEUE_KEEP_FAILED_AGE"`

	// 生成 Worker
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY"`
	WorkerRate        string `env:"WORKER_RATE"` // ulule/limiter 格式，如 "10-S"
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	err := util.LoadEnv(env)
	if err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = &Config{
		DBDriver:  util.GetEnv("DB_DRIVER"),
		DSN:       util.GetEnv("DSN"),
		Addr:      util.GetEnvDefault("ADDR", ":8080"),
		Mode:      util.GetEnv("MODE"),
		APIPrefix: util.GetEnvDefault("API_PREFIX", "/api"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		GeminiAPIKey:         util.GetEnv("GEMINI_API_KEY"),
		GeminiModel:          util.GetEnvDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		ProviderPollInterval: util.GetDurationEnv("PROVIDER_POLL_INTERVAL", 5*time.Second),
		ProviderPollTimeout:  util.GetDurationEnv("PROVIDER_POLL_TIMEOUT", 10*time.Minute),
		RedisAddr:            util.GetEnv("REDIS_ADDR"),
		RedisPassword:        util.GetEnv("REDIS_PASSWORD"),
		RedisDB:              int(util.GetIntEnv("REDIS_DB")),
		QueueName:            util.GetEnvDefault("QUEUE_NAME", "podcast-generation"),
		QueueAttempts:        int(util.GetIntEnvDefault("QUEUE_ATTEMPTS", 3)),
		QueueBackoffBase:     util.GetDurationEnv("QUEUE_BACKOFF_BASE", time.Second),
		QueueLeaseTimeout:    util.GetDurationEnv("QUEUE_LEASE_TIMEOUT", time.Minute),
		KeepCompletedCount:   int(util.GetIntEnvDefault("QUEUE_KEEP_COMPLETED_COUNT", 1000)),
		KeepCompletedAge:     util.GetDurationEnv("QUEUE_KEEP_COMPLETED_AGE", 24*time.Hour),
		KeepFailedCount:      int(util.GetIntEnvDefault("QUEUE_KEEP_FAILED_COUNT", 5000)),
		KeepFailedAge:        util.GetDurationEnv("QUEUE_KEEP_FAILED_AGE", 7*24*time.Hour),
		WorkerConcurrency:    int(util.GetIntEnvDefault("WORKER_CONCURRENCY", 5)),
		WorkerRate:           util.GetEnvDefault("WORKER_RATE", "10-S"),
	}
	return nil
}

// Validate 校验两个进程都必需的外部连接配置，缺失即启动失败
func Validate() error {
	if GlobalConfig == nil {
		return fmt.Errorf("config not loaded")
	}
	if GlobalConfig.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if GlobalConfig.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	return nil
}

// ValidateServer 额外校验 API 进程独有的依赖：只有入库接口读对象存储，
// Worker 不建 MinIO 客户端，不为用不到的配置拒绝启动
func ValidateServer() error {
	if err := Validate(); err != nil {
		return err
	}
	for _, key := range []string{"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET"} {
		if util.GetEnv(key) == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	return nil
}
