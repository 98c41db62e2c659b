package util

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv 根据运行环境加载对应的 .env 文件（如 .env.development / .env.production）
func LoadEnv(env string) error {
	candidates := []string{fmt.Sprintf(".env.%s", env), ".env"}
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			return godotenv.Load(f)
		}
	}
	return fmt.Errorf("no env file found for environment %q", env)
}

// GetEnv 获取环境变量，未设置时返回空字符串
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetEnvDefault 获取环境变量，未设置时返回默认值
func GetEnvDefault(key, def string) string {
	if v := GetEnv(key); v != "" {
		return v
	}
	return def
}

// GetIntEnv 获取整型环境变量
func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

// GetIntEnvDefault 获取整型环境变量，未设置或非法时返回默认值
func GetIntEnvDefault(key string, def int64) int64 {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return def
	}
	return n
}

// GetBoolEnv 获取布尔环境变量（支持 1/true/yes 等）
func GetBoolEnv(key string) bool {
	return cast.ToBool(GetEnv(key))
}

// GetDurationEnv 获取时长环境变量（如 "5s"、"10m"），未设置或非法时返回默认值
func GetDurationEnv(key string, def time.Duration) time.Duration {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
