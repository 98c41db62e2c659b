package handlers

import (
	"context"
	"time"

	"EchoCast/pkg/llm"
	"EchoCast/pkg/queue"
	"EchoCast/pkg/sse"
	stores "EchoCast/pkg/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Enqueuer 入队能力抽象，便于测试替身
type Enqueuer interface {
	Enqueue(ctx context.Context, payload interface{}) (*queue.Job, error)
}

// Handlers 持有所有注入的外部协作方，由进程组合根构造
type Handlers struct {
	db           *gorm.DB
	store        stores.Store
	provider     llm.Provider
	jobs         Enqueuer
	hub          *sse.Hub
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// Option 构造选项
type Option func(*Handlers)

// WithPollPolicy 配置服务商状态轮询的间隔与超时
func WithPollPolicy(interval, timeout time.Duration) Option {
	return func(h *Handlers) {
		h.pollInterval = interval
		h.pollTimeout = timeout
	}
}

// WithProgressHub 挂载进度事件的 SSE 广播器
func WithProgressHub(hub *sse.Hub) Option {
	return func(h *Handlers) { h.hub = hub }
}

func NewHandlers(db *gorm.DB, store stores.Store, provider llm.Provider, jobs Enqueuer, opts ...Option) *Handlers {
	h := &Handlers{
		db:           db,
		store:        store,
		provider:     provider,
		jobs:         jobs,
		pollInterval: 5 * time.Second,
		pollTimeout:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes 注册 API 路由。intakeMW 只挂在入库接口上（幂等窗口等）
func (h *Handlers) RegisterRoutes(r gin.IRouter, authRequired gin.HandlerFunc, intakeMW ...gin.HandlerFunc) {
	r.GET("/system/health", h.HealthCheck)

	api := r.Group("", authRequired)
	api.POST("/documents/process", append(intakeMW, h.ProcessDocument)...)
	api.GET("/documents", h.ListDocuments)
	api.GET("/podcasts", h.ListPodcasts)
	api.GET("/podcasts/:id", h.GetPodcast)
	if h.hub != nil {
		api.GET("/jobs/progress", h.StreamProgress)
	}
}
