package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Handler 处理单个任务；返回错误即视为本次尝试失败
type Handler func(ctx context.Context, job *Job) error

// WorkerOptions 消费端配置
type WorkerOptions struct {
	Concurrency  int           // 并发处理上限
	Rate         string        // 进程级任务启动速率，ulule/limiter 格式（如 "10-S"）
	DequeueBlock time.Duration // 单次阻塞出队时长
}

// Worker 队列消费者：有界并发 + 进程级启动速率限制。
// 任务处理期间由心跳续租，进程被杀后任务经租约超时重新投递。
type Worker struct {
	q       *Queue
	handler Handler
	opts    WorkerOptions
	lim     *limiter.Limiter

	wg sync.WaitGroup
}

// NewWorker 创建消费者
func NewWorker(q *Queue, handler Handler, opts WorkerOptions) (*Worker, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Rate == "" {
		opts.Rate = "10-S"
	}
	if opts.DequeueBlock <= 0 {
		opts.DequeueBlock = 5 * time.Second
	}
	rate, err := limiter.NewRateFromFormatted(opts.Rate)
	if err != nil {
		return nil, err
	}
	return &Worker{
		q:       q,
		handler: handler,
		opts:    opts,
		lim:     limiter.New(memory.NewStore(), rate),
	}, nil
}

// Run 运行消费循环直到 ctx 取消；返回前等待在途任务结束。
// 被放弃的任务经租约超时由 ReapExpired 重新投递。
func (w *Worker) Run(ctx context.Context) {
	// 延迟任务搬运与租约回收的后台循环
	w.wg.Add(1)
	go w.maintenanceLoop(ctx)

	sem := make(chan struct{}, w.opts.Concurrency)
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case sem <- struct{}{}:
		}

		job, err := w.q.Dequeue(ctx, w.opts.DequeueBlock)
		if err != nil || job == nil {
			<-sem
			continue
		}

		// 速率门限作用在任务启动上，而非出队轮询上
		if !w.waitForSlot(ctx) {
			// 进程正在退出：放弃该任务，等待租约超时重投
			<-sem
			w.wg.Wait()
			return
		}

		w.wg.Add(1)
		go func(job *Job) {
			defer w.wg.Done()
			defer func() { <-sem }()
			w.process(ctx, job)
		}(job)
	}
}

// waitForSlot 阻塞到速率窗口允许启动下一个任务；ctx 取消时返回 false
func (w *Worker) waitForSlot(ctx context.Context) bool {
	for {
		lctx, err := w.lim.Get(ctx, "job-starts")
		if err != nil {
			return ctx.Err() == nil
		}
		if !lctx.Reached {
			return true
		}
		wait := time.Until(time.Unix(lctx.Reset, 0))
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	// 心跳续租：覆盖生成调用这类长耗时步骤。脱离 ctx 取消链，
	// 保证优雅退出时在途任务仍持有租约。
	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHeartbeat()
	go w.heartbeat(hbCtx, job.ID)

	// 任务一旦出队就跑到终点，不随 ctx 中途取消
	err := w.handler(context.WithoutCancel(ctx), job)
	stopHeartbeat()

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err != nil {
		_ = w.q.Fail(reportCtx, job, err)
		return
	}
	_ = w.q.Ack(reportCtx, job)
}

func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	interval := w.q.opts.LeaseTimeout / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = w.q.ExtendLease(ctx, jobID)
		}
	}
}

// maintenanceLoop 周期搬运到期的延迟任务并回收过期租约
func (w *Worker) maintenanceLoop(ctx context.Context) {
	defer w.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = w.q.PromoteDelayed(ctx)
			_ = w.q.ReapExpired(ctx)
		}
	}
}
