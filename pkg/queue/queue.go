package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeepPolicy 终态任务的保留上限（条数与时长双重约束）
type KeepPolicy struct {
	Count int
	Age   time.Duration
}

// Options 队列策略配置
type Options struct {
	MaxAttempts   int           // 每个任务的最大尝试次数
	BackoffBase   time.Duration // 指数退避的初始延迟
	LeaseTimeout  time.Duration // 可见性租约：超时未确认的任务重新投递
	KeepCompleted KeepPolicy
	KeepFailed    KeepPolicy
}

// DefaultOptions 默认策略：3 次尝试、1s 起步指数退避、60s 租约
func DefaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		LeaseTimeout:  time.Minute,
		KeepCompleted: KeepPolicy{Count: 1000, Age: 24 * time.Hour},
		KeepFailed:    KeepPolicy{Count: 5000, Age: 7 * 24 * time.Hour},
	}
}

// Queue 基于 Redis 的持久化命名队列，提供 at-least-once 投递语义：
// 任务出队后进入 active 集合并持有租约，只有显式 Ack 才会移除；
// 消费方崩溃后租约过期，由 ReapExpired 重新投递。
type Queue struct {
	rdb    *redis.Client
	name   string
	opts   Options
	events chan Event
}

// New 创建队列实例
func New(rdb *redis.Client, name string, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = time.Minute
	}
	return &Queue{
		rdb:    rdb,
		name:   name,
		opts:   opts,
		events: make(chan Event, 256),
	}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) key(suffix string) string {
	return fmt.Sprintf("echocast:queue:%s:%s", q.name, suffix)
}

func (q *Queue) jobKey(id string) string { return q.key("job:" + id) }

// Enqueue 入队一个任务负载，返回任务句柄
func (q *Queue) Enqueue(ctx context.Context, payload interface{}) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Payload:     data,
		MaxAttempts: q.opts.MaxAttempts,
		EnqueuedAt:  time.Now(),
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), map[string]interface{}{
		"payload":       string(data),
		"status":        StatusWaiting,
		"attempts_made": 0,
		"max_attempts":  job.MaxAttempts,
		"progress":      0,
		"enqueued_at":   job.EnqueuedAt.UnixMilli(),
	})
	pipe.LPush(ctx, q.key("wait"), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.emit(Event{Type: EventEnqueued, JobID: job.ID})
	return job, nil
}

// Dequeue 阻塞出队：等待 block 时长，无任务时返回 (nil, nil)。
// 出队的任务立即进入 active 集合并获得租约。
func (q *Queue) Dequeue(ctx context.Context, block time.Duration) (*Job, error) {
	id, err := q.rdb.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", block).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	lease := float64(time.Now().Add(q.opts.LeaseTimeout).UnixMilli())
	pipe := q.rdb.TxPipeline()
	pipe.ZAdd(ctx, q.key("leases"), redis.Z{Score: lease, Member: id})
	attempts := pipe.HIncrBy(ctx, q.jobKey(id), "attempts_made", 1)
	pipe.HSet(ctx, q.jobKey(id), "status", StatusActive, "progress", 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
	}

	job, err := q.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job.AttemptsMade = int(attempts.Val())
	job.Progress = 0
	q.emit(Event{Type: EventActive, JobID: id, Attempt: job.AttemptsMade})
	return job, nil
}

// ExtendLease 续租，处理耗时任务的心跳调用
func (q *Queue) ExtendLease(ctx context.Context, jobID string) error {
	lease := float64(time.Now().Add(q.opts.LeaseTimeout).UnixMilli())
	return q.rdb.ZAdd(ctx, q.key("leases"), redis.Z{Score: lease, Member: jobID}).Err()
}

// Ack 确认任务完成，移入 completed 集合并按保留策略裁剪
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	now := float64(time.Now().UnixMilli())
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key("active"), 1, job.ID)
	pipe.ZRem(ctx, q.key("leases"), job.ID)
	pipe.HSet(ctx, q.jobKey(job.ID), "status", StatusCompleted, "finished_at", int64(now))
	pipe.ZAdd(ctx, q.key("completed"), redis.Z{Score: now, Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	q.trimSet(ctx, "completed", q.opts.KeepCompleted.Count)
	q.emit(Event{Type: EventCompleted, JobID: job.ID, Attempt: job.AttemptsMade})
	return nil
}

// Fail 报告任务失败：未达尝试上限则按指数退避重新调度，否则移入 failed 集合
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key("active"), 1, job.ID)
	pipe.ZRem(ctx, q.key("leases"), job.ID)

	if job.AttemptsMade < job.MaxAttempts {
		delay := q.backoff(job.AttemptsMade)
		readyAt := float64(time.Now().Add(delay).UnixMilli())
		pipe.HSet(ctx, q.jobKey(job.ID), "status", StatusDelayed, "last_error", msg)
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: readyAt, Member: job.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to schedule retry for job %s: %w", job.ID, err)
		}
		q.emit(Event{Type: EventRetrying, JobID: job.ID, Attempt: job.AttemptsMade, Error: msg})
		return nil
	}

	now := float64(time.Now().UnixMilli())
	pipe.HSet(ctx, q.jobKey(job.ID), "status", StatusFailed, "last_error", msg, "finished_at", int64(now))
	pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: now, Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move job %s to failed set: %w", job.ID, err)
	}
	q.trimSet(ctx, "failed", q.opts.KeepFailed.Count)
	q.emit(Event{Type: EventFailed, JobID: job.ID, Attempt: job.AttemptsMade, Error: msg})
	return nil
}

// backoff 第 attempt 次尝试失败后的重试延迟：base * 2^(attempt-1)
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// UpdateProgress 更新任务进度并发出进度事件
func (q *Queue) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	if err := q.rdb.HSet(ctx, q.jobKey(jobID), "progress", progress).Err(); err != nil {
		return err
	}
	q.emit(Event{Type: EventProgress, JobID: jobID, Progress: progress})
	return nil
}

// PromoteDelayed 将到期的延迟任务移回等待队列，由消费方周期调用
func (q *Queue) PromoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		// ZRem 返回 0 说明被其他实例抢先搬运
		removed, err := q.rdb.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.HSet(ctx, q.jobKey(id), "status", StatusWaiting)
		pipe.LPush(ctx, q.key("wait"), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ReapExpired 重新投递租约过期的任务（消费方崩溃后的 redelivery 路径）
func (q *Queue) ReapExpired(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("leases"), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, q.key("leases"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, q.key("active"), 1, id)
		pipe.HSet(ctx, q.jobKey(id), "status", StatusWaiting)
		pipe.LPush(ctx, q.key("wait"), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		q.emit(Event{Type: EventStalled, JobID: id})
	}
	return q.leaseOrphanedClaims(ctx)
}

// leaseOrphanedClaims 兜底搬运与写租约之间的崩溃窗口：active 里可能留有
// 没有租约的任务，不补救则永远不会重投。给这类任务补一个租约（NX，不动
// 健在消费方刚写入的租约）；消费方已死时租约到期，由常规回收路径重投
func (q *Queue) leaseOrphanedClaims(ctx context.Context) error {
	ids, err := q.rdb.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	lease := float64(time.Now().Add(q.opts.LeaseTimeout).UnixMilli())
	for _, id := range ids {
		if err := q.rdb.ZAddNX(ctx, q.key("leases"), redis.Z{Score: lease, Member: id}).Err(); err != nil {
			return err
		}
	}
	return nil
}

// PurgeAged 按保留时长清理过期的终态任务及其数据
func (q *Queue) PurgeAged(ctx context.Context) error {
	if err := q.purgeSet(ctx, "completed", q.opts.KeepCompleted.Age); err != nil {
		return err
	}
	return q.purgeSet(ctx, "failed", q.opts.KeepFailed.Age)
}

func (q *Queue) purgeSet(ctx context.Context, set string, age time.Duration) error {
	if age <= 0 {
		return nil
	}
	cutoff := strconv.FormatInt(time.Now().Add(-age).UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.key(set), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.key(set), id)
		pipe.Del(ctx, q.jobKey(id))
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// trimSet 按条数上限裁剪终态集合，淘汰最旧的任务
func (q *Queue) trimSet(ctx context.Context, set string, keep int) {
	if keep <= 0 {
		return
	}
	ids, err := q.rdb.ZRange(ctx, q.key(set), 0, int64(-keep-1)).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.key(set), id)
		pipe.Del(ctx, q.jobKey(id))
	}
	_, _ = pipe.Exec(ctx)
}

// GetJob 读取任务当前状态
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.loadJob(ctx, id)
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("job %s not found", id)
	}
	job := &Job{
		ID:      id,
		Queue:   q.name,
		Payload: json.RawMessage(fields["payload"]),
		q:       q,
	}
	job.AttemptsMade, _ = strconv.Atoi(fields["attempts_made"])
	job.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	job.Progress, _ = strconv.Atoi(fields["progress"])
	job.LastError = fields["last_error"]
	if ms, err := strconv.ParseInt(fields["enqueued_at"], 10, 64); err == nil {
		job.EnqueuedAt = time.UnixMilli(ms)
	}
	return job, nil
}

// Counts 返回各状态的任务数量，供健康检查使用
func (q *Queue) Counts(ctx context.Context) (map[string]int64, error) {
	pipe := q.rdb.Pipeline()
	wait := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return map[string]int64{
		StatusWaiting:   wait.Val(),
		StatusActive:    active.Val(),
		StatusDelayed:   delayed.Val(),
		StatusCompleted: completed.Val(),
		StatusFailed:    failed.Val(),
	}, nil
}

// Close 关闭事件通道（不关闭注入的 Redis 连接）
func (q *Queue) Close() {
	close(q.events)
}
