package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	DocumentID uint   `json:"documentId"`
	UserID     string `json:"userId"`
}

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := New(rdb, "test", opts)
	t.Cleanup(q.Close)
	return q
}

func TestEnqueueDequeueAck(t *testing.T) {
	q := newTestQueue(t, DefaultOptions())
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testPayload{DocumentID: 42, UserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusWaiting])

	got, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 1, got.AttemptsMade)

	var p testPayload
	require.NoError(t, got.Unmarshal(&p))
	assert.Equal(t, uint(42), p.DocumentID)
	assert.Equal(t, "u1", p.UserID)

	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusActive])

	require.NoError(t, q.Ack(ctx, got))
	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[StatusActive])
	assert.Equal(t, int64(1), counts[StatusCompleted])
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q := newTestQueue(t, DefaultOptions())
	job, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestFailSchedulesRetryThenTerminal(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAttempts = 2
	opts.BackoffBase = 10 * time.Millisecond
	q := newTestQueue(t, opts)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testPayload{DocumentID: 1})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, assert.AnError))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusDelayed])

	// 退避到期前不可见
	require.NoError(t, q.PromoteDelayed(ctx))
	none, err := q.Dequeue(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, none)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.PromoteDelayed(ctx))

	job, err = q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.AttemptsMade)

	// 第二次失败达到上限，进入终态
	require.NoError(t, q.Fail(ctx, job, assert.AnError))
	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[StatusDelayed])
	assert.Equal(t, int64(1), counts[StatusFailed])

	failed, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, failed.LastError, assert.AnError.Error())
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	opts := DefaultOptions()
	opts.BackoffBase = time.Second
	q := newTestQueue(t, opts)

	assert.Equal(t, time.Second, q.backoff(1))
	assert.Equal(t, 2*time.Second, q.backoff(2))
	assert.Equal(t, 4*time.Second, q.backoff(3))
}

func TestReapExpiredRequeuesStalledJob(t *testing.T) {
	opts := DefaultOptions()
	opts.LeaseTimeout = 20 * time.Millisecond
	q := newTestQueue(t, opts)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testPayload{DocumentID: 7})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)

	// 消费方“崩溃”：不 Ack，等租约过期
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, q.ReapExpired(ctx))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusWaiting])
	assert.Equal(t, int64(0), counts[StatusActive])

	again, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.AttemptsMade)
}

func TestReapExpiredRecoversClaimWithoutLease(t *testing.T) {
	opts := DefaultOptions()
	opts.LeaseTimeout = 20 * time.Millisecond
	q := newTestQueue(t, opts)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testPayload{DocumentID: 11})
	require.NoError(t, err)

	// 消费方在搬运之后、写租约之前崩溃：任务滞留 active 且无租约
	id, err := q.rdb.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", 100*time.Millisecond).Result()
	require.NoError(t, err)
	require.Equal(t, job.ID, id)

	time.Sleep(30 * time.Millisecond)

	// 第一遍回收补上租约，任务暂留 active
	require.NoError(t, q.ReapExpired(ctx))
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusActive])
	assert.Equal(t, int64(0), counts[StatusWaiting])

	// 补的租约到期仍无人续租，走常规路径重投
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, q.ReapExpired(ctx))
	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusWaiting])
	assert.Equal(t, int64(0), counts[StatusActive])

	again, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
}

func TestExtendLeaseKeepsJobActive(t *testing.T) {
	opts := DefaultOptions()
	opts.LeaseTimeout = 30 * time.Millisecond
	q := newTestQueue(t, opts)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testPayload{})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.ExtendLease(ctx, job.ID))
	time.Sleep(20 * time.Millisecond)

	// 原租约已过时限，但续租后仍然有效
	require.NoError(t, q.ReapExpired(ctx))
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusActive])
}

func TestCompletedTrimmedByCount(t *testing.T) {
	opts := DefaultOptions()
	opts.KeepCompleted = KeepPolicy{Count: 2, Age: time.Hour}
	q := newTestQueue(t, opts)
	ctx := context.Background()

	var first *Job
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, testPayload{DocumentID: uint(i)})
		require.NoError(t, err)
		job, err := q.Dequeue(ctx, 100*time.Millisecond)
		require.NoError(t, err)
		if i == 0 {
			first = job
		}
		require.NoError(t, q.Ack(ctx, job))
		time.Sleep(2 * time.Millisecond) // score 按完成时间排序
	}

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[StatusCompleted])

	// 最旧的任务连同数据一起淘汰
	_, err = q.GetJob(ctx, first.ID)
	assert.Error(t, err)
}

func TestPurgeAgedRemovesOldTerminalJobs(t *testing.T) {
	opts := DefaultOptions()
	opts.KeepCompleted = KeepPolicy{Count: 100, Age: time.Millisecond}
	q := newTestQueue(t, opts)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testPayload{})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, job))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, q.PurgeAged(ctx))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[StatusCompleted])
}

func TestProgressMonotonicWithinAttempt(t *testing.T) {
	q := newTestQueue(t, DefaultOptions())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testPayload{})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, job.UpdateProgress(ctx, 50))
	require.NoError(t, job.UpdateProgress(ctx, 30)) // 回退被忽略

	got, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
}

func TestEventsEmittedThroughLifecycle(t *testing.T) {
	q := newTestQueue(t, DefaultOptions())
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testPayload{})
	require.NoError(t, err)
	dq, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, dq.UpdateProgress(ctx, 10))
	require.NoError(t, q.Ack(ctx, dq))

	var types []EventType
	for len(types) < 4 {
		select {
		case e := <-q.Events():
			assert.Equal(t, job.ID, e.JobID)
			assert.Equal(t, "test", e.Queue)
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", types)
		}
	}
	assert.Equal(t, []EventType{EventEnqueued, EventActive, EventProgress, EventCompleted}, types)
}
