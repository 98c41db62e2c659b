package queue

import (
	"context"
	"encoding/json"
	"time"
)

// 任务状态
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusDelayed   = "delayed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job 队列中的一个任务
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Payload      json.RawMessage `json:"payload"`
	AttemptsMade int             `json:"attemptsMade"` // 已尝试次数（含当前）
	MaxAttempts  int             `json:"maxAttempts"`
	Progress     int             `json:"progress"` // 0-100，单次尝试内单调递增
	LastError    string          `json:"lastError,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`

	q *Queue // 出队时回填，供进度上报
}

// UpdateProgress 上报任务进度（仅观测用途，不承载正确性语义）
func (j *Job) UpdateProgress(ctx context.Context, progress int) error {
	if j.q == nil {
		return nil
	}
	if progress < j.Progress {
		// 单次尝试内进度只进不退
		return nil
	}
	j.Progress = progress
	return j.q.UpdateProgress(ctx, j.ID, progress)
}

// Unmarshal 反序列化任务负载
func (j *Job) Unmarshal(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}
