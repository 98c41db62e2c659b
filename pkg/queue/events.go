package queue

import (
	"context"
	"encoding/json"
	"time"
)

// EventType 队列生命周期事件类型
type EventType string

const (
	EventEnqueued  EventType = "enqueued"
	EventActive    EventType = "active"
	EventProgress  EventType = "progress"
	EventRetrying  EventType = "retrying"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
)

// Event 队列向观察方发出的结构化事件，替代回调式监听器
type Event struct {
	Type     EventType `json:"type"`
	Queue    string    `json:"queue"`
	JobID    string    `json:"jobId"`
	Progress int       `json:"progress,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// emit 非阻塞发送：消费方过慢时丢弃事件，绝不阻塞队列控制流。
// 同时经 Redis pub/sub 广播一份，供其他进程（如 API 侧的 SSE）订阅
func (q *Queue) emit(e Event) {
	e.Queue = q.name
	e.At = time.Now()
	select {
	case q.events <- e:
	default:
	}
	go q.publish(e)
}

func (q *Queue) publish(e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = q.rdb.Publish(ctx, q.key("events"), b).Err()
}

// Events 返回本进程内的事件通道，供日志等观察方消费
func (q *Queue) Events() <-chan Event { return q.events }

// SubscribeEvents 跨进程订阅队列事件，直到 ctx 取消。
// 事件属尽力而为的观测通道，订阅方不得依赖其承载正确性语义
func (q *Queue) SubscribeEvents(ctx context.Context) <-chan Event {
	sub := q.rdb.Subscribe(ctx, q.key("events"))
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					continue
				}
				select {
				case out <- e:
				default:
				}
			}
		}
	}()
	return out
}
