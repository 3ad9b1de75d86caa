package executor

import "time"

// EventType 表示执行器生命周期事件类型。
type EventType string

const (
	EventStart     EventType = "executor_start"
	EventCompleted EventType = "executor_completed"
	EventFailed    EventType = "executor_failed"
	EventCancelled EventType = "executor_cancelled"
	EventFill      EventType = "executor_fill"
)

// Event 为执行器向外部发布的生命周期事件。
type Event struct {
	Type       EventType              `json:"type"`
	ExecutorID string                 `json:"executor_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Listener 接收执行器事件。监听器内部的异常不会影响执行器自身状态。
type Listener func(Event)
