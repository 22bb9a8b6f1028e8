package combat

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// 推送给会话内所有玩家的事件类型
const (
	EventNarrative      = "narrative"
	EventDied           = "died"
	EventTurnChanged    = "turn_changed"
	EventEffectsChanged = "effects_changed"
	EventReactionUsed   = "reaction_used"
	EventSessionStatus  = "session_status"
)

// Event 状态变更通知
type Event struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Notifier 把事件推送给会话内的在线玩家
type Notifier interface {
	Publish(sessionID string, event *Event)
}

// NotifierFunc 函数适配器
type NotifierFunc func(sessionID string, event *Event)

// Publish 实现 Notifier
func (f NotifierFunc) Publish(sessionID string, event *Event) { f(sessionID, event) }

func newEvent(eventType, sessionID string, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

// EventStore 事件持久化
type EventStore interface {
	AppendEvent(ctx context.Context, sessionID, eventType string, data map[string]interface{}, at time.Time) error
}

// EventRecorder 先落库再转发给下游推送
type EventRecorder struct {
	store   EventStore
	next    Notifier
	logger  *zap.Logger
	timeout time.Duration
}

// NewEventRecorder 创建事件记录器，next 可以为 nil
func NewEventRecorder(store EventStore, next Notifier, log *zap.Logger) *EventRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventRecorder{store: store, next: next, logger: log, timeout: 5 * time.Second}
}

// Publish 实现 Notifier，落库失败只记日志，不影响推送
func (r *EventRecorder) Publish(sessionID string, event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	at := time.Unix(event.Timestamp, 0)
	if err := r.store.AppendEvent(ctx, sessionID, event.Type, event.Data, at); err != nil {
		r.logger.Warn("战斗事件落库失败",
			zap.String("session_id", sessionID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
	if r.next != nil {
		r.next.Publish(sessionID, event)
	}
}
