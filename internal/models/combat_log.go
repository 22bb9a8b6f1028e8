package models

import "time"

// CombatLog 会话内推送过的战斗事件，按时间顺序回放
type CombatLog struct {
	ID        uint                   `gorm:"primaryKey" json:"id"`
	SessionID string                 `gorm:"size:36;not null;index:idx_log_session_time" json:"session_id"`
	Type      string                 `gorm:"size:30;not null;index" json:"type"`
	Data      map[string]interface{} `gorm:"serializer:json" json:"data"`
	CreatedAt time.Time              `gorm:"index:idx_log_session_time" json:"created_at"`
}
