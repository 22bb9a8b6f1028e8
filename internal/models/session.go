package models

import (
	"time"
)

// SessionStatus 战斗会话状态
type SessionStatus string

const (
	SessionCreated SessionStatus = "created"
	SessionOngoing SessionStatus = "ongoing"
	SessionPaused  SessionStatus = "paused"
	SessionEnded   SessionStatus = "ended"
)

// 地图边长范围
const (
	MapMinSize = 10
	MapMaxSize = 100
)

// Session 战斗会话表
type Session struct {
	BaseModel
	SessionID string        `gorm:"uniqueIndex;size:36;not null" json:"id"`
	Name      string        `gorm:"size:100;not null" json:"name"`
	AuthorID  uint          `gorm:"not null;index" json:"author_id"`
	Status    SessionStatus `gorm:"size:20;not null;default:'created';index" json:"status"`
	MapWidth  int           `gorm:"not null" json:"map_width"`
	MapHeight int           `gorm:"not null" json:"map_height"`
	// 当前在线的玩家
	ConnectedParties []uint     `gorm:"serializer:json" json:"connected_parties"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// IsConnected 玩家是否在线
func (s *Session) IsConnected(party uint) bool {
	for _, p := range s.ConnectedParties {
		if p == party {
			return true
		}
	}
	return false
}

// TurnSlot 先攻顺序表，每个会话一个稠密的 0..N-1 序列
type TurnSlot struct {
	BaseModel
	SessionID string `gorm:"size:36;not null;uniqueIndex:idx_turn_session_entity;uniqueIndex:idx_turn_session_position" json:"session_id"`
	EntityID  string `gorm:"size:36;not null;uniqueIndex:idx_turn_session_entity" json:"entity_id"`
	Position  int    `gorm:"not null;uniqueIndex:idx_turn_session_position" json:"position"`
}

// Profile 长期角色档案（名字、作者），战斗数据属于会话
type Profile struct {
	BaseModel
	Name     string `gorm:"size:100;not null" json:"name"`
	AuthorID uint   `gorm:"not null;index" json:"author_id"`
	Kind     string `gorm:"size:20;not null" json:"kind"`
}
