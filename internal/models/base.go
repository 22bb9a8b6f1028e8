package models

import (
	"time"
)

// BaseModel 公共字段
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All 需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&Profile{},
		&Session{},
		&Combatant{},
		&MonsterSkill{},
		&TurnSlot{},
		&Spell{},
		&CombatLog{},
	}
}
