// Package entity 战斗实体模型：角色卡(Character)、NPC、怪物(Monster)三种变体
package entity

import (
	"errors"
	"fmt"
)

// Kind 实体类型
type Kind string

const (
	KindCharacter Kind = "character"
	KindNPC       Kind = "npc"
	KindMonster   Kind = "monster"
)

// Valid 是否为已知实体类型
func (k Kind) Valid() bool {
	switch k {
	case KindCharacter, KindNPC, KindMonster:
		return true
	}
	return false
}

// SpeedUnit 移动速度的最小单位（尺）
const SpeedUnit = 5

// Effect 状态效果标签
type Effect string

var (
	ErrInvalidArmorClass = errors.New("护甲等级必须为正整数")
	ErrInvalidHitPoints  = errors.New("当前生命值不能超过最大生命值")
	ErrInvalidSpeed      = errors.New("速度必须为5的非负倍数")
)

// Entity 战斗实体，只能由本包的三种变体实现
type Entity interface {
	Kind() Kind
	Core() *Base
	IsDead() bool
	// AddEffect 添加状态效果，返回是否实际添加
	AddEffect(effect Effect) bool
	Validate() error

	sealed()
}

// Base 三种变体共享的能力集
type Base struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	OwnerID   uint     `json:"owner_id"`   // 控制该实体的玩家
	ProfileID uint     `json:"profile_id"` // 长期档案（名字、作者）
	Name      string   `json:"name"`
	HP        int      `json:"hp"`
	MaxHP     int      `json:"max_hp"`
	Armor     int      `json:"armor_class"`
	Speed     int      `json:"speed"`
	Spells    []string `json:"spells"`
	Weapons   []string `json:"weapons"`
	Effects   []Effect `json:"effects"`
	// 反应是否可用，使用后在该实体下一回合开始时重置
	ReactionAvailable bool `json:"reaction_available"`
}

// Core 返回共享能力集
func (b *Base) Core() *Base { return b }

// TakeDamage 扣除生命值，不设下限
func (b *Base) TakeDamage(amount int) {
	b.HP -= amount
}

// KnowsSpell 是否掌握某个法术
func (b *Base) KnowsSpell(spellID string) bool {
	for _, s := range b.Spells {
		if s == spellID {
			return true
		}
	}
	return false
}

// Carries 是否携带某件武器
func (b *Base) Carries(weapon string) bool {
	for _, w := range b.Weapons {
		if w == weapon {
			return true
		}
	}
	return false
}

// HasEffect 是否处于某个状态
func (b *Base) HasEffect(effect Effect) bool {
	for _, e := range b.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

// AddEffect 添加状态效果（集合语义，不重复）
func (b *Base) AddEffect(effect Effect) bool {
	if b.HasEffect(effect) {
		return false
	}
	b.Effects = append(b.Effects, effect)
	return true
}

// ClearEffects 清除所有状态效果
func (b *Base) ClearEffects() {
	b.Effects = nil
}

// UseReaction 消耗反应
func (b *Base) UseReaction() {
	b.ReactionAvailable = false
}

// ResetReaction 重置反应
func (b *Base) ResetReaction() {
	b.ReactionAvailable = true
}

// Validate 校验共享字段的不变量
func (b *Base) Validate() error {
	if b.Armor <= 0 {
		return ErrInvalidArmorClass
	}
	if b.HP > b.MaxHP {
		return fmt.Errorf("%w: %d > %d", ErrInvalidHitPoints, b.HP, b.MaxHP)
	}
	if b.Speed < 0 || b.Speed%SpeedUnit != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSpeed, b.Speed)
	}
	return nil
}

// Character 玩家角色
type Character struct {
	Base
	Abilities AbilityScores `json:"abilities"`
	Slots     SlotLedger    `json:"slots"`
}

func (c *Character) Kind() Kind { return KindCharacter }

// IsDead 玩家角色有濒死缓冲：生命值降到 -最大生命值 才算死亡
func (c *Character) IsDead() bool { return c.HP <= -c.MaxHP }

// Validate 校验角色不变量
func (c *Character) Validate() error {
	if err := c.Base.Validate(); err != nil {
		return err
	}
	return c.Slots.Validate()
}

func (c *Character) sealed() {}

// NPC 非玩家角色
type NPC struct {
	Base
	Abilities AbilityScores `json:"abilities"`
}

func (n *NPC) Kind() Kind { return KindNPC }

func (n *NPC) IsDead() bool { return n.HP <= 0 }

func (n *NPC) sealed() {}

// Monster 怪物
type Monster struct {
	Base
	// 技能调整值（来自怪物技能表）
	Skills     map[Skill]int `json:"skills"`
	Immunities []Effect      `json:"immunities"`
}

func (m *Monster) Kind() Kind { return KindMonster }

func (m *Monster) IsDead() bool { return m.HP <= 0 }

// ImmuneTo 是否免疫某状态
func (m *Monster) ImmuneTo(effect Effect) bool {
	for _, e := range m.Immunities {
		if e == effect {
			return true
		}
	}
	return false
}

// AddEffect 免疫的状态不会被添加
func (m *Monster) AddEffect(effect Effect) bool {
	if m.ImmuneTo(effect) {
		return false
	}
	return m.Base.AddEffect(effect)
}

func (m *Monster) sealed() {}
