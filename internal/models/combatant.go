package models

import (
	"fmt"

	"github.com/wfunc/combat-table/internal/combat/entity"
)

// Combatant 会话内的战斗实体，Kind 区分角色/NPC/怪物
type Combatant struct {
	BaseModel
	EntityID  string      `gorm:"uniqueIndex;size:36;not null" json:"id"`
	SessionID string      `gorm:"size:36;not null;index" json:"session_id"`
	Kind      entity.Kind `gorm:"size:20;not null" json:"kind"`
	OwnerID   uint        `gorm:"not null;index" json:"owner_id"`
	ProfileID uint        `gorm:"index" json:"profile_id"`
	Name      string      `gorm:"size:100" json:"name"`

	HP                int  `json:"hp"`
	MaxHP             int  `json:"max_hp"`
	ArmorClass        int  `json:"armor_class"`
	Speed             int  `json:"speed"`
	ReactionAvailable bool `json:"reaction_available"`

	Spells     []string        `gorm:"serializer:json" json:"spells"`
	Weapons    []string        `gorm:"serializer:json" json:"weapons"`
	Effects    []entity.Effect `gorm:"serializer:json" json:"effects"`
	Immunities []entity.Effect `gorm:"serializer:json" json:"immunities,omitempty"`

	// 角色与NPC的属性值
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`

	// 仅角色使用
	Slots *entity.SlotLedger `gorm:"serializer:json" json:"slots,omitempty"`

	// 仅怪物使用
	Skills []MonsterSkill `gorm:"foreignKey:EntityID;references:EntityID" json:"skills,omitempty"`
}

// MonsterSkill 怪物技能调整值
type MonsterSkill struct {
	BaseModel
	EntityID string       `gorm:"size:36;not null;uniqueIndex:idx_monster_skill" json:"entity_id"`
	Skill    entity.Skill `gorm:"type:varchar(20);not null;uniqueIndex:idx_monster_skill" json:"skill"`
	Modifier int          `json:"modifier"`
}

// Spell 法术表
type Spell struct {
	BaseModel
	SpellID  string           `gorm:"uniqueIndex;size:64;not null" json:"id"`
	Name     string           `gorm:"size:100;not null" json:"name"`
	Tier     int              `gorm:"not null;default:0" json:"tier"`
	Kind     entity.SpellKind `gorm:"size:20;not null" json:"kind"`
	Reaction bool             `gorm:"default:false" json:"reaction"`
}

// ToSpell 转换为领域对象
func (s *Spell) ToSpell() *entity.Spell {
	return &entity.Spell{ID: s.SpellID, Name: s.Name, Tier: s.Tier, Kind: s.Kind, Reaction: s.Reaction}
}

// NewSpell 从领域对象创建记录
func NewSpell(sp *entity.Spell) *Spell {
	return &Spell{SpellID: sp.ID, Name: sp.Name, Tier: sp.Tier, Kind: sp.Kind, Reaction: sp.Reaction}
}

// ToEntity 按 Kind 还原为对应的实体变体
func (c *Combatant) ToEntity() (entity.Entity, error) {
	base := entity.Base{
		ID:                c.EntityID,
		SessionID:         c.SessionID,
		OwnerID:           c.OwnerID,
		ProfileID:         c.ProfileID,
		Name:              c.Name,
		HP:                c.HP,
		MaxHP:             c.MaxHP,
		Armor:             c.ArmorClass,
		Speed:             c.Speed,
		Spells:            c.Spells,
		Weapons:           c.Weapons,
		Effects:           c.Effects,
		ReactionAvailable: c.ReactionAvailable,
	}
	abilities := entity.AbilityScores{
		Strength:     c.Strength,
		Dexterity:    c.Dexterity,
		Constitution: c.Constitution,
		Intelligence: c.Intelligence,
		Wisdom:       c.Wisdom,
		Charisma:     c.Charisma,
	}

	switch c.Kind {
	case entity.KindCharacter:
		ch := &entity.Character{Base: base, Abilities: abilities}
		if c.Slots != nil {
			ch.Slots = *c.Slots
		}
		return ch, nil
	case entity.KindNPC:
		return &entity.NPC{Base: base, Abilities: abilities}, nil
	case entity.KindMonster:
		m := &entity.Monster{Base: base, Immunities: c.Immunities, Skills: make(map[entity.Skill]int, len(c.Skills))}
		for _, s := range c.Skills {
			m.Skills[s.Skill] = s.Modifier
		}
		return m, nil
	}
	return nil, fmt.Errorf("未知的实体类型: %q", c.Kind)
}

// NewCombatant 从实体创建记录（怪物技能表见 Skills）
func NewCombatant(e entity.Entity) *Combatant {
	b := e.Core()
	c := &Combatant{
		EntityID:          b.ID,
		SessionID:         b.SessionID,
		Kind:              e.Kind(),
		OwnerID:           b.OwnerID,
		ProfileID:         b.ProfileID,
		Name:              b.Name,
		HP:                b.HP,
		MaxHP:             b.MaxHP,
		ArmorClass:        b.Armor,
		Speed:             b.Speed,
		ReactionAvailable: b.ReactionAvailable,
		Spells:            b.Spells,
		Weapons:           b.Weapons,
		Effects:           b.Effects,
	}

	switch v := e.(type) {
	case *entity.Character:
		c.setAbilities(v.Abilities)
		slots := v.Slots
		c.Slots = &slots
	case *entity.NPC:
		c.setAbilities(v.Abilities)
	case *entity.Monster:
		c.Immunities = v.Immunities
		for skill, mod := range v.Skills {
			c.Skills = append(c.Skills, MonsterSkill{EntityID: b.ID, Skill: skill, Modifier: mod})
		}
	}
	return c
}

func (c *Combatant) setAbilities(a entity.AbilityScores) {
	c.Strength = a.Strength
	c.Dexterity = a.Dexterity
	c.Constitution = a.Constitution
	c.Intelligence = a.Intelligence
	c.Wisdom = a.Wisdom
	c.Charisma = a.Charisma
}
