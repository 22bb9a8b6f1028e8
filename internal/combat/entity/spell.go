package entity

// SpellKind 法术类别
type SpellKind string

const (
	SpellDamage      SpellKind = "damage"
	SpellSavingThrow SpellKind = "saving_throw"
	SpellDescriptive SpellKind = "descriptive"
)

// Valid 是否为已知类别
func (k SpellKind) Valid() bool {
	switch k {
	case SpellDamage, SpellSavingThrow, SpellDescriptive:
		return true
	}
	return false
}

// Spell 法术定义
type Spell struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Tier int       `json:"tier"` // 0为戏法
	Kind SpellKind `json:"kind"`
	// 反应法术可以在非自己回合施放
	Reaction bool `json:"reaction"`
}

// NeedsSlot 施放是否需要消耗法术位
func (s *Spell) NeedsSlot() bool {
	return s.Tier > 0
}
