package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCharacter(hp, maxHP int) *Character {
	return &Character{
		Base: Base{ID: "pc-1", HP: hp, MaxHP: maxHP, Armor: 14, Speed: 30},
		Abilities: AbilityScores{
			Strength: 8, Dexterity: 16, Constitution: 12,
			Intelligence: 10, Wisdom: 9, Charisma: 17,
		},
		Slots: NewSlotLedger(4, 2),
	}
}

func TestIsDead(t *testing.T) {
	t.Run("角色在-最大生命值时死亡", func(t *testing.T) {
		assert.True(t, newCharacter(-20, 20).IsDead())
		assert.True(t, newCharacter(-25, 20).IsDead())
	})

	t.Run("角色濒死但未死亡", func(t *testing.T) {
		assert.False(t, newCharacter(-19, 20).IsDead())
		assert.False(t, newCharacter(0, 20).IsDead())
	})

	t.Run("怪物与NPC在0生命值时死亡", func(t *testing.T) {
		m := &Monster{Base: Base{HP: 0, MaxHP: 10}}
		n := &NPC{Base: Base{HP: 1, MaxHP: 10}}
		assert.True(t, m.IsDead())
		assert.False(t, n.IsDead())
		n.TakeDamage(1)
		assert.True(t, n.IsDead())
	})
}

func TestValidate(t *testing.T) {
	assert.NoError(t, newCharacter(20, 20).Validate())

	c := newCharacter(21, 20)
	assert.ErrorIs(t, c.Validate(), ErrInvalidHitPoints)

	c = newCharacter(20, 20)
	c.Armor = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidArmorClass)

	c = newCharacter(20, 20)
	c.Speed = 32
	assert.ErrorIs(t, c.Validate(), ErrInvalidSpeed)

	c = newCharacter(20, 20)
	c.Slots[0].Remaining = 5
	assert.ErrorIs(t, c.Validate(), ErrSlotLedgerInvalid)
}

func TestEffects(t *testing.T) {
	m := &Monster{
		Base:       Base{HP: 10, MaxHP: 10, Armor: 12},
		Immunities: []Effect{"poisoned"},
	}
	var e Entity = m

	assert.False(t, e.AddEffect("poisoned"))
	assert.True(t, e.AddEffect("prone"))
	assert.False(t, e.AddEffect("prone"))
	assert.Equal(t, []Effect{"prone"}, m.Effects)

	m.ClearEffects()
	assert.Empty(t, m.Effects)
}

func TestModifier(t *testing.T) {
	c := newCharacter(20, 20)

	cases := map[Skill]int{
		SkillStrength:     -1,
		SkillDexterity:    3,
		SkillConstitution: 1,
		SkillIntelligence: 0,
		SkillWisdom:       -1,
		SkillCharisma:     3,
	}
	for skill, want := range cases {
		got, err := Modifier(c, skill)
		require.NoError(t, err)
		assert.Equal(t, want, got, skill)
	}

	m := &Monster{Skills: map[Skill]int{SkillDexterity: 3}}
	got, err := Modifier(m, SkillDexterity)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	got, err = Modifier(m, SkillWisdom)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	_, err = Modifier(m, Skill("luck"))
	assert.ErrorIs(t, err, ErrUnknownSkill)
}

func TestScoreModifier(t *testing.T) {
	assert.Equal(t, -5, ScoreModifier(1))
	assert.Equal(t, -1, ScoreModifier(9))
	assert.Equal(t, 0, ScoreModifier(10))
	assert.Equal(t, 0, ScoreModifier(11))
	assert.Equal(t, 5, ScoreModifier(20))
}

func TestSlotLedger(t *testing.T) {
	l := NewSlotLedger(1, 1)

	assert.ErrorIs(t, l.Check(1, 0), ErrSlotTierOutOfRange)
	assert.ErrorIs(t, l.Check(1, 10), ErrSlotTierOutOfRange)
	assert.ErrorIs(t, l.Check(2, 1), ErrSlotTierTooLow)
	assert.ErrorIs(t, l.Check(1, 3), ErrNoSlotsRemaining)

	require.NoError(t, l.Spend(1, 2))
	assert.ErrorIs(t, l.Spend(1, 2), ErrNoSlotsRemaining)

	tier, err := l.Tier(2)
	require.NoError(t, err)
	assert.Equal(t, 0, tier.Remaining)
	assert.NoError(t, l.Validate())

	l.Restore()
	tier, _ = l.Tier(2)
	assert.Equal(t, 1, tier.Remaining)
}
