package entity

import (
	"errors"
	"fmt"
)

// Skill 豁免检定使用的属性
type Skill string

const (
	SkillStrength     Skill = "strength"
	SkillDexterity    Skill = "dexterity"
	SkillConstitution Skill = "constitution"
	SkillIntelligence Skill = "intelligence"
	SkillWisdom       Skill = "wisdom"
	SkillCharisma     Skill = "charisma"
)

var ErrUnknownSkill = errors.New("未知的属性")

// ParseSkill 解析属性名
func ParseSkill(s string) (Skill, error) {
	switch skill := Skill(s); skill {
	case SkillStrength, SkillDexterity, SkillConstitution,
		SkillIntelligence, SkillWisdom, SkillCharisma:
		return skill, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSkill, s)
}

// AbilityScores 角色与NPC的内联属性值
type AbilityScores struct {
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// Score 按属性取值
func (a AbilityScores) Score(skill Skill) (int, error) {
	switch skill {
	case SkillStrength:
		return a.Strength, nil
	case SkillDexterity:
		return a.Dexterity, nil
	case SkillConstitution:
		return a.Constitution, nil
	case SkillIntelligence:
		return a.Intelligence, nil
	case SkillWisdom:
		return a.Wisdom, nil
	case SkillCharisma:
		return a.Charisma, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSkill, skill)
}

// ScoreModifier 属性值对应的调整值，向下取整
func ScoreModifier(score int) int {
	diff := score - 10
	if diff < 0 {
		return (diff - 1) / 2
	}
	return diff / 2
}

// Modifier 计算实体在某属性上的豁免调整值
func Modifier(e Entity, skill Skill) (int, error) {
	switch v := e.(type) {
	case *Character:
		score, err := v.Abilities.Score(skill)
		if err != nil {
			return 0, err
		}
		return ScoreModifier(score), nil
	case *NPC:
		score, err := v.Abilities.Score(skill)
		if err != nil {
			return 0, err
		}
		return ScoreModifier(score), nil
	case *Monster:
		if _, err := ParseSkill(string(skill)); err != nil {
			return 0, err
		}
		// 技能表中没有的属性视为 +0
		return v.Skills[skill], nil
	}
	return 0, fmt.Errorf("未知的实体类型: %T", e)
}
