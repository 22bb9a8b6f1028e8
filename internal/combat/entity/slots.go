package entity

import (
	"errors"
	"fmt"
)

// MaxSlotTier 法术位最高环数
const MaxSlotTier = 9

var (
	ErrSlotTierOutOfRange = errors.New("法术位环数必须在1到9之间")
	ErrSlotTierTooLow     = errors.New("法术位环数低于法术环数")
	ErrNoSlotsRemaining   = errors.New("该环法术位已用尽")
	ErrSlotLedgerInvalid  = errors.New("法术位剩余数超过上限")
)

// SlotTier 单环法术位
type SlotTier struct {
	Remaining int `json:"remaining"`
	Max       int `json:"max"`
}

// SlotLedger 玩家角色1-9环法术位账本，下标0对应1环
type SlotLedger [MaxSlotTier]SlotTier

// NewSlotLedger 按每环上限创建满额账本
func NewSlotLedger(max ...int) SlotLedger {
	var l SlotLedger
	for i := 0; i < len(max) && i < MaxSlotTier; i++ {
		l[i] = SlotTier{Remaining: max[i], Max: max[i]}
	}
	return l
}

// Tier 返回指定环的法术位
func (l *SlotLedger) Tier(tier int) (SlotTier, error) {
	if tier < 1 || tier > MaxSlotTier {
		return SlotTier{}, fmt.Errorf("%w: %d", ErrSlotTierOutOfRange, tier)
	}
	return l[tier-1], nil
}

// Check 检查能否用 slotTier 环法术位施放 spellTier 环法术
func (l *SlotLedger) Check(spellTier, slotTier int) error {
	t, err := l.Tier(slotTier)
	if err != nil {
		return err
	}
	if slotTier < spellTier {
		return fmt.Errorf("%w: 法术位%d环 < 法术%d环", ErrSlotTierTooLow, slotTier, spellTier)
	}
	if t.Remaining <= 0 {
		return fmt.Errorf("%w: %d环", ErrNoSlotsRemaining, slotTier)
	}
	return nil
}

// Spend 消耗一个法术位
func (l *SlotLedger) Spend(spellTier, slotTier int) error {
	if err := l.Check(spellTier, slotTier); err != nil {
		return err
	}
	l[slotTier-1].Remaining--
	return nil
}

// Restore 恢复所有法术位（长休）
func (l *SlotLedger) Restore() {
	for i := range l {
		l[i].Remaining = l[i].Max
	}
}

// Validate 每环 0 <= 剩余 <= 上限
func (l *SlotLedger) Validate() error {
	for i, t := range l {
		if t.Remaining < 0 || t.Max < 0 || t.Remaining > t.Max {
			return fmt.Errorf("%w: %d环 %d/%d", ErrSlotLedgerInvalid, i+1, t.Remaining, t.Max)
		}
	}
	return nil
}
