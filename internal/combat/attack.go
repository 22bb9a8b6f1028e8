package combat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wfunc/combat-table/internal/broker"
	"github.com/wfunc/combat-table/internal/combat/entity"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/models"
	"go.uber.org/zap"
)

// AttackKind 攻击类型
type AttackKind string

const (
	AttackMelee            AttackKind = "melee"
	AttackDamageSpell      AttackKind = "damage_spell"
	AttackSavingThrowSpell AttackKind = "saving_throw_spell"
	AttackDescriptiveSpell AttackKind = "descriptive_spell"
)

// spellKind 攻击类型对应的法术类别
func (k AttackKind) spellKind() (entity.SpellKind, bool) {
	switch k {
	case AttackDamageSpell:
		return entity.SpellDamage, true
	case AttackSavingThrowSpell:
		return entity.SpellSavingThrow, true
	case AttackDescriptiveSpell:
		return entity.SpellDescriptive, true
	}
	return "", false
}

// AttackCommand 攻击请求
type AttackCommand struct {
	AttackerID string     `json:"attacker_id" binding:"required"`
	Kind       AttackKind `json:"kind" binding:"required"`
	Targets    []string   `json:"targets"`

	// 近战和伤害法术的命中值，目标护甲等级低于该值即命中
	Attempt int    `json:"attempt"`
	Weapon  string `json:"weapon"`

	SpellID  string       `json:"spell_id"`
	SlotTier int          `json:"slot_tier"`
	DC       *int         `json:"dc"`
	Skill    entity.Skill `json:"skill"`
}

// AttackResult 攻击结算结果
type AttackResult struct {
	Hits      []string `json:"hits"`
	Misses    []string `json:"misses,omitempty"`
	Passed    []string `json:"passed,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	Damage    int      `json:"damage"`
	Applied   []string `json:"applied,omitempty"`
	Died      []string `json:"died,omitempty"`
	Missing   []string `json:"missing,omitempty"`
	TimedOut  bool     `json:"timed_out"`
	Narrative string   `json:"narrative"`
}

// attackPlan 校验通过后的攻击上下文
type attackPlan struct {
	attacker entity.Entity
	spell    *entity.Spell
	targets  []entity.Entity
	mods     map[string]int
	dc       int
}

// damageReply 玩家回复 {"value": 7}
type damageReply struct {
	Value *int `json:"value"`
}

// Attack 结算一次攻击
//
// 校验和法术位消耗在会话锁内完成；等待玩家掷骰时不持有锁，回复后重新加锁读取目标再扣血。
func (e *Engine) Attack(ctx context.Context, sessionID string, caller uint, cmd AttackCommand) (*AttackResult, error) {
	plan, err := e.prepareAttack(ctx, sessionID, caller, cmd)
	if err != nil {
		return nil, err
	}
	deadline := e.deadline()

	res := &AttackResult{Hits: []string{}}
	name := plan.attacker.Core().Name
	var hits []string

	switch cmd.Kind {
	case AttackMelee, AttackDamageSpell:
		for _, t := range plan.targets {
			if t.Core().Armor < cmd.Attempt {
				hits = append(hits, t.Core().ID)
			} else {
				res.Misses = append(res.Misses, t.Core().ID)
			}
		}
	case AttackSavingThrowSpell:
		results, missing, timedOut, err := e.savingThrows(ctx, deadline, sessionID, plan.targets, plan.mods, plan.dc, cmd.Skill)
		if err != nil {
			return nil, err
		}
		res.Missing = missing
		res.TimedOut = timedOut
		for _, t := range plan.targets {
			id := t.Core().ID
			passed, ok := results[id]
			switch {
			case !ok:
			case passed:
				res.Passed = append(res.Passed, id)
			default:
				res.Failed = append(res.Failed, id)
				hits = append(hits, id)
			}
		}
	case AttackDescriptiveSpell:
		res.Narrative = fmt.Sprintf("%s 施放了 %s", name, plan.spell.Name)
		e.narrate(sessionID, res.Narrative)
		return res, nil
	}

	if len(hits) == 0 {
		res.Narrative = fmt.Sprintf("%s 的攻击没有命中任何目标", name)
		e.narrate(sessionID, res.Narrative)
		return res, nil
	}
	res.Hits = hits

	dmg, ok, err := e.damageRoll(ctx, deadline, sessionID, plan.attacker, hits)
	if err != nil {
		return res, err
	}
	if !ok {
		res.TimedOut = true
		res.Narrative = fmt.Sprintf("%s 命中 %d 个目标，但未在时限内给出伤害", name, len(hits))
		e.narrate(sessionID, res.Narrative)
		return res, nil
	}
	res.Damage = dmg

	if err := e.applyDamage(ctx, sessionID, hits, dmg, res); err != nil {
		return res, err
	}

	res.Narrative = fmt.Sprintf("%s 对 %d 个目标造成 %d 点伤害", name, len(res.Applied), dmg)
	if len(res.Died) > 0 {
		res.Narrative += fmt.Sprintf("，%d 个目标死亡", len(res.Died))
	}
	e.narrate(sessionID, res.Narrative)
	return res, nil
}

// prepareAttack 在会话锁内完成全部校验并消耗法术位
func (e *Engine) prepareAttack(ctx context.Context, sessionID string, caller uint, cmd AttackCommand) (*attackPlan, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	session, err := e.ongoingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	attacker, err := e.store.GetEntity(ctx, sessionID, cmd.AttackerID)
	if err != nil {
		return nil, err
	}
	if err := authorize(session, caller, attacker); err != nil {
		return nil, err
	}

	plan := &attackPlan{attacker: attacker}
	reactionTimed := false

	switch cmd.Kind {
	case AttackMelee:
		if cmd.Weapon == "" || !attacker.Core().Carries(cmd.Weapon) {
			return nil, errors.Newf(errors.ErrInventoryAbsence, "%s 没有携带武器 %q", attacker.Core().Name, cmd.Weapon)
		}
	case AttackDamageSpell, AttackSavingThrowSpell, AttackDescriptiveSpell:
		spell, err := e.store.GetSpell(ctx, cmd.SpellID)
		if err != nil {
			return nil, err
		}
		if !attacker.Core().KnowsSpell(spell.ID) {
			return nil, errors.Newf(errors.ErrInventoryAbsence, "%s 不会法术 %q", attacker.Core().Name, spell.ID)
		}
		want, _ := cmd.Kind.spellKind()
		if spell.Kind != want {
			return nil, errors.Newf(errors.ErrInvalidEnchantmentCategory, "法术 %q 的类别是 %s，不能用于 %s", spell.ID, spell.Kind, cmd.Kind)
		}
		plan.spell = spell
		reactionTimed = spell.Reaction
	default:
		return nil, errors.Newf(errors.ErrWrongParamType, "未知的攻击类型: %q", cmd.Kind)
	}

	if !reactionTimed {
		q, err := e.store.LoadQueue(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !q.IsTurnOf(attacker.Core().ID) {
			return nil, errors.Newf(errors.ErrWrongTurn, "现在不是 %s 的回合", attacker.Core().Name)
		}
	}

	if cmd.Kind != AttackDescriptiveSpell || len(cmd.Targets) > 0 {
		plan.targets, err = e.loadTargets(ctx, sessionID, cmd.Targets)
		if err != nil {
			return nil, err
		}
	}
	if cmd.Kind == AttackSavingThrowSpell {
		if plan.dc, err = checkDC(cmd.DC); err != nil {
			return nil, err
		}
		if plan.mods, err = modifiers(plan.targets, cmd.Skill); err != nil {
			return nil, err
		}
	}

	if err := e.spendSlot(ctx, attacker, plan.spell, cmd.SlotTier); err != nil {
		return nil, err
	}
	return plan, nil
}

// spendSlot 玩家角色施放非戏法法术时消耗一个法术位
func (e *Engine) spendSlot(ctx context.Context, caster entity.Entity, spell *entity.Spell, slotTier int) error {
	if spell == nil || !spell.NeedsSlot() {
		return nil
	}
	c, ok := caster.(*entity.Character)
	if !ok {
		return nil
	}
	if err := c.Slots.Spend(spell.Tier, slotTier); err != nil {
		return entityErr(err)
	}
	if err := e.store.UpdateEntity(ctx, c); err != nil {
		return err
	}
	e.logger.Debug("消耗法术位",
		zap.String("entity_id", c.ID),
		zap.String("spell_id", spell.ID),
		zap.Int("slot_tier", slotTier))
	return nil
}

// damageRoll 向攻击者的控制者索取伤害值，未回复或数值无效时 ok 为 false
func (e *Engine) damageRoll(ctx context.Context, deadline time.Time, sessionID string, attacker entity.Entity, hits []string) (int, bool, error) {
	party := attacker.Core().OwnerID
	out, err := e.ask(ctx, deadline, []broker.PartyID{party}, broker.Prompt{
		Kind:      PromptDamageRoll,
		SessionID: sessionID,
		Text:      fmt.Sprintf("%s 命中 %s，请投伤害骰", attacker.Core().Name, strings.Join(hits, ",")),
		Data: map[string]interface{}{
			"attacker_id": attacker.Core().ID,
			"targets":     hits,
		},
	})
	if err != nil {
		return 0, false, err
	}
	reply, ok, err := broker.Decode[damageReply](out, party)
	if err != nil {
		e.logger.Warn("伤害回复格式错误", zap.String("session_id", sessionID), zap.Error(err))
		return 0, false, nil
	}
	if !ok || reply.Value == nil || *reply.Value < 0 {
		return 0, false, nil
	}
	return *reply.Value, true, nil
}

// applyDamage 逐个目标扣血并保存，死亡的目标移出先攻队列
//
// 中途失败时已保存的目标保留，错误中列出未处理的目标。
func (e *Engine) applyDamage(ctx context.Context, sessionID string, hits []string, dmg int, res *AttackResult) error {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionOngoing {
		return errors.Newf(errors.ErrWrongModelState, "会话已不在进行中: %s", session.Status)
	}

	for i, id := range hits {
		t, err := e.store.GetEntity(ctx, sessionID, id)
		if errors.Is(err, errors.ErrNotFound) {
			// 等待期间已被移出战斗
			res.Missing = append(res.Missing, id)
			continue
		}
		if err != nil {
			return partialErr(err, hits[i:])
		}

		wasDead := t.IsDead()
		t.Core().TakeDamage(dmg)
		if err := e.store.UpdateEntity(ctx, t); err != nil {
			return partialErr(err, hits[i:])
		}
		res.Applied = append(res.Applied, id)

		if wasDead || !t.IsDead() {
			continue
		}
		if err := e.store.RemoveEntityTurn(ctx, sessionID, id); err != nil && !errors.Is(err, errors.ErrNotFound) {
			return partialErr(err, hits[i+1:])
		}
		res.Died = append(res.Died, id)
		e.notify(sessionID, EventDied, map[string]interface{}{
			"entity_id": id,
			"name":      t.Core().Name,
			"hp":        t.Core().HP,
		})
	}

	if len(res.Died) > 0 {
		q, err := e.store.LoadQueue(ctx, sessionID)
		if err != nil {
			return err
		}
		e.notify(sessionID, EventTurnChanged, turnData(q))
	}
	return nil
}
