package combat

import (
	"context"
	"fmt"
	"time"

	"github.com/wfunc/combat-table/internal/broker"
	"github.com/wfunc/combat-table/internal/combat/entity"
	"github.com/wfunc/combat-table/internal/errors"
	"go.uber.org/zap"
)

// SavingThrowCommand 豁免检定请求
type SavingThrowCommand struct {
	Targets []string     `json:"targets" binding:"required"`
	DC      *int         `json:"dc" binding:"required"`
	Skill   entity.Skill `json:"skill" binding:"required"`
}

// SavingThrowResult 每个目标是否通过豁免
type SavingThrowResult struct {
	Results   map[string]bool `json:"results"`
	Modifiers map[string]int  `json:"modifiers"`
	Missing   []string        `json:"missing,omitempty"`
	TimedOut  bool            `json:"timed_out"`
}

// savingTarget 发给玩家的单个豁免目标
type savingTarget struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Modifier int    `json:"modifier"`
}

// savingThrowReply 玩家回复 {"rolls": {"<entity_id>": 9}}
type savingThrowReply struct {
	Rolls map[string]int `json:"rolls"`
}

// reactionReply 玩家回复 {"reactions": {"<entity_id>": true}}
type reactionReply struct {
	Reactions map[string]bool `json:"reactions"`
}

// checkDC 难度等级必须是非负整数
func checkDC(dc *int) (int, error) {
	if dc == nil {
		return 0, errors.New(errors.ErrInvalidNumber, "缺少难度等级")
	}
	if *dc < 0 {
		return 0, errors.Newf(errors.ErrInvalidNumber, "难度等级不能为负数: %d", *dc)
	}
	return *dc, nil
}

// modifiers 计算每个目标在该属性上的调整值
func modifiers(targets []entity.Entity, skill entity.Skill) (map[string]int, error) {
	if _, err := entity.ParseSkill(string(skill)); err != nil {
		return nil, entityErr(err)
	}
	mods := make(map[string]int, len(targets))
	for _, t := range targets {
		m, err := entity.Modifier(t, skill)
		if err != nil {
			return nil, entityErr(err)
		}
		mods[t.Core().ID] = m
	}
	return mods, nil
}

// savingThrows 向目标的控制者收集豁免骰，掷骰加调整值不低于 dc 即通过
//
// 未回复的目标不计入结果，放入 missing。
func (e *Engine) savingThrows(ctx context.Context, deadline time.Time, sessionID string, targets []entity.Entity,
	mods map[string]int, dc int, skill entity.Skill) (results map[string]bool, missing []string, timedOut bool, err error) {

	parties, byParty := owners(targets)
	perParty := make(map[broker.PartyID]any, len(parties))
	for p, list := range byParty {
		items := make([]savingTarget, 0, len(list))
		for _, t := range list {
			items = append(items, savingTarget{EntityID: t.Core().ID, Name: t.Core().Name, Modifier: mods[t.Core().ID]})
		}
		perParty[p] = map[string]interface{}{"dc": dc, "skill": skill, "targets": items}
	}

	out, err := e.ask(ctx, deadline, parties, broker.Prompt{
		Kind:      PromptSavingThrow,
		SessionID: sessionID,
		Text:      fmt.Sprintf("%s 豁免检定，难度 %d", skill, dc),
		PerParty:  perParty,
	})
	if err != nil {
		return nil, nil, true, err
	}

	results = make(map[string]bool, len(targets))
	for p, list := range byParty {
		reply, ok, derr := broker.Decode[savingThrowReply](out, p)
		if derr != nil {
			e.logger.Warn("豁免回复格式错误", zap.String("session_id", sessionID), zap.Uint("party", p), zap.Error(derr))
		}
		for _, t := range list {
			id := t.Core().ID
			roll, found := reply.Rolls[id]
			if !ok || derr != nil || !found {
				missing = append(missing, id)
				continue
			}
			results[id] = roll+mods[id] >= dc
		}
	}
	return results, missing, out.TimedOut || len(missing) > 0, nil
}

// RequestSavingThrow 发起独立豁免检定，直接返回每个目标的通过情况，仅作者可操作
func (e *Engine) RequestSavingThrow(ctx context.Context, sessionID string, caller uint, cmd SavingThrowCommand) (*SavingThrowResult, error) {
	dc, err := checkDC(cmd.DC)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(sessionID)
	session, err := e.ongoingSession(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	if session.AuthorID != caller {
		unlock()
		return nil, errors.New(errors.ErrPermissionDenied, "只有会话作者可以发起豁免检定")
	}
	targets, err := e.loadTargets(ctx, sessionID, cmd.Targets)
	if err != nil {
		unlock()
		return nil, err
	}
	mods, err := modifiers(targets, cmd.Skill)
	unlock()
	if err != nil {
		return nil, err
	}

	results, missing, timedOut, err := e.savingThrows(ctx, e.deadline(), sessionID, targets, mods, dc, cmd.Skill)
	if err != nil {
		return nil, err
	}

	passed := 0
	for _, ok := range results {
		if ok {
			passed++
		}
	}
	e.narrate(sessionID, fmt.Sprintf("%s 豁免检定(难度 %d)：%d 个目标通过，%d 个失败，%d 个未回复",
		cmd.Skill, dc, passed, len(results)-passed, len(missing)))

	return &SavingThrowResult{
		Results:   results,
		Modifiers: mods,
		Missing:   missing,
		TimedOut:  timedOut,
	}, nil
}

// ReactionCommand 询问目标是否使用反应
type ReactionCommand struct {
	Targets []string `json:"targets" binding:"required"`
}

// ReactionResult 每个目标是否使用了反应
type ReactionResult struct {
	Answers  map[string]bool `json:"answers"`
	Missing  []string        `json:"missing,omitempty"`
	TimedOut bool            `json:"timed_out"`
}

// EnableReaction 询问目标的控制者是否使用反应，确认的实体反应被消耗
//
// 反应已用掉的实体不再询问，直接记为 false。
func (e *Engine) EnableReaction(ctx context.Context, sessionID string, caller uint, cmd ReactionCommand) (*ReactionResult, error) {
	unlock := e.locks.lock(sessionID)
	session, err := e.ongoingSession(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	targets, err := e.loadTargets(ctx, sessionID, cmd.Targets)
	if err != nil {
		unlock()
		return nil, err
	}
	for _, t := range targets {
		if err := authorize(session, caller, t); err != nil {
			unlock()
			return nil, err
		}
	}
	unlock()

	res := &ReactionResult{Answers: make(map[string]bool, len(targets))}
	var ready []entity.Entity
	for _, t := range targets {
		if t.Core().ReactionAvailable {
			ready = append(ready, t)
		} else {
			res.Answers[t.Core().ID] = false
		}
	}
	if len(ready) == 0 {
		e.narrate(sessionID, "没有可用反应的目标")
		return res, nil
	}

	parties, byParty := owners(ready)
	perParty := make(map[broker.PartyID]any, len(parties))
	for p, list := range byParty {
		items := make([]map[string]string, 0, len(list))
		for _, t := range list {
			items = append(items, map[string]string{"entity_id": t.Core().ID, "name": t.Core().Name})
		}
		perParty[p] = map[string]interface{}{"targets": items}
	}
	out, err := e.ask(ctx, e.deadline(), parties, broker.Prompt{
		Kind:      PromptReaction,
		SessionID: sessionID,
		Text:      "是否使用反应？",
		PerParty:  perParty,
	})
	if err != nil {
		return nil, err
	}
	res.TimedOut = out.TimedOut

	var accepted []string
	for p, list := range byParty {
		reply, ok, derr := broker.Decode[reactionReply](out, p)
		if derr != nil {
			e.logger.Warn("反应回复格式错误", zap.String("session_id", sessionID), zap.Uint("party", p), zap.Error(derr))
		}
		for _, t := range list {
			id := t.Core().ID
			answer, found := reply.Reactions[id]
			if !ok || derr != nil || !found {
				res.Missing = append(res.Missing, id)
				res.TimedOut = true
				continue
			}
			res.Answers[id] = answer
			if answer {
				accepted = append(accepted, id)
			}
		}
	}

	if err := e.consumeReactions(ctx, sessionID, accepted, res); err != nil {
		return res, err
	}

	used := 0
	for _, v := range res.Answers {
		if v {
			used++
		}
	}
	e.narrate(sessionID, fmt.Sprintf("%d 个实体使用了反应", used))
	return res, nil
}

// consumeReactions 重新读取实体后消耗反应，期间已被用掉的记为 false
func (e *Engine) consumeReactions(ctx context.Context, sessionID string, ids []string, res *ReactionResult) error {
	if len(ids) == 0 {
		return nil
	}
	unlock := e.locks.lock(sessionID)
	defer unlock()

	for i, id := range ids {
		t, err := e.store.GetEntity(ctx, sessionID, id)
		if errors.Is(err, errors.ErrNotFound) {
			res.Answers[id] = false
			continue
		}
		if err != nil {
			return partialErr(err, ids[i:])
		}
		if !t.Core().ReactionAvailable {
			res.Answers[id] = false
			continue
		}
		t.Core().UseReaction()
		if err := e.store.UpdateEntity(ctx, t); err != nil {
			return partialErr(err, ids[i:])
		}
		e.notify(sessionID, EventReactionUsed, map[string]interface{}{
			"entity_id": id,
			"name":      t.Core().Name,
		})
	}
	return nil
}
