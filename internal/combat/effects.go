package combat

import (
	"context"
	"fmt"

	"github.com/wfunc/combat-table/internal/combat/entity"
)

// EffectCommand 给目标添加状态效果，Effect 为空时清除目标的全部效果
type EffectCommand struct {
	Targets []string      `json:"targets" binding:"required"`
	Effect  entity.Effect `json:"effect"`
}

// EffectResult 状态效果变更结果
type EffectResult struct {
	Changed []string `json:"changed"`
	// 已有该效果或免疫的目标
	Unchanged []string `json:"unchanged,omitempty"`
}

// AddEffect 添加或清除状态效果，怪物免疫的效果不会被添加
func (e *Engine) AddEffect(ctx context.Context, sessionID string, caller uint, cmd EffectCommand) (*EffectResult, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	session, err := e.ongoingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	targets, err := e.loadTargets(ctx, sessionID, cmd.Targets)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if err := authorize(session, caller, t); err != nil {
			return nil, err
		}
	}

	res := &EffectResult{Changed: []string{}}
	ids := entityIDs(targets)
	for i, t := range targets {
		var changed bool
		if cmd.Effect == "" {
			changed = len(t.Core().Effects) > 0
			t.Core().ClearEffects()
		} else {
			changed = t.AddEffect(cmd.Effect)
		}
		if !changed {
			res.Unchanged = append(res.Unchanged, ids[i])
			continue
		}
		if err := e.store.UpdateEntity(ctx, t); err != nil {
			if len(res.Changed) > 0 {
				e.notifyEffects(sessionID, cmd.Effect, res.Changed)
			}
			return res, partialErr(err, ids[i:])
		}
		res.Changed = append(res.Changed, ids[i])
	}

	if len(res.Changed) > 0 {
		e.notifyEffects(sessionID, cmd.Effect, res.Changed)
	}
	return res, nil
}

func (e *Engine) notifyEffects(sessionID string, effect entity.Effect, ids []string) {
	data := map[string]interface{}{
		"effect":  effect,
		"targets": ids,
		"cleared": effect == "",
	}
	e.notify(sessionID, EventEffectsChanged, data)
	if effect == "" {
		e.narrate(sessionID, fmt.Sprintf("%d 个目标的状态效果被清除", len(ids)))
		return
	}
	e.narrate(sessionID, fmt.Sprintf("%d 个目标获得状态效果 %s", len(ids), effect))
}
