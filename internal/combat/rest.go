package combat

import (
	"context"
	"fmt"

	"github.com/wfunc/combat-table/internal/combat/entity"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/models"
)

// EventRested 目标完成长休
const EventRested = "rested"

// RestCommand 让目标长休
type RestCommand struct {
	Targets []string `json:"targets" binding:"required"`
}

// RestResult 长休结果
type RestResult struct {
	Rested []string `json:"rested"`
}

// LongRest 长休：角色的法术位恢复到上限，所有目标的反应重新可用
//
// 战斗暂停时同样允许，已结束的会话不允许。
func (e *Engine) LongRest(ctx context.Context, sessionID string, caller uint, cmd RestCommand) (*RestResult, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionOngoing && session.Status != models.SessionPaused {
		return nil, errors.Newf(errors.ErrWrongModelState, "会话状态 %s 不能长休", session.Status)
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

	res := &RestResult{Rested: []string{}}
	ids := entityIDs(targets)
	for i, t := range targets {
		if c, ok := t.(*entity.Character); ok {
			c.Slots.Restore()
		}
		t.Core().ReactionAvailable = true
		if err := e.store.UpdateEntity(ctx, t); err != nil {
			e.notifyRested(sessionID, res.Rested)
			return res, partialErr(err, ids[i:])
		}
		res.Rested = append(res.Rested, ids[i])
	}
	e.notifyRested(sessionID, res.Rested)
	return res, nil
}

func (e *Engine) notifyRested(sessionID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	e.notify(sessionID, EventRested, map[string]interface{}{"targets": ids})
	e.narrate(sessionID, fmt.Sprintf("%d 个目标完成长休", len(ids)))
}
