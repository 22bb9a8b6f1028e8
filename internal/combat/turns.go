package combat

import (
	"context"

	"github.com/wfunc/combat-table/internal/combat/turn"
	"github.com/wfunc/combat-table/internal/errors"
	"go.uber.org/zap"
)

// TurnState 先攻顺序快照
type TurnState struct {
	SessionID string   `json:"session_id"`
	Current   string   `json:"current,omitempty"`
	Order     []string `json:"order"`
}

func turnData(q *turn.Queue) map[string]interface{} {
	cur, _ := q.Current()
	return map[string]interface{}{
		"current": cur,
		"order":   q.IDs(),
	}
}

func turnState(sessionID string, q *turn.Queue) *TurnState {
	cur, _ := q.Current()
	return &TurnState{SessionID: sessionID, Current: cur, Order: q.IDs()}
}

// Turns 返回会话当前的先攻顺序
func (e *Engine) Turns(ctx context.Context, sessionID string) (*TurnState, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	q, err := e.store.LoadQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return turnState(sessionID, q), nil
}

// EndTurn 结束当前回合，当前实体移到队尾并重置其反应
func (e *Engine) EndTurn(ctx context.Context, sessionID string, caller uint) (*TurnState, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	session, err := e.ongoingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	q, err := e.store.LoadQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cur, err := q.Current()
	if err != nil {
		return nil, turnErr(err)
	}
	ent, err := e.store.GetEntity(ctx, sessionID, cur)
	if err != nil {
		return nil, err
	}
	if err := authorize(session, caller, ent); err != nil {
		return nil, err
	}

	if _, err := q.EndTurn(); err != nil {
		return nil, turnErr(err)
	}
	if err := e.store.SaveQueue(ctx, sessionID, q); err != nil {
		return nil, err
	}
	if !ent.Core().ReactionAvailable {
		ent.Core().ResetReaction()
		if err := e.store.UpdateEntity(ctx, ent); err != nil {
			// 队列已提交，反应重置失败不回滚
			e.logger.Error("重置反应失败",
				zap.String("session_id", sessionID),
				zap.String("entity_id", cur),
				zap.Error(err))
			return nil, partialErr(err, []string{cur})
		}
	}

	state := turnState(sessionID, q)
	e.notify(sessionID, EventTurnChanged, turnData(q))
	return state, nil
}

// PostponeTurn 当前实体推迟到 predecessor 之后行动
func (e *Engine) PostponeTurn(ctx context.Context, sessionID string, caller uint, entityID, predecessorID string) (*TurnState, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	session, err := e.ongoingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ent, err := e.store.GetEntity(ctx, sessionID, entityID)
	if err != nil {
		return nil, err
	}
	if err := authorize(session, caller, ent); err != nil {
		return nil, err
	}
	q, err := e.store.LoadQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := q.Postpone(entityID, predecessorID); err != nil {
		return nil, turnErr(err)
	}
	if err := e.store.SaveQueue(ctx, sessionID, q); err != nil {
		return nil, errors.From(err)
	}

	e.notify(sessionID, EventTurnChanged, turnData(q))
	return turnState(sessionID, q), nil
}
