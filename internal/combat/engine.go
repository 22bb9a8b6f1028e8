// Package combat 战斗结算引擎：会话生命周期、攻击、豁免、状态效果、反应与回合推进
package combat

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wfunc/combat-table/internal/broker"
	"github.com/wfunc/combat-table/internal/combat/entity"
	"github.com/wfunc/combat-table/internal/combat/turn"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/logger"
	"github.com/wfunc/combat-table/internal/models"
	"go.uber.org/zap"
)

// Asker 向远端玩家发起交互并等待结果
type Asker interface {
	Request(ctx context.Context, responders []broker.PartyID, prompt broker.Prompt, timeout time.Duration) (*broker.Outcome, error)
}

// 交互请求类型
const (
	PromptDamageRoll  = "damage_roll"
	PromptSavingThrow = "saving_throw"
	PromptReaction    = "reaction"
)

// Engine 战斗结算引擎
type Engine struct {
	store     Store
	asker     Asker
	notifier  Notifier
	lifecycle *Lifecycle
	locks     *sessionLocks
	logger    *zap.Logger

	// 单次交互超时，0 表示使用交互代理的默认值
	timeout atomic.Int64
	// 一次结算内所有交互的总时限，0 表示不限制
	budget atomic.Int64
}

// Option 引擎选项
type Option func(*Engine)

// WithInteractionTimeout 设置单次交互超时
func WithInteractionTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout.Store(int64(d)) }
}

// WithResolutionTimeout 设置一次结算（可能包含豁免和伤害两轮交互）的总时限
func WithResolutionTimeout(d time.Duration) Option {
	return func(e *Engine) { e.budget.Store(int64(d)) }
}

// New 创建引擎
func New(store Store, asker Asker, notifier Notifier, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(string, *Event) {})
	}
	e := &Engine{
		store:     store,
		asker:     asker,
		notifier:  notifier,
		lifecycle: NewLifecycle(),
		locks:     newSessionLocks(),
		logger:    log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetTimeouts 运行时调整超时（配置热更新）
func (e *Engine) SetTimeouts(interaction, resolution time.Duration) {
	e.timeout.Store(int64(interaction))
	e.budget.Store(int64(resolution))
}

// deadline 本次结算的截止时间，未设置总时限时为零值
func (e *Engine) deadline() time.Time {
	if budget := time.Duration(e.budget.Load()); budget > 0 {
		return time.Now().Add(budget)
	}
	return time.Time{}
}

// requestTimeout 单次交互可用的等待时间，不超过截止前的剩余时间；时间已用完时 ok 为 false
func (e *Engine) requestTimeout(deadline time.Time) (timeout time.Duration, ok bool) {
	timeout = time.Duration(e.timeout.Load())
	if timeout <= 0 {
		if d, has := e.asker.(interface{ DefaultTimeout() time.Duration }); has {
			timeout = d.DefaultTimeout()
		}
	}
	if deadline.IsZero() {
		return timeout, true
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0, false
	}
	if timeout <= 0 || left < timeout {
		timeout = left
	}
	return timeout, true
}

// notify 推送事件并记录战斗日志
func (e *Engine) notify(sessionID, eventType string, data map[string]interface{}) {
	e.notifier.Publish(sessionID, newEvent(eventType, sessionID, data))
	logger.LogCombatEvent(eventType, sessionID, data)
}

func (e *Engine) narrate(sessionID, text string) {
	e.notify(sessionID, EventNarrative, map[string]interface{}{"text": text})
}

// ongoingSession 读取会话并检查状态
func (e *Engine) ongoingSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOngoing(session); err != nil {
		return nil, err
	}
	return session, nil
}

// loadTargets 读取目标实体，去重并保持顺序
func (e *Engine) loadTargets(ctx context.Context, sessionID string, ids []string) ([]entity.Entity, error) {
	if len(ids) == 0 {
		return nil, errors.New(errors.ErrInvalidParam, "至少需要一个目标")
	}
	seen := make(map[string]bool, len(ids))
	out := make([]entity.Entity, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		t, err := e.store.GetEntity(ctx, sessionID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// authorize 调用方必须是实体的控制者或会话作者
func authorize(session *models.Session, caller uint, ent entity.Entity) error {
	if caller == session.AuthorID || caller == ent.Core().OwnerID {
		return nil
	}
	return errors.Newf(errors.ErrPermissionDenied, "玩家 %d 不能操作实体 %s", caller, ent.Core().ID)
}

// owners 按控制者分组实体
func owners(targets []entity.Entity) ([]broker.PartyID, map[broker.PartyID][]entity.Entity) {
	var parties []broker.PartyID
	byParty := make(map[broker.PartyID][]entity.Entity)
	for _, t := range targets {
		p := t.Core().OwnerID
		if _, ok := byParty[p]; !ok {
			parties = append(parties, p)
		}
		byParty[p] = append(byParty[p], t)
	}
	return parties, byParty
}

// ask 发起交互请求，调用方取消时返回 Canceled；截止时间已过时不再发出，所有玩家记为未响应
func (e *Engine) ask(ctx context.Context, deadline time.Time, responders []broker.PartyID, prompt broker.Prompt) (*broker.Outcome, error) {
	timeout, ok := e.requestTimeout(deadline)
	if !ok {
		e.logger.Info("结算时限已用完，跳过交互",
			zap.String("session_id", prompt.SessionID),
			zap.String("kind", prompt.Kind))
		return &broker.Outcome{
			Replies:  map[broker.PartyID]json.RawMessage{},
			Missing:  append([]broker.PartyID(nil), responders...),
			TimedOut: true,
		}, nil
	}
	out, err := e.asker.Request(ctx, responders, prompt, timeout)
	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return out, errors.Wrap(err, errors.ErrCanceled, "交互请求已取消")
		}
		return out, errors.Wrap(err, errors.ErrUnknown, "交互请求失败")
	}
	return out, nil
}

// turnErr 把先攻队列错误映射为应用错误
func turnErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, turn.ErrWrongTurn):
		return errors.Wrap(err, errors.ErrWrongTurn)
	case stderrors.Is(err, turn.ErrNotQueued):
		return errors.Wrap(err, errors.ErrNotFound)
	case stderrors.Is(err, turn.ErrAlreadyQueued):
		return errors.Wrap(err, errors.ErrInvariantViolation)
	case stderrors.Is(err, turn.ErrEmptyQueue):
		return errors.Wrap(err, errors.ErrEmptyQueue)
	}
	return errors.From(err)
}

// entityErr 把实体校验错误映射为应用错误
func entityErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, entity.ErrNoSlotsRemaining):
		return errors.Wrap(err, errors.ErrInventoryAbsence)
	case stderrors.Is(err, entity.ErrUnknownSkill):
		return errors.Wrap(err, errors.ErrWrongParamType)
	case stderrors.Is(err, entity.ErrSlotTierOutOfRange),
		stderrors.Is(err, entity.ErrSlotTierTooLow),
		stderrors.Is(err, entity.ErrSlotLedgerInvalid),
		stderrors.Is(err, entity.ErrInvalidArmorClass),
		stderrors.Is(err, entity.ErrInvalidHitPoints),
		stderrors.Is(err, entity.ErrInvalidSpeed):
		return errors.Wrap(err, errors.ErrInvalidNumber)
	}
	return errors.From(err)
}

// partialErr 多目标操作中途失败：已提交的目标保留，报告未处理的目标
func partialErr(err error, pending []string) error {
	details := err.Error()
	if len(pending) > 0 {
		details += "; 未处理的目标: " + strings.Join(pending, ",")
	}
	return errors.New(errors.ErrUnknown, details).WithCause(err)
}

func entityIDs(list []entity.Entity) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.Core().ID
	}
	return out
}
