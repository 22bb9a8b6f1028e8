package combat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/combat-table/internal/combat/entity"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/models"
	"go.uber.org/zap"
)

// CreateSessionRequest 创建会话参数
type CreateSessionRequest struct {
	Name      string `json:"name" binding:"required"`
	MapWidth  int    `json:"map_width"`
	MapHeight int    `json:"map_height"`
}

// CreateSession 创建会话，调用方成为会话作者
func (e *Engine) CreateSession(ctx context.Context, author uint, req CreateSessionRequest) (*models.Session, error) {
	for _, size := range []int{req.MapWidth, req.MapHeight} {
		if size < models.MapMinSize || size > models.MapMaxSize {
			return nil, errors.Newf(errors.ErrInvalidNumber, "地图边长必须在 %d 到 %d 之间: %d",
				models.MapMinSize, models.MapMaxSize, size)
		}
	}
	session := &models.Session{
		SessionID: uuid.NewString(),
		Name:      req.Name,
		AuthorID:  author,
		Status:    models.SessionCreated,
		MapWidth:  req.MapWidth,
		MapHeight: req.MapHeight,
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	e.logger.Info("创建战斗会话",
		zap.String("session_id", session.SessionID),
		zap.Uint("author_id", author))
	return session, nil
}

// GetSession 读取会话
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return e.store.GetSession(ctx, sessionID)
}

// DeleteSession 删除会话，仅作者可操作
func (e *Engine) DeleteSession(ctx context.Context, sessionID string, caller uint) error {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.AuthorID != caller {
		return errors.New(errors.ErrPermissionDenied, "只有会话作者可以删除会话")
	}
	return e.store.DeleteSession(ctx, sessionID)
}

// Transition 执行生命周期命令，仅作者可操作
func (e *Engine) Transition(ctx context.Context, sessionID string, caller uint, cmd Command) (*models.Session, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.AuthorID != caller {
		return nil, errors.New(errors.ErrPermissionDenied, "只有会话作者可以切换会话状态")
	}
	next, err := e.lifecycle.Next(session.Status, cmd)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	fields := map[string]interface{}{"status": next}
	switch next {
	case models.SessionOngoing:
		if session.StartedAt == nil {
			fields["started_at"] = now
			session.StartedAt = &now
		}
	case models.SessionEnded:
		fields["ended_at"] = now
		session.EndedAt = &now
	}
	if err := e.store.UpdateSession(ctx, sessionID, fields); err != nil {
		return nil, err
	}

	from := session.Status
	session.Status = next
	e.logger.Info("会话状态转换",
		zap.String("session_id", sessionID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.String("command", string(cmd)))
	e.notify(sessionID, EventSessionStatus, map[string]interface{}{
		"from": from,
		"to":   next,
	})
	return session, nil
}

// CombatantSpec 加入战斗的实体参数
type CombatantSpec struct {
	Kind       entity.Kind          `json:"kind" binding:"required"`
	OwnerID    uint                 `json:"owner_id"`
	ProfileID  uint                 `json:"profile_id"`
	Name       string               `json:"name" binding:"required"`
	HP         int                  `json:"hp"`
	MaxHP      int                  `json:"max_hp"`
	ArmorClass int                  `json:"armor_class"`
	Speed      int                  `json:"speed"`
	Spells     []string             `json:"spells"`
	Weapons    []string             `json:"weapons"`
	Abilities  entity.AbilityScores `json:"abilities"`

	// 角色每环法术位上限，下标0对应1环
	Slots      []int                `json:"slots"`
	Skills     map[entity.Skill]int `json:"skills"`
	Immunities []entity.Effect      `json:"immunities"`
}

// build 按类型构造实体
func (s *CombatantSpec) build(sessionID string) (entity.Entity, error) {
	base := entity.Base{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		OwnerID:           s.OwnerID,
		ProfileID:         s.ProfileID,
		Name:              s.Name,
		HP:                s.HP,
		MaxHP:             s.MaxHP,
		Armor:             s.ArmorClass,
		Speed:             s.Speed,
		Spells:            s.Spells,
		Weapons:           s.Weapons,
		ReactionAvailable: true,
	}

	var ent entity.Entity
	switch s.Kind {
	case entity.KindCharacter:
		if len(s.Slots) > entity.MaxSlotTier {
			return nil, errors.Newf(errors.ErrInvalidNumber, "法术位最多 %d 环", entity.MaxSlotTier)
		}
		ent = &entity.Character{Base: base, Abilities: s.Abilities, Slots: entity.NewSlotLedger(s.Slots...)}
	case entity.KindNPC:
		ent = &entity.NPC{Base: base, Abilities: s.Abilities}
	case entity.KindMonster:
		for skill := range s.Skills {
			if _, err := entity.ParseSkill(string(skill)); err != nil {
				return nil, entityErr(err)
			}
		}
		ent = &entity.Monster{Base: base, Skills: s.Skills, Immunities: s.Immunities}
	default:
		return nil, errors.Newf(errors.ErrWrongParamType, "未知的实体类型: %q", s.Kind)
	}
	if err := ent.Validate(); err != nil {
		return nil, entityErr(err)
	}
	return ent, nil
}

// AddCombatant 创建实体并追加到先攻队尾
//
// 非作者只能添加自己控制的实体。
func (e *Engine) AddCombatant(ctx context.Context, sessionID string, caller uint, spec CombatantSpec) (entity.Entity, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	session, err := e.ongoingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if spec.OwnerID == 0 {
		spec.OwnerID = caller
	}
	if caller != session.AuthorID && spec.OwnerID != caller {
		return nil, errors.New(errors.ErrPermissionDenied, "只能添加自己控制的实体")
	}

	ent, err := spec.build(sessionID)
	if err != nil {
		return nil, err
	}
	q, err := e.store.LoadQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := q.Append(ent.Core().ID); err != nil {
		return nil, turnErr(err)
	}
	if err := e.store.CreateEntity(ctx, ent); err != nil {
		return nil, err
	}
	if err := e.store.SaveQueue(ctx, sessionID, q); err != nil {
		return nil, err
	}

	e.notify(sessionID, EventTurnChanged, turnData(q))
	return ent, nil
}

// RemoveCombatant 把实体移出战斗
func (e *Engine) RemoveCombatant(ctx context.Context, sessionID string, caller uint, entityID string) error {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	session, err := e.ongoingSession(ctx, sessionID)
	if err != nil {
		return err
	}
	ent, err := e.store.GetEntity(ctx, sessionID, entityID)
	if err != nil {
		return err
	}
	if err := authorize(session, caller, ent); err != nil {
		return err
	}
	if err := e.store.RemoveEntityTurn(ctx, sessionID, entityID); err != nil && !errors.Is(err, errors.ErrNotFound) {
		return err
	}
	if err := e.store.DeleteEntity(ctx, sessionID, entityID); err != nil {
		return err
	}

	q, err := e.store.LoadQueue(ctx, sessionID)
	if err != nil {
		return err
	}
	e.notify(sessionID, EventTurnChanged, turnData(q))
	return nil
}

// ListCombatants 列出会话中的实体
func (e *Engine) ListCombatants(ctx context.Context, sessionID string) ([]entity.Entity, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.store.ListEntities(ctx, sessionID)
}
