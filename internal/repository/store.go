package repository

import (
	"context"
	stderrors "errors"

	"github.com/wfunc/combat-table/internal/combat/entity"
	"github.com/wfunc/combat-table/internal/combat/turn"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 基于gorm的会话存储
type Store struct {
	*BaseRepo
}

// NewStore 创建会话存储
func NewStore(db *gorm.DB) *Store {
	return &Store{BaseRepo: NewBaseRepo(db)}
}

// storeErr 把gorm错误转换为应用错误
func storeErr(err error, code errors.ErrorCode, what string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(errors.ErrNotFound, what)
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrap(err, errors.ErrAlreadyExists, what)
	}
	return errors.Wrap(err, code, what)
}

// CreateSession 创建会话
func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	return storeErr(s.db.WithContext(ctx).Create(session).Error, errors.ErrDatabaseInsert, "session "+session.SessionID)
}

// GetSession 根据会话ID查找
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		return nil, storeErr(err, errors.ErrDatabaseQuery, "session "+sessionID)
	}
	return &session, nil
}

// UpdateSession 部分更新会话字段
func (s *Store) UpdateSession(ctx context.Context, sessionID string, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Updates(fields)
	if res.Error != nil {
		return storeErr(res.Error, errors.ErrDatabaseUpdate, "session "+sessionID)
	}
	if res.RowsAffected == 0 {
		return errors.New(errors.ErrNotFound, "session "+sessionID)
	}
	return nil
}

// DeleteSession 删除会话及其实体、先攻顺序和事件记录
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Where("session_id = ?", sessionID).Delete(&models.Session{})
		if res.Error != nil {
			return storeErr(res.Error, errors.ErrDatabaseDelete, "session "+sessionID)
		}
		if res.RowsAffected == 0 {
			return errors.New(errors.ErrNotFound, "session "+sessionID)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.TurnSlot{}).Error; err != nil {
			return storeErr(err, errors.ErrDatabaseDelete, "turns "+sessionID)
		}
		sub := tx.Model(&models.Combatant{}).Select("entity_id").Where("session_id = ?", sessionID)
		if err := tx.Where("entity_id IN (?)", sub).Delete(&models.MonsterSkill{}).Error; err != nil {
			return storeErr(err, errors.ErrDatabaseDelete, "skills "+sessionID)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Combatant{}).Error; err != nil {
			return storeErr(err, errors.ErrDatabaseDelete, "combatants "+sessionID)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.CombatLog{}).Error; err != nil {
			return storeErr(err, errors.ErrDatabaseDelete, "events "+sessionID)
		}
		return nil
	})
}

// CreateEntity 创建实体（怪物技能表一并写入）
//
// 未引用档案的实体会以控制者为作者新建一份档案。
func (s *Store) CreateEntity(ctx context.Context, e entity.Entity) error {
	base := e.Core()
	err := s.Transaction(ctx, func(tx *gorm.DB) error {
		if base.ProfileID == 0 {
			profile := &models.Profile{Name: base.Name, AuthorID: base.OwnerID, Kind: string(e.Kind())}
			if err := tx.Create(profile).Error; err != nil {
				return err
			}
			base.ProfileID = profile.ID
		}
		return tx.Create(models.NewCombatant(e)).Error
	})
	return storeErr(err, errors.ErrDatabaseInsert, "entity "+base.ID)
}

// GetProfile 读取长期档案
func (s *Store) GetProfile(ctx context.Context, id uint) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.WithContext(ctx).First(&profile, id).Error; err != nil {
		return nil, storeErr(err, errors.ErrDatabaseQuery, "profile")
	}
	return &profile, nil
}

// GetEntity 查找会话中的实体
func (s *Store) GetEntity(ctx context.Context, sessionID, entityID string) (entity.Entity, error) {
	var rec models.Combatant
	err := s.db.WithContext(ctx).
		Preload("Skills").
		Where("session_id = ? AND entity_id = ?", sessionID, entityID).
		First(&rec).Error
	if err != nil {
		return nil, storeErr(err, errors.ErrDatabaseQuery, "entity "+entityID)
	}
	return toEntity(&rec)
}

// ListEntities 列出会话中的所有实体
func (s *Store) ListEntities(ctx context.Context, sessionID string) ([]entity.Entity, error) {
	var recs []models.Combatant
	err := s.db.WithContext(ctx).
		Preload("Skills").
		Where("session_id = ?", sessionID).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, storeErr(err, errors.ErrDatabaseQuery, "entities "+sessionID)
	}
	out := make([]entity.Entity, 0, len(recs))
	for i := range recs {
		e, err := toEntity(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func toEntity(rec *models.Combatant) (entity.Entity, error) {
	e, err := rec.ToEntity()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvariantViolation, "entity "+rec.EntityID)
	}
	return e, nil
}

// UpdateEntity 写回实体的可变字段
func (s *Store) UpdateEntity(ctx context.Context, e entity.Entity) error {
	rec := models.NewCombatant(e)
	res := s.db.WithContext(ctx).
		Model(&models.Combatant{}).
		Where("session_id = ? AND entity_id = ?", rec.SessionID, rec.EntityID).
		Select("hp", "max_hp", "armor_class", "speed", "reaction_available",
			"spells", "weapons", "effects", "slots").
		Updates(rec)
	if res.Error != nil {
		return storeErr(res.Error, errors.ErrDatabaseUpdate, "entity "+rec.EntityID)
	}
	if res.RowsAffected == 0 {
		return errors.New(errors.ErrNotFound, "entity "+rec.EntityID)
	}
	return nil
}

// DeleteEntity 删除实体记录
func (s *Store) DeleteEntity(ctx context.Context, sessionID, entityID string) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Where("session_id = ? AND entity_id = ?", sessionID, entityID).Delete(&models.Combatant{})
		if res.Error != nil {
			return storeErr(res.Error, errors.ErrDatabaseDelete, "entity "+entityID)
		}
		if res.RowsAffected == 0 {
			return errors.New(errors.ErrNotFound, "entity "+entityID)
		}
		return storeErr(tx.Where("entity_id = ?", entityID).Delete(&models.MonsterSkill{}).Error,
			errors.ErrDatabaseDelete, "skills "+entityID)
	})
}

// RemoveEntityTurn 从先攻顺序中移除实体，后续位置前移
func (s *Store) RemoveEntityTurn(ctx context.Context, sessionID, entityID string) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		q, err := loadQueue(tx, sessionID)
		if err != nil {
			return err
		}
		if err := q.Remove(entityID); err != nil {
			return errors.Wrap(err, errors.ErrNotFound, "turn "+entityID)
		}
		return saveQueue(tx, sessionID, q)
	})
}

// LoadQueue 读取会话的先攻顺序
func (s *Store) LoadQueue(ctx context.Context, sessionID string) (*turn.Queue, error) {
	return loadQueue(s.db.WithContext(ctx), sessionID)
}

// SaveQueue 整体替换会话的先攻顺序
func (s *Store) SaveQueue(ctx context.Context, sessionID string, q *turn.Queue) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		return saveQueue(tx, sessionID, q)
	})
}

func loadQueue(db *gorm.DB, sessionID string) (*turn.Queue, error) {
	var slots []models.TurnSlot
	if err := db.Where("session_id = ?", sessionID).Order("position").Find(&slots).Error; err != nil {
		return nil, storeErr(err, errors.ErrDatabaseQuery, "turns "+sessionID)
	}
	ids := make([]string, 0, len(slots))
	for i, slot := range slots {
		if slot.Position != i {
			return nil, errors.Newf(errors.ErrInvariantViolation, "先攻位置不连续: %s@%d", slot.EntityID, slot.Position)
		}
		ids = append(ids, slot.EntityID)
	}
	q, err := turn.New(ids...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvariantViolation, "turns "+sessionID)
	}
	return q, nil
}

// saveQueue 先删后插，避免更新过程中触发位置唯一索引
func saveQueue(tx *gorm.DB, sessionID string, q *turn.Queue) error {
	if err := tx.Where("session_id = ?", sessionID).Delete(&models.TurnSlot{}).Error; err != nil {
		return storeErr(err, errors.ErrDatabaseDelete, "turns "+sessionID)
	}
	ids := q.IDs()
	if len(ids) == 0 {
		return nil
	}
	slots := make([]models.TurnSlot, len(ids))
	for i, id := range ids {
		slots[i] = models.TurnSlot{SessionID: sessionID, EntityID: id, Position: i}
	}
	return storeErr(tx.Create(&slots).Error, errors.ErrDatabaseInsert, "turns "+sessionID)
}

// GetSpell 查找法术
func (s *Store) GetSpell(ctx context.Context, spellID string) (*entity.Spell, error) {
	var rec models.Spell
	if err := s.db.WithContext(ctx).Where("spell_id = ?", spellID).First(&rec).Error; err != nil {
		return nil, storeErr(err, errors.ErrDatabaseQuery, "spell "+spellID)
	}
	return rec.ToSpell(), nil
}

// CreateSpell 创建或覆盖法术定义
func (s *Store) CreateSpell(ctx context.Context, spell *entity.Spell) error {
	rec := models.NewSpell(spell)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "spell_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "tier", "kind", "reaction", "updated_at"}),
	}).Create(rec).Error
	return storeErr(err, errors.ErrDatabaseInsert, "spell "+spell.ID)
}

// SetConnected 更新会话的在线玩家集合
func (s *Store) SetConnected(ctx context.Context, sessionID string, party uint, connected bool) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
			return storeErr(err, errors.ErrDatabaseQuery, "session "+sessionID)
		}
		parties := make([]uint, 0, len(session.ConnectedParties)+1)
		for _, p := range session.ConnectedParties {
			if p != party {
				parties = append(parties, p)
			}
		}
		if connected {
			parties = append(parties, party)
		}
		session.ConnectedParties = parties
		return storeErr(tx.Model(&session).Select("connected_parties").Updates(&session).Error,
			errors.ErrDatabaseUpdate, "session "+sessionID)
	})
}

// ListSessions 分页列出作者创建的会话
func (s *Store) ListSessions(ctx context.Context, authorID uint, p *Pagination) ([]*models.Session, error) {
	db := s.db.WithContext(ctx).Model(&models.Session{}).Where("author_id = ?", authorID)
	if err := db.Count(&p.Total).Error; err != nil {
		return nil, storeErr(err, errors.ErrDatabaseQuery, "sessions")
	}
	var sessions []*models.Session
	if err := db.Scopes(Paginate(p)).Order("id DESC").Find(&sessions).Error; err != nil {
		return nil, storeErr(err, errors.ErrDatabaseQuery, "sessions")
	}
	return sessions, nil
}
