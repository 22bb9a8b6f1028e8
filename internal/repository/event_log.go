package repository

import (
	"context"
	"time"

	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/models"
)

// AppendEvent 记录一条战斗事件
func (s *Store) AppendEvent(ctx context.Context, sessionID, eventType string, data map[string]interface{}, at time.Time) error {
	log := &models.CombatLog{
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		CreatedAt: at,
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		return storeErr(err, errors.ErrDatabaseInsert, "event "+eventType)
	}
	return nil
}

// ListEvents 按时间正序分页读取会话事件，eventType 为空时不过滤
func (s *Store) ListEvents(ctx context.Context, sessionID, eventType string, p *Pagination) ([]*models.CombatLog, error) {
	var logs []*models.CombatLog
	query := s.db.WithContext(ctx).Model(&models.CombatLog{}).Where("session_id = ?", sessionID)
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}

	if err := query.Count(&p.Total).Error; err != nil {
		return nil, storeErr(err, errors.ErrDatabaseQuery, "events "+sessionID)
	}
	err := query.Scopes(Paginate(p)).Order("created_at ASC, id ASC").Find(&logs).Error
	if err != nil {
		return nil, storeErr(err, errors.ErrDatabaseQuery, "events "+sessionID)
	}
	return logs, nil
}

// CleanupEvents 删除早于 before 的事件，返回删除条数
func (s *Store) CleanupEvents(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.CombatLog{})
	if res.Error != nil {
		return 0, storeErr(res.Error, errors.ErrDatabaseDelete, "events")
	}
	return res.RowsAffected, nil
}
