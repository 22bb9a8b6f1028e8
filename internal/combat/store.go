package combat

import (
	"context"

	"github.com/wfunc/combat-table/internal/combat/entity"
	"github.com/wfunc/combat-table/internal/combat/turn"
	"github.com/wfunc/combat-table/internal/models"
)

// Store 会话存储，未找到时返回 errors.ErrNotFound
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	UpdateSession(ctx context.Context, sessionID string, fields map[string]interface{}) error
	DeleteSession(ctx context.Context, sessionID string) error

	CreateEntity(ctx context.Context, e entity.Entity) error
	GetEntity(ctx context.Context, sessionID, entityID string) (entity.Entity, error)
	ListEntities(ctx context.Context, sessionID string) ([]entity.Entity, error)
	UpdateEntity(ctx context.Context, e entity.Entity) error
	DeleteEntity(ctx context.Context, sessionID, entityID string) error

	RemoveEntityTurn(ctx context.Context, sessionID, entityID string) error
	LoadQueue(ctx context.Context, sessionID string) (*turn.Queue, error)
	SaveQueue(ctx context.Context, sessionID string, q *turn.Queue) error

	GetSpell(ctx context.Context, spellID string) (*entity.Spell, error)
	CreateSpell(ctx context.Context, spell *entity.Spell) error

	SetConnected(ctx context.Context, sessionID string, party uint, connected bool) error
}
