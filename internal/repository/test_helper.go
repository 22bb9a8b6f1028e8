package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/combat-table/internal/combat/entity"
	"github.com/wfunc/combat-table/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 创建迁移好的内存数据库
func SetupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	// 每个测试独立的共享缓存内存库，连接池中的连接看到同一份数据
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() { CleanupTestDB(db) })
	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(db *gorm.DB) {
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// CreateTestSession 创建测试会话记录
func CreateTestSession(authorID uint) *models.Session {
	return &models.Session{
		SessionID: uuid.NewString(),
		Name:      "地精伏击",
		AuthorID:  authorID,
		Status:    models.SessionOngoing,
		MapWidth:  20,
		MapHeight: 20,
	}
}

// CreateTestCharacter 创建测试角色
func CreateTestCharacter(sessionID string, owner uint) *entity.Character {
	return &entity.Character{
		Base: entity.Base{
			ID: uuid.NewString(), SessionID: sessionID, OwnerID: owner, Name: "艾琳",
			HP: 24, MaxHP: 24, Armor: 15, Speed: 30,
			Spells: []string{"fire-bolt", "magic-missile"}, Weapons: []string{"dagger"},
			ReactionAvailable: true,
		},
		Abilities: entity.AbilityScores{Strength: 8, Dexterity: 14, Constitution: 12, Intelligence: 17, Wisdom: 10, Charisma: 11},
		Slots:     entity.NewSlotLedger(4, 2),
	}
}

// CreateTestMonster 创建测试怪物
func CreateTestMonster(sessionID string, owner uint) *entity.Monster {
	return &entity.Monster{
		Base: entity.Base{
			ID: uuid.NewString(), SessionID: sessionID, OwnerID: owner, Name: "地精",
			HP: 7, MaxHP: 7, Armor: 13, Speed: 30,
			Weapons: []string{"scimitar"}, ReactionAvailable: true,
		},
		Skills:     map[entity.Skill]int{entity.SkillDexterity: 2},
		Immunities: []entity.Effect{"charmed"},
	}
}
