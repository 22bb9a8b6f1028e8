package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/combat-table/internal/config"
	"github.com/wfunc/combat-table/internal/models"
)

func testConfig(dsn string) *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          dsn,
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}
}

func TestOpenAndMigrate(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "combat.db")
	db, err := Open(testConfig(dsn))
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	for _, m := range models.All() {
		assert.True(t, db.Migrator().HasTable(m), "%T", m)
	}

	// 迁移结束后锁文件已释放
	_, err = os.Stat(dsn + ".migration.lock")
	assert.True(t, os.IsNotExist(err))

	// 重复迁移是幂等的
	require.NoError(t, Migrate(db))
	assert.NotEmpty(t, sqlitePath(db))
}

// TestMigrateOnRestart 同一个数据库文件重启后再次迁移
func TestMigrateOnRestart(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "restart.db")
	cfg := testConfig(dsn)
	cfg.MaxIdleConns = 10
	cfg.MaxOpenConns = 100

	require.NoError(t, Init(cfg))
	require.NoError(t, AutoMigrate())
	require.NoError(t, DB.Create(&models.MonsterSkill{EntityID: "goblin", Skill: "dexterity", Modifier: 2}).Error)
	require.NoError(t, Close())

	require.NoError(t, Init(cfg), "second boot")
	require.NoError(t, AutoMigrate(), "second boot")

	var skills []models.MonsterSkill
	require.NoError(t, DB.Find(&skills).Error)
	require.Len(t, skills, 1)
	assert.Equal(t, 2, skills[0].Modifier)

	// 不带迁移锁的裸迁移同样可以重复
	require.NoError(t, DB.AutoMigrate(models.All()...))
	require.NoError(t, Close())
	DB = nil
}

func TestOpenUnsupportedDriver(t *testing.T) {
	cfg := testConfig("")
	cfg.Driver = "oracle"
	_, err := Open(cfg)
	assert.Error(t, err)
}

func TestMigrationLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "locked.db")

	lock, err := acquireMigrationLock(dbPath)
	require.NoError(t, err)
	_, err = os.Stat(dbPath + ".migration.lock")
	require.NoError(t, err)

	releaseMigrationLock(lock)
	_, err = os.Stat(dbPath + ".migration.lock")
	assert.True(t, os.IsNotExist(err))
}

func TestInitAndClose(t *testing.T) {
	require.NoError(t, Init(testConfig(":memory:")))
	assert.True(t, IsConnected())
	assert.NotNil(t, GetDB())
	require.NoError(t, AutoMigrate())
	require.NoError(t, Close())
	DB = nil
	assert.False(t, IsConnected())
}
