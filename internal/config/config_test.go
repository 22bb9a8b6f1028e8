package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
combat:
  interaction_timeout: 5s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, Init(path))
	c := Get()
	require.NotNil(t, c)

	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 5*time.Second, c.Combat.InteractionTimeout)
	// 未配置的项使用默认值
	assert.Equal(t, 2*time.Minute, c.Combat.MaxInteractionTimeout)
	assert.Equal(t, 140*time.Second, c.Combat.ResolutionTimeout)
	assert.Equal(t, int64(65536), c.WebSocket.MaxMessageSize)
	assert.Equal(t, "sqlite", c.Database.Driver)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, path, ConfigFile())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Combat:   CombatConfig{InteractionTimeout: time.Second, MaxInteractionTimeout: time.Minute},
			Security: SecurityConfig{JWT: JWTConfig{Secret: "s"}},
		}
	}

	assert.NoError(t, base().Validate())

	c := base()
	c.Server.Port = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Combat.InteractionTimeout = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Combat.MaxInteractionTimeout = time.Millisecond
	assert.Error(t, c.Validate())

	c = base()
	c.Combat.EventRetention = -time.Hour
	assert.Error(t, c.Validate())

	// 结算时限必须落在HTTP写超时之内
	c = base()
	c.Server.WriteTimeout = 150 * time.Second
	c.Combat.ResolutionTimeout = 140 * time.Second
	assert.NoError(t, c.Validate())
	c.Combat.ResolutionTimeout = 150 * time.Second
	assert.Error(t, c.Validate())
	c.Combat.ResolutionTimeout = -time.Second
	assert.Error(t, c.Validate())

	c = base()
	c.Security.JWT.Secret = ""
	assert.Error(t, c.Validate())
}
