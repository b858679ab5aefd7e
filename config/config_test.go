package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8090", c.Server.Addr)
	assert.Equal(t, 30*time.Minute, c.Presence.OnlineTTL)
	assert.Equal(t, 7*24*time.Hour, c.Presence.OfflineTTL)
	assert.Equal(t, 5*time.Second, c.Typing.TTL)
	assert.Equal(t, 30*24*time.Hour, c.Receipts.TTL)
	assert.Equal(t, 3, c.Offline.MaxAttempts)
	assert.Equal(t, 30*time.Second, c.Offline.SweepInterval)
	assert.Equal(t, 5*time.Minute, c.Offline.FreshnessWindow)
	assert.Equal(t, 10, c.Notify.BatchSize)
	assert.Equal(t, 5*time.Second, c.Notify.BatchDelay)
	assert.Equal(t, 90, c.Sync.RetentionDays)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  gateway_id: gw-7
redis:
  addr: "10.0.0.1:6379"
typing:
  ttl: 2s
`), 0o600))

	t.Setenv("CHATSYNC_REDIS_ADDR", "10.0.0.2:6379")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.Server.Addr)
	assert.Equal(t, "gw-7", c.Server.GatewayID)
	assert.Equal(t, 2*time.Second, c.Typing.TTL)
	// env wins over yaml for endpoints
	assert.Equal(t, "10.0.0.2:6379", c.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/conf.yaml")
	require.Error(t, err)
}
