package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: http://localhost:8080/api
  token: tok
  timeout_seconds: 3
  retry_max_seconds: 7
  breaker_max_failures: 2
  breaker_reset_seconds: 11
stream:
  url: ws://localhost:8080/ws
  reconnect: false
  reconnect_max_seconds: 13
  ping_interval_seconds: 5
  write_deadline_seconds: 4
  max_message_size_bytes: 1024
log:
  development: true
  level: debug
user:
  id: alice
  name: Alice
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/api", c.API.BaseURL)
	assert.Equal(t, "tok", c.API.Token)
	assert.Equal(t, uint32(2), c.API.BreakerMaxFailures)
	assert.Equal(t, "ws://localhost:8080/ws", c.Stream.URL)
	assert.False(t, c.Stream.Reconnect)
	assert.Equal(t, int64(1024), c.Stream.MaxMessageSizeBytes)
	assert.True(t, c.Log.Development)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "alice", c.User.ID)

	assert.Equal(t, 3*time.Second, c.APITimeout)
	assert.Equal(t, 7*time.Second, c.RetryMaxElapsed)
	assert.Equal(t, 11*time.Second, c.BreakerReset)
	assert.Equal(t, 13*time.Second, c.ReconnectMax)
	assert.Equal(t, 5*time.Second, c.PingInterval)
	assert.Equal(t, 4*time.Second, c.WriteDeadline)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: http://localhost:8080/api
stream:
  url: ws://localhost:8080/ws
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.True(t, c.Stream.Reconnect, "reconnect defaults to on")
	assert.Equal(t, 10*time.Second, c.APITimeout)
	assert.Equal(t, 15*time.Second, c.RetryMaxElapsed)
	assert.Equal(t, uint32(5), c.API.BreakerMaxFailures)
	assert.Equal(t, 30*time.Second, c.BreakerReset)
	assert.Equal(t, 60*time.Second, c.ReconnectMax)
	assert.Equal(t, 25*time.Second, c.PingInterval)
	assert.Equal(t, 10*time.Second, c.WriteDeadline)
	assert.Equal(t, int64(65536), c.Stream.MaxMessageSizeBytes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
