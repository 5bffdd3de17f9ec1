package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: "9090"
  mode: debug
database:
  driver: sqlite
  path: %s
ai:
  base_url: http://llm.local/v1
  model: test-model
storage:
  type: local
  local_path: %s
assessment:
  upstream_timeout: 3s
cors:
  allowed_origins: ["http://localhost:3000"]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(sampleConfig, filepath.Join(dir, "db", "test.db"), filepath.Join(dir, "uploads"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))
	return dir
}

func TestLoadConfig(t *testing.T) {
	dir := writeConfig(t)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "test-model", cfg.AI.Model)
	assert.Equal(t, 3*time.Second, cfg.Assessment.UpstreamTimeout)
	assert.Equal(t, 30*time.Second, cfg.Assessment.LockTTL)
	assert.Equal(t, 2*time.Second, cfg.Assessment.LockWait)
	assert.Equal(t, 72*time.Hour, cfg.JWT.ExpireTime)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.ConfigFile)
	assert.DirExists(t, filepath.Join(dir, "uploads"))
	assert.DirExists(t, filepath.Join(dir, "db"))
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := writeConfig(t)
	t.Setenv("AI_MODEL", "override-model")
	t.Setenv("REDIS_HOST", "redis.local")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "override-model", cfg.AI.Model)
	assert.True(t, cfg.Redis.Enabled())
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:     ServerConfig{Mode: "release"},
			Database:   DatabaseConfig{Driver: "mysql"},
			JWT:        JWTConfig{Secret: "0123456789abcdef0123456789abcdef"},
			Assessment: AssessmentConfig{UpstreamTimeout: time.Second},
			RateLimit:  RateLimitConfig{MaxRequests: 10, WindowMinutes: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"short secret in release", func(c *Config) { c.JWT.Secret = "short" }, true},
		{"short secret in debug", func(c *Config) { c.JWT.Secret = "short"; c.Server.Mode = "debug" }, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, true},
		{"zero timeout", func(c *Config) { c.Assessment.UpstreamTimeout = 0 }, true},
		{"zero rate limit", func(c *Config) { c.RateLimit.MaxRequests = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
