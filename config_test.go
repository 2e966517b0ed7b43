package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"APP_ENV", "PORT", "DATABASE_URL", "SESSION_KEY", "SESSION_SECRET", "SESSION_MAX_AGE",
	"SECURE_COOKIES", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "UPLOAD_DIR", "LOG_LEVEL",
}

// clearConfigEnv unsets every variable loadConfig reads for the duration of
// the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

const testDefaultConfig = `
port: "8080"
blog:
  title: myblog
  description: default description
session:
  key: myblog
  secret: default-secret
  max_age: 720h
database:
  url: blog.db
uploads:
  dir: static/img
log:
  level: info
  slow_query: 200ms
`

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "default.yaml", testDefaultConfig)

	cfg, err := loadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "myblog", cfg.Blog.Title)
	assert.Equal(t, "default description", cfg.Blog.Description)
	assert.Equal(t, "myblog", cfg.Session.Key)
	assert.Equal(t, "default-secret", cfg.Session.Secret)
	assert.Equal(t, 720*time.Hour, cfg.Session.MaxAge)
	assert.False(t, cfg.Session.Secure)
	assert.Equal(t, "blog.db", cfg.Database.URL)
	assert.Equal(t, "static/img", cfg.Uploads.Dir)
	assert.Equal(t, 200*time.Millisecond, cfg.Log.SlowQuery)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadConfig_EnvironmentFileMerges(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "default.yaml", testDefaultConfig)
	writeConfig(t, dir, "production.yaml", `
session:
  secure: true
database:
  url: postgres://blog@db/blog
`)
	t.Setenv("APP_ENV", "production")

	cfg, err := loadConfig(dir)
	require.NoError(t, err)

	assert.True(t, cfg.Session.Secure)
	assert.Equal(t, "postgres://blog@db/blog", cfg.Database.URL)
	// Keys absent from production.yaml keep their defaults.
	assert.Equal(t, "default-secret", cfg.Session.Secret)
	assert.Equal(t, "myblog", cfg.Blog.Title)
}

func TestLoadConfig_MissingEnvironmentFileIsIgnored(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "default.yaml", testDefaultConfig)
	t.Setenv("APP_ENV", "staging")

	cfg, err := loadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "blog.db", cfg.Database.URL)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "default.yaml", testDefaultConfig)

	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "mongodb://localhost/blog")
	t.Setenv("SESSION_SECRET", "from-env")
	t.Setenv("SESSION_MAX_AGE", "2h")
	t.Setenv("SECURE_COOKIES", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")

	cfg, err := loadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "mongodb://localhost/blog", cfg.Database.URL)
	assert.Equal(t, "from-env", cfg.Session.Secret)
	assert.Equal(t, 2*time.Hour, cfg.Session.MaxAge)
	assert.True(t, cfg.Session.Secure)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoadConfig_BadEnvValuesFallBack(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "default.yaml", testDefaultConfig)

	t.Setenv("SESSION_MAX_AGE", "forever")
	t.Setenv("REDIS_DB", "two")
	t.Setenv("SECURE_COOKIES", "maybe")

	cfg, err := loadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, cfg.Session.MaxAge)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.False(t, cfg.Session.Secure)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing default", func(t *testing.T) {
		clearConfigEnv(t)
		_, err := loadConfig(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		clearConfigEnv(t)
		dir := t.TempDir()
		writeConfig(t, dir, "default.yaml", "port: [unterminated")
		_, err := loadConfig(dir)
		assert.Error(t, err)
	})

	t.Run("empty secret", func(t *testing.T) {
		clearConfigEnv(t)
		dir := t.TempDir()
		writeConfig(t, dir, "default.yaml", testDefaultConfig)
		t.Setenv("SESSION_SECRET", "")
		_, err := loadConfig(dir)
		assert.Error(t, err)
	})
}

func TestShippedConfigLoads(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := loadConfig("config")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Port)
	assert.NotEmpty(t, cfg.Session.Key)
	assert.Positive(t, cfg.Session.MaxAge)
}
