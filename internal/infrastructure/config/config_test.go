package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applog "github.com/chatwatch/backend/internal/infrastructure/log"
)

func TestNewConfig_Defaults(t *testing.T) {
	ResetDataDir()
	t.Setenv(EnvDataDir, "/data/chatwatch")

	cfg := NewConfig()
	assert.Equal(t, ":19970", cfg.Server.HTTPPort)
	assert.Equal(t, "/data/chatwatch/telegram_monitor.db", cfg.Database.Path)
	assert.Equal(t, "/data/chatwatch/telegram.session", cfg.Telegram.SessionPath)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 2*time.Second, cfg.Fetch.QuietPeriod)
	assert.Equal(t, "mistral-small:latest", cfg.Inference.ChatModel)
	assert.Equal(t, 20, cfg.Members.Profiles)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	ResetDataDir()
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	path := filepath.Join(dir, "custom.yaml")
	content := `
scheduler:
  interval: 10m
  workers: 2
detector:
  threshold: 0.9
fetch:
  backoff_base: 1s
  backoff_cap: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Setenv(EnvTelegramID, "12345")
	t.Setenv(EnvTelegramHash, "abcdef")
	t.Setenv(EnvOllamaModel, "llama3:8b")
	t.Setenv(applog.EnvLevel, "debug")
	t.Setenv(applog.EnvNoColor, "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	assert.Equal(t, 0.9, cfg.Detector.Threshold)
	assert.Equal(t, time.Second, cfg.Fetch.BackoffBase)
	assert.Equal(t, 12345, cfg.Telegram.AppID)
	assert.Equal(t, "abcdef", cfg.Telegram.AppHash)
	assert.Equal(t, "llama3:8b", cfg.Inference.ChatModel)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.NoColor)
	assert.NoError(t, cfg.ValidateTelegram())
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	ResetDataDir()
	t.Setenv(EnvDataDir, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Path())
	assert.Equal(t, 0.85, cfg.Detector.Threshold)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidThreshold(t *testing.T) {
	ResetDataDir()
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvThreshold, "1.5")

	_, err := Load("")
	assert.Error(t, err)
}

func TestEffectiveConversationTimeout(t *testing.T) {
	cfg := NewConfig()
	cfg.Fetch.RequestTimeout = 5 * time.Second

	cfg.Scheduler.ConversationTimeout = 0
	assert.Equal(t, 500*time.Second, cfg.EffectiveConversationTimeout(100), "不应低于 单页条数 × 单次请求超时")

	cfg.Scheduler.ConversationTimeout = time.Hour
	assert.Equal(t, time.Hour, cfg.EffectiveConversationTimeout(100))
}

func TestValidateTelegram_MissingCredentials(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.ValidateTelegram())
}
