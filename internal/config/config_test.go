package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"herdwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level: debug
cameras:
  - id: barn1
    name: Barn One
    stream_url: http://10.0.0.5/snapshot.jpg
    mode: cowcatcher
    notify_threshold: 0.9
    enabled: true
    telegram_bot: farm
  - id: barn2
    stream_url: rtsp://10.0.0.6/stream
    mode: calving
    enabled: false
modes:
  cowcatcher:
    save_threshold: 0.75
    collection_time: 30s
    cooldown_period: 1m
telegram:
  bots:
    - name: spare
      token: "111:aaa"
      enabled: true
    - name: farm
      token: "222:bbb"
      enabled: true
  users:
    - name: alice
      chat_id: "1001"
      enabled: true
    - name: bob
      chat_id: "1002"
      enabled: false
supervisor:
  watchdog_timeout: 90s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_DefaultsAndOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	cc := cfg.Modes[models.ModeCowCatcher]
	assert.Equal(t, 0.75, cc.SaveThreshold)
	assert.Equal(t, 30*time.Second, cc.CollectionTime)
	assert.Equal(t, time.Minute, cc.CooldownPeriod)
	assert.Equal(t, 4*time.Second, cc.MinCollectionTime, "unset fields fall back to mode defaults")
	assert.Equal(t, 5, cc.SoundEveryNNotifications)

	assert.Equal(t, 90*time.Second, cfg.Supervisor.WatchdogTimeout)
	assert.Equal(t, 5*time.Second, cfg.Supervisor.WatchdogInterval)
	assert.Equal(t, 5, cfg.Supervisor.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Supervisor.HibernationTime)

	assert.Equal(t, "barn2", cfg.Cameras[1].Name, "name defaults to id")
	assert.Len(t, EnabledCameras(cfg), 1)
}

func TestLoadConfig_PartialModeBlockKeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
modes:
  cowcatcher:
    save_threshold: 0.75
    collection_time: 30s
  calving:
    notify_threshold: 0.85
    manual_capture:
      duration: 5m
`))
	require.NoError(t, err)

	cc := cfg.Modes[models.ModeCowCatcher]
	assert.Equal(t, 0.75, cc.SaveThreshold)
	assert.Equal(t, 0.85, cc.VeryHighConfidence)
	assert.True(t, cc.SendAnnotatedImages)
	assert.True(t, cc.SendStatusNotifications)

	cv := cfg.Modes[models.ModeCalving]
	assert.Equal(t, 0.85, cv.NotifyThreshold)
	assert.True(t, cv.ManualCapture.Enabled)
	assert.Equal(t, 5*time.Minute, cv.ManualCapture.Duration)
	assert.Equal(t, time.Minute, cv.ManualCapture.NotifyInterval)
	assert.Zero(t, cv.VeryHighConfidence, "calving has no very-high stop")
}

func TestLoadConfig_ExplicitFalseOverridesDefault(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
modes:
  cowcatcher:
    very_high_confidence: 0
    send_annotated_images: false
  calving:
`))
	require.NoError(t, err)

	cc := cfg.Modes[models.ModeCowCatcher]
	assert.Zero(t, cc.VeryHighConfidence)
	assert.False(t, cc.SendAnnotatedImages)
	assert.True(t, cc.SendStatusNotifications)
	assert.True(t, cfg.Modes[models.ModeCalving].ManualCapture.Enabled)
}

func TestLoadConfig_EnvOverlay(t *testing.T) {
	t.Setenv("HERDWATCH_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("HERDWATCH_DATA_DIR", "/var/lib/herdwatch")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "/var/lib/herdwatch", cfg.Paths.DataDir)
}

func TestLoadConfig_RejectsUnknownMode(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
cameras:
  - id: x
    stream_url: http://x
    mode: sheepcatcher
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestResolve(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	ws, err := Resolve(cfg, "barn1")
	require.NoError(t, err)

	assert.Equal(t, 0.9, ws.Mode.NotifyThreshold, "camera threshold overrides mode")
	assert.Equal(t, 0.89, ws.Mode.PeakThreshold)
	assert.Equal(t, "farm", ws.BotName)
	assert.Equal(t, "222:bbb", ws.BotToken)
	assert.Equal(t, []string{"1001"}, ws.ChatIDs)

	_, err = Resolve(cfg, "nope")
	assert.ErrorIs(t, err, ErrCameraNotFound)
}

func TestResolve_NoEnabledBot(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
cameras:
  - id: c1
    stream_url: http://x
    telegram_bot: missing
telegram:
  bots:
    - name: other
      token: "1:a"
      enabled: true
  users:
    - chat_id: "5"
      enabled: true
`))
	require.NoError(t, err)

	ws, err := Resolve(cfg, "c1")
	require.NoError(t, err)
	assert.Empty(t, ws.BotToken)
	assert.Empty(t, ws.ChatIDs, "no recipients without a bot")
}

func TestResolve_FallsBackToFirstEnabledBot(t *testing.T) {
	cfg := Default()
	cfg.Cameras[0].TelegramBot = ""
	cfg.Telegram.Bots = []models.TelegramBot{
		{Name: "off", Token: "0:x", Enabled: false},
		{Name: "on", Token: "1:y", Enabled: true},
	}

	ws, err := Resolve(cfg, "camera1")
	require.NoError(t, err)
	assert.Equal(t, "on", ws.BotName)
	assert.Equal(t, "1:y", ws.BotToken)
}

func TestLoadOrCreate_WritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings", "config.yaml")

	cfg, err := LoadOrCreate(path)
	require.NoError(t, err)

	assert.FileExists(t, path)
	require.Len(t, cfg.Cameras, 1)
	assert.Equal(t, "camera1", cfg.Cameras[0].ID)
	assert.Equal(t, 50*time.Second, cfg.Modes[models.ModeCowCatcher].CollectionTime)
	assert.True(t, cfg.Modes[models.ModeCalving].ManualCapture.Enabled)
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(PathEnv, "")
	assert.Equal(t, DefaultPath, PathFromEnv())

	t.Setenv(PathEnv, "/etc/herdwatch/config.yaml")
	assert.Equal(t, "/etc/herdwatch/config.yaml", PathFromEnv())
}
