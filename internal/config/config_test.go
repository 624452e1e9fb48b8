package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"ROOMWATCH_CONFIG", "HTTP_ADDR", "DATABASE_URL", "PG_DSN", "REDIS_ADDR", "SITE_ID", "TIMEZONE",
	"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD",
	"ALERT_TICK", "RULE_TICK", "DEFINITION_REFRESH", "CHECKPOINT_INTERVAL",
	"EFFECT_TIMEOUT", "EFFECT_WORKERS", "EFFECT_QUEUE",
	"AUTH_JWT_SECRET", "JWT_SECRET", "INGEST_HMAC_SECRET", "INGEST_MAX_SKEW_SECONDS",
	"LOG_LEVEL", "LOG_FORMAT", "ALERT_WEBHOOK_URL", "ALERT_NOTIFY_TEMPLATE",
	"ALERT_NOTIFY_COOLDOWN", "ALERT_NOTIFY_DEDUP_WINDOW", "ALERT_ESCALATION_AFTER",
	"ALERT_NOTIFY_TIMEOUT", "ROOMS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.AlertTick)
	assert.Equal(t, 3*time.Second, cfg.RuleTick)
	assert.Equal(t, 4, cfg.EffectWorkers)
	assert.Equal(t, 5*time.Minute, cfg.IngestMaxSkew())
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "roomwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
site_id: hq
rule_tick: 1s
mqtt:
  broker: tcp://broker:1883
notify:
  webhook_url: https://hooks.example/alerts
rooms:
  WWH015: dtn-e41358088304
  Lobby: dtn-aa
`), 0o600))
	t.Setenv("ROOMWATCH_CONFIG", path)
	t.Setenv("SITE_ID", "annex")
	t.Setenv("EFFECT_WORKERS", "8")
	t.Setenv("ALERT_TICK", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "annex", cfg.SiteID)
	assert.Equal(t, time.Second, cfg.RuleTick)
	assert.Equal(t, 2*time.Second, cfg.AlertTick)
	assert.Equal(t, 8, cfg.EffectWorkers)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "roomwatch", cfg.MQTT.ClientID)
	assert.Equal(t, "https://hooks.example/alerts", cfg.Notify.WebhookURL)
	assert.Equal(t, map[string]string{"WWH015": "dtn-e41358088304", "Lobby": "dtn-aa"}, cfg.Rooms)
}

func TestLoadRoomsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROOMS", "Lab=dev-1, Lobby = dev-2,broken,=x")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Lab": "dev-1", "Lobby": "dev-2"}, cfg.Rooms)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROOMWATCH_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err = Load()
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("EFFECT_QUEUE", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	loc, err := Config{Timezone: "America/New_York"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	loc, err = Config{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}
