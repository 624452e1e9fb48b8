package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`
	SiteID      string `yaml:"site_id"`
	Timezone    string `yaml:"timezone"`

	MQTT MQTTConfig `yaml:"mqtt"`

	AlertTick          time.Duration `yaml:"alert_tick"`
	RuleTick           time.Duration `yaml:"rule_tick"`
	DefinitionRefresh  time.Duration `yaml:"definition_refresh"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	EffectTimeout time.Duration `yaml:"effect_timeout"`
	EffectWorkers int           `yaml:"effect_workers"`
	EffectQueue   int           `yaml:"effect_queue"`

	JWTSecret         string `yaml:"auth_jwt_secret"`
	IngestSecret      string `yaml:"ingest_hmac_secret"`
	IngestSkewSeconds int    `yaml:"ingest_max_skew_seconds"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Notify NotifyConfig `yaml:"notify"`

	// Rooms maps room names to the sensor device installed in them.
	Rooms map[string]string `yaml:"rooms"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NotifyConfig configures alert notifications.
type NotifyConfig struct {
	WebhookURL      string        `yaml:"webhook_url"`
	Template        string        `yaml:"template"`
	Cooldown        time.Duration `yaml:"cooldown"`
	DedupeWindow    time.Duration `yaml:"dedupe_window"`
	EscalationAfter time.Duration `yaml:"escalation_after"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTPAddr:           ":8080",
		SiteID:             "site1",
		Timezone:           "Local",
		AlertTick:          2 * time.Second,
		RuleTick:           3 * time.Second,
		DefinitionRefresh:  30 * time.Second,
		CheckpointInterval: 30 * time.Second,
		EffectTimeout:      5 * time.Second,
		EffectWorkers:      4,
		EffectQueue:        256,
		IngestSkewSeconds:  300,
		LogLevel:           "info",
		LogFormat:          "json",
		MQTT: MQTTConfig{
			ClientID: "roomwatch",
		},
		Notify: NotifyConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Load builds defaults, overlays the YAML file named by ROOMWATCH_CONFIG and
// then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("ROOMWATCH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.SiteID = getenvDefault("SITE_ID", cfg.SiteID)
	cfg.Timezone = getenvDefault("TIMEZONE", cfg.Timezone)

	cfg.MQTT.Broker = getenvDefault("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getenvDefault("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getenvDefault("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getenvDefault("MQTT_PASSWORD", cfg.MQTT.Password)

	cfg.AlertTick = getenvDuration("ALERT_TICK", cfg.AlertTick)
	cfg.RuleTick = getenvDuration("RULE_TICK", cfg.RuleTick)
	cfg.DefinitionRefresh = getenvDuration("DEFINITION_REFRESH", cfg.DefinitionRefresh)
	cfg.CheckpointInterval = getenvDuration("CHECKPOINT_INTERVAL", cfg.CheckpointInterval)
	cfg.EffectTimeout = getenvDuration("EFFECT_TIMEOUT", cfg.EffectTimeout)
	cfg.EffectWorkers = getenvIntDefault("EFFECT_WORKERS", cfg.EffectWorkers)
	cfg.EffectQueue = getenvIntDefault("EFFECT_QUEUE", cfg.EffectQueue)

	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.JWTSecret))
	cfg.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", cfg.IngestSecret)
	cfg.IngestSkewSeconds = getenvIntDefault("INGEST_MAX_SKEW_SECONDS", cfg.IngestSkewSeconds)

	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("LOG_FORMAT", cfg.LogFormat)

	cfg.Notify.WebhookURL = getenvDefault("ALERT_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.Template = getenvDefault("ALERT_NOTIFY_TEMPLATE", cfg.Notify.Template)
	cfg.Notify.Cooldown = getenvDuration("ALERT_NOTIFY_COOLDOWN", cfg.Notify.Cooldown)
	cfg.Notify.DedupeWindow = getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", cfg.Notify.DedupeWindow)
	cfg.Notify.EscalationAfter = getenvDuration("ALERT_ESCALATION_AFTER", cfg.Notify.EscalationAfter)
	cfg.Notify.Timeout = getenvDuration("ALERT_NOTIFY_TIMEOUT", cfg.Notify.Timeout)

	if rooms := os.Getenv("ROOMS"); rooms != "" {
		cfg.Rooms = parseRooms(rooms)
	}

	return cfg, cfg.Validate()
}

// Validate checks values that would make the service misbehave.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("config: HTTP_ADDR is required"))
	}
	if c.AlertTick <= 0 || c.RuleTick <= 0 {
		errs = append(errs, errors.New("config: tick intervals must be positive"))
	}
	if c.EffectWorkers <= 0 || c.EffectQueue <= 0 {
		errs = append(errs, errors.New("config: effect workers and queue must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("config: timezone %q: %w", c.Timezone, err))
	}
	return errors.Join(errs...)
}

// Location resolves the configured timezone used for schedule windows.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// IngestMaxSkew returns the allowed ingest signature clock skew.
func (c Config) IngestMaxSkew() time.Duration {
	return time.Duration(c.IngestSkewSeconds) * time.Second
}

// parseRooms reads "Room=device,Room2=device2".
func parseRooms(value string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		room, device, ok := strings.Cut(part, "=")
		room = strings.TrimSpace(room)
		device = strings.TrimSpace(device)
		if !ok || room == "" || device == "" {
			continue
		}
		out[room] = device
	}
	return out
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
