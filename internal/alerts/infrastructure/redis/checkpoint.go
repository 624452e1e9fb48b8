package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	alerts "roomwatch/internal/alerts/domain"
)

// DefaultCheckpointKey is the hash holding last fire times.
const DefaultCheckpointKey = "roomwatch:alerts:last_fire"

// Checkpoint stores each (alert, entity) last fire time in a Redis hash so
// cooldowns survive a restart. Breach start times are not stored.
type Checkpoint struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// CheckpointOption configures the checkpoint.
type CheckpointOption func(*Checkpoint)

// WithKey overrides the hash key.
func WithKey(key string) CheckpointOption {
	return func(c *Checkpoint) {
		if key != "" {
			c.key = key
		}
	}
}

// WithTTL expires the hash when no checkpoint is written for ttl.
func WithTTL(ttl time.Duration) CheckpointOption {
	return func(c *Checkpoint) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) CheckpointOption {
	return func(c *Checkpoint) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCheckpoint constructs a Redis checkpoint.
func NewCheckpoint(client *goredis.Client, opts ...CheckpointOption) (*Checkpoint, error) {
	if client == nil {
		return nil, errors.New("alert checkpoint: nil redis client")
	}
	c := &Checkpoint{client: client, key: DefaultCheckpointKey, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Save replaces the stored hash with the fired entries of states.
func (c *Checkpoint) Save(ctx context.Context, states map[alerts.BreachKey]alerts.BreachState) error {
	values := make(map[string]any, len(states))
	for key, state := range states {
		if state.LastFireAt.IsZero() {
			continue
		}
		values[key.String()] = state.LastFireAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, c.key)
		if len(values) > 0 {
			pipe.HSet(ctx, c.key, values)
			if c.ttl > 0 {
				pipe.Expire(ctx, c.key, c.ttl)
			}
		}
		return nil
	})
	return err
}

// Load reads the stored last fire times. Unparseable entries are skipped.
func (c *Checkpoint) Load(ctx context.Context) (map[alerts.BreachKey]time.Time, error) {
	raw, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return map[alerts.BreachKey]time.Time{}, nil
		}
		return nil, err
	}
	out := make(map[alerts.BreachKey]time.Time, len(raw))
	for field, value := range raw {
		alertID, entity, ok := strings.Cut(field, "::")
		if !ok || alertID == "" {
			c.logger.Warn("skip checkpoint field", zap.String("field", field))
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			c.logger.Warn("skip checkpoint value", zap.String("field", field), zap.Error(err))
			continue
		}
		out[alerts.BreachKey{AlertID: alertID, Entity: entity}] = at.UTC()
	}
	return out, nil
}
