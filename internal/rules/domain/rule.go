package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	conditions "roomwatch/internal/conditions/domain"
)

// Defaults for new rules.
const (
	DefaultPriority    = 100
	DefaultCooldownSec = 30
)

// Fire log list bounds.
const (
	DefaultLogLimit = 50
	MaxLogLimit     = 200
)

// Rule is a condition definition that drives actuators.
// Lower Priority values are evaluated first.
type Rule struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Enabled     bool               `json:"enabled"`
	Priority    int                `json:"priority"`
	CooldownSec int                `json:"cooldownSec"`
	Conditions  ConditionSet       `json:"conditions"`
	Actions     ActionList         `json:"actions"`
	LastFiredAt *time.Time         `json:"lastFiredAt,omitempty"`
	FireCount   int                `json:"fireCount"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// ConditionSet is the condition tree of a rule. It encodes as
// {"groups": [...]} and decodes from that object or a bare group array.
type ConditionSet []conditions.Group

// MarshalJSON implements json.Marshaler.
func (c ConditionSet) MarshalJSON() ([]byte, error) {
	groups := []conditions.Group(c)
	if groups == nil {
		groups = []conditions.Group{}
	}
	return json.Marshal(struct {
		Groups []conditions.Group `json:"groups"`
	}{Groups: groups})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ConditionSet) UnmarshalJSON(data []byte) error {
	groups, err := conditions.UnmarshalGroups(data)
	if err != nil {
		return err
	}
	*c = groups
	return nil
}

// Normalize trims the name and replaces nil collections.
func (r *Rule) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	if r.Conditions == nil {
		r.Conditions = ConditionSet{}
	}
	if r.Actions == nil {
		r.Actions = ActionList{}
	}
}

// Validate checks rule invariants. Rules do not accept the contains operator.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if r.CooldownSec < 0 {
		return fmt.Errorf("%w: cooldownSec must be >= 0", ErrInvalidDefinition)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: actions required", ErrInvalidDefinition)
	}
	for i, action := range r.Actions {
		if action == nil {
			return fmt.Errorf("%w: action %d is empty", ErrInvalidDefinition, i)
		}
		if err := action.validate(); err != nil {
			return fmt.Errorf("%w: action %d: %v", ErrInvalidDefinition, i, err)
		}
	}
	if err := conditions.Validate(r.Conditions, conditions.ValidateOptions{}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return nil
}

// Cooldown is the minimum spacing between fires.
func (r Rule) Cooldown() time.Duration { return time.Duration(r.CooldownSec) * time.Second }

// FireLog is one entry of a rule's fire history.
type FireLog struct {
	At      time.Time       `json:"at"`
	Summary string          `json:"summary"`
	Actions []AppliedAction `json:"actions"`
}

// Metadata is the fire bookkeeping written after each fire.
type Metadata struct {
	LastFiredAt time.Time
	FireCount   int
}

// ClampLogLimit bounds a requested fire log limit.
func ClampLogLimit(limit int) int {
	if limit <= 0 {
		return DefaultLogLimit
	}
	if limit > MaxLogLimit {
		return MaxLogLimit
	}
	return limit
}

// Repository persists rules and their fire logs.
type Repository interface {
	ListRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id string) (*Rule, error)
	CreateRule(ctx context.Context, rule *Rule) error
	UpdateRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, id string) error
	UpdateMetadata(ctx context.Context, id string, meta Metadata) error

	AppendFireLog(ctx context.Context, ruleID string, log FireLog) error
	// ListFireLogs returns the most recent limit entries in ascending time order.
	ListFireLogs(ctx context.Context, ruleID string, limit int) ([]FireLog, error)
}
