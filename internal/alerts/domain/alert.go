package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	conditions "roomwatch/internal/conditions/domain"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
	SeverityCrit Severity = "crit"
)

// Valid returns true for known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityCrit:
		return true
	default:
		return false
	}
}

// ScopeMode selects which entities an alert is evaluated for.
type ScopeMode string

const (
	ScopeAny  ScopeMode = "any"
	ScopeRoom ScopeMode = "room"
)

// Scope is either every known entity or one fixed room.
type Scope struct {
	Mode ScopeMode `json:"mode"`
	Room string    `json:"room,omitempty"`
}

// Defaults for new alerts.
const (
	DefaultHoldSec     = 30
	DefaultCooldownSec = 300
)

// Alert is a notify-only condition definition.
type Alert struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Enabled     bool               `json:"enabled"`
	Severity    Severity           `json:"severity"`
	Scope       Scope              `json:"scope"`
	Conditions  []conditions.Group `json:"conditions"`
	HoldSec     int                `json:"holdSec"`
	CooldownSec int                `json:"cooldownSec"`
	LastFiredAt *time.Time         `json:"lastFiredAt,omitempty"`
	FireCount   int                `json:"fireCount"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// Normalize fills defaults for unset fields.
func (a *Alert) Normalize() {
	a.Name = strings.TrimSpace(a.Name)
	if a.Severity == "" {
		a.Severity = SeverityWarn
	}
	if a.Scope.Mode == "" {
		a.Scope.Mode = ScopeAny
	}
	if a.Scope.Mode == ScopeAny {
		a.Scope.Room = ""
	}
	if a.Conditions == nil {
		a.Conditions = []conditions.Group{}
	}
}

// Validate checks alert invariants.
func (a Alert) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("%w: invalid severity %q", ErrInvalidDefinition, a.Severity)
	}
	switch a.Scope.Mode {
	case ScopeAny:
	case ScopeRoom:
		if strings.TrimSpace(a.Scope.Room) == "" {
			return fmt.Errorf("%w: room scope needs a room", ErrInvalidDefinition)
		}
	default:
		return fmt.Errorf("%w: invalid scope %q", ErrInvalidDefinition, a.Scope.Mode)
	}
	if a.HoldSec < 0 || a.CooldownSec < 0 {
		return fmt.Errorf("%w: holdSec and cooldownSec must be >= 0", ErrInvalidDefinition)
	}
	if err := conditions.Validate(a.Conditions, conditions.ValidateOptions{AllowContains: true}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return nil
}

// Hold is the continuous-breach duration required before firing.
func (a Alert) Hold() time.Duration { return time.Duration(a.HoldSec) * time.Second }

// Cooldown is the minimum spacing between fires for one entity.
func (a Alert) Cooldown() time.Duration { return time.Duration(a.CooldownSec) * time.Second }

// Metadata is the fire bookkeeping written after each fire.
type Metadata struct {
	LastFiredAt time.Time
	FireCount   int
}

// Repository persists alert definitions and their events.
type Repository interface {
	ListAlerts(ctx context.Context) ([]Alert, error)
	GetAlert(ctx context.Context, id string) (*Alert, error)
	CreateAlert(ctx context.Context, alert *Alert) error
	UpdateAlert(ctx context.Context, alert *Alert) error
	DeleteAlert(ctx context.Context, id string) error
	UpdateMetadata(ctx context.Context, id string, meta Metadata) error

	CreateEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	AckEvent(ctx context.Context, id string, at time.Time) (*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
	CountOpenEvents(ctx context.Context) (int, error)
}
