package application

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	conditions "roomwatch/internal/conditions/domain"
	rules "roomwatch/internal/rules/domain"
)

// FireForgetter drops in-memory fire bookkeeping for a deleted rule.
type FireForgetter interface {
	Forget(ruleID string)
}

// Service manages rule definitions and their fire logs.
type Service struct {
	repo      rules.Repository
	catalog   *Catalog
	forgetter FireForgetter
	clock     Clock
	logger    *zap.Logger
	newID     func() string
}

// ServiceOption customizes the rule service.
type ServiceOption func(*Service)

// WithServiceForgetter lets deletes clear scheduler state.
func WithServiceForgetter(forgetter FireForgetter) ServiceOption {
	return func(s *Service) {
		s.forgetter = forgetter
	}
}

// WithServiceClock assigns a clock.
func WithServiceClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithServiceLogger assigns a logger.
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a rule service.
func NewService(repo rules.Repository, catalog *Catalog, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("rules: nil repository")
	}
	if catalog == nil {
		return nil, errors.New("rules: nil catalog")
	}
	s := &Service{
		repo:    repo,
		catalog: catalog,
		clock:   systemClock{},
		logger:  zap.NewNop(),
		newID:   func() string { return "rule_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewRule returns a definition populated with creation defaults.
func NewRule() rules.Rule {
	return rules.Rule{
		Enabled:     true,
		Priority:    rules.DefaultPriority,
		CooldownSec: rules.DefaultCooldownSec,
		Conditions:  []conditions.Group{},
		Actions:     rules.ActionList{},
	}
}

// ListRules returns every definition in store order.
func (s *Service) ListRules(ctx context.Context) ([]rules.Rule, error) {
	return s.repo.ListRules(ctx)
}

// GetRule returns one definition.
func (s *Service) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	rule, err := s.repo.GetRule(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, rules.ErrNotFound
	}
	return rule, nil
}

// CreateRule validates and stores a new definition.
func (s *Service) CreateRule(ctx context.Context, rule rules.Rule) (*rules.Rule, error) {
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	rule.ID = s.newID()
	rule.LastFiredAt = nil
	rule.FireCount = 0
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.repo.CreateRule(ctx, &rule); err != nil {
		return nil, err
	}
	s.catalog.Put(rule)
	s.logger.Info("rule created", zap.String("rule_id", rule.ID), zap.String("name", rule.Name))
	return &rule, nil
}

// UpdateRule replaces a definition. Fire metadata is kept from the stored copy.
func (s *Service) UpdateRule(ctx context.Context, rule rules.Rule) (*rules.Rule, error) {
	existing, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.LastFiredAt = existing.LastFiredAt
	rule.FireCount = existing.FireCount
	rule.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdateRule(ctx, &rule); err != nil {
		return nil, err
	}
	s.catalog.Put(rule)
	return &rule, nil
}

// DeleteRule removes a definition. Its fire log is kept.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if _, err := s.GetRule(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.catalog.Remove(id)
	if s.forgetter != nil {
		s.forgetter.Forget(id)
	}
	s.logger.Info("rule deleted", zap.String("rule_id", id))
	return nil
}

// ListFireLogs returns up to limit recent fire entries, oldest first.
func (s *Service) ListFireLogs(ctx context.Context, id string, limit int) ([]rules.FireLog, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFireLogs(ctx, rule.ID, rules.ClampLogLimit(limit))
}

// AppendFireLog records a fire reported from outside the scheduler.
// A zero At is stamped with the current time.
func (s *Service) AppendFireLog(ctx context.Context, id string, log rules.FireLog) error {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = s.clock.Now().UTC()
	}
	if log.Actions == nil {
		log.Actions = []rules.AppliedAction{}
	}
	return s.repo.AppendFireLog(ctx, rule.ID, log)
}
