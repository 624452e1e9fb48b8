package application

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomwatch/internal/alerts/application/events"
	alerts "roomwatch/internal/alerts/domain"
	conditions "roomwatch/internal/conditions/domain"
)

// Service manages alert definitions and their events.
type Service struct {
	repo      alerts.Repository
	catalog   *Catalog
	tracker   *Tracker
	publisher Publisher
	badge     *Badge
	clock     Clock
	logger    *zap.Logger
	newID     func() string
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithServiceTracker lets definition changes reset breach state.
func WithServiceTracker(tracker *Tracker) ServiceOption {
	return func(s *Service) {
		s.tracker = tracker
	}
}

// WithServicePublisher assigns the event publisher used for acknowledgements.
func WithServicePublisher(publisher Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithServiceBadge assigns the badge counter.
func WithServiceBadge(badge *Badge) ServiceOption {
	return func(s *Service) {
		s.badge = badge
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

// NewService constructs an alert service.
func NewService(repo alerts.Repository, catalog *Catalog, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("alerts: nil repository")
	}
	if catalog == nil {
		return nil, errors.New("alerts: nil catalog")
	}
	s := &Service{
		repo:    repo,
		catalog: catalog,
		clock:   systemClock{},
		logger:  zap.NewNop(),
		newID:   func() string { return "alert_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewAlert returns a definition populated with creation defaults.
func NewAlert() alerts.Alert {
	return alerts.Alert{
		Enabled:     true,
		Severity:    alerts.SeverityWarn,
		Scope:       alerts.Scope{Mode: alerts.ScopeAny},
		Conditions:  []conditions.Group{},
		HoldSec:     alerts.DefaultHoldSec,
		CooldownSec: alerts.DefaultCooldownSec,
	}
}

// ListAlerts returns every definition.
func (s *Service) ListAlerts(ctx context.Context) ([]alerts.Alert, error) {
	return s.repo.ListAlerts(ctx)
}

// GetAlert returns one definition.
func (s *Service) GetAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	alert, err := s.repo.GetAlert(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	return alert, nil
}

// CreateAlert validates and stores a new definition.
func (s *Service) CreateAlert(ctx context.Context, alert alerts.Alert) (*alerts.Alert, error) {
	alert.Normalize()
	if err := alert.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	alert.ID = s.newID()
	alert.LastFiredAt = nil
	alert.FireCount = 0
	alert.CreatedAt = now
	alert.UpdatedAt = now
	if err := s.repo.CreateAlert(ctx, &alert); err != nil {
		return nil, err
	}
	s.catalog.Put(alert)
	s.logger.Info("alert created", zap.String("alert_id", alert.ID), zap.String("name", alert.Name))
	return &alert, nil
}

// UpdateAlert replaces a definition. Fire metadata is kept from the stored copy.
func (s *Service) UpdateAlert(ctx context.Context, alert alerts.Alert) (*alerts.Alert, error) {
	existing, err := s.GetAlert(ctx, alert.ID)
	if err != nil {
		return nil, err
	}
	alert.Normalize()
	if err := alert.Validate(); err != nil {
		return nil, err
	}
	alert.ID = existing.ID
	alert.CreatedAt = existing.CreatedAt
	alert.LastFiredAt = existing.LastFiredAt
	alert.FireCount = existing.FireCount
	alert.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdateAlert(ctx, &alert); err != nil {
		return nil, err
	}
	s.catalog.Put(alert)
	if !alert.Enabled && s.tracker != nil {
		s.tracker.Forget(alert.ID)
	}
	return &alert, nil
}

// DeleteAlert removes a definition. Its events are kept.
func (s *Service) DeleteAlert(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if _, err := s.GetAlert(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteAlert(ctx, id); err != nil {
		return err
	}
	s.catalog.Remove(id)
	if s.tracker != nil {
		s.tracker.Forget(id)
	}
	s.logger.Info("alert deleted", zap.String("alert_id", id))
	return nil
}

// ListEvents returns events newest first.
func (s *Service) ListEvents(ctx context.Context, filter alerts.EventFilter) ([]alerts.Event, error) {
	return s.repo.ListEvents(ctx, filter.Normalize())
}

// AckEvent acknowledges an event. Acknowledging twice keeps the first timestamp.
func (s *Service) AckEvent(ctx context.Context, id string) (*alerts.Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, alerts.ErrNotFound
	}
	existing, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, alerts.ErrNotFound
	}
	if existing.Acknowledged {
		return existing, nil
	}
	now := s.clock.Now().UTC()
	event, err := s.repo.AckEvent(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, alerts.ErrNotFound
	}
	if s.publisher != nil {
		ack := events.EventAcknowledged{AlertID: event.AlertID, Event: *event, OccurredAt: now}
		if err := s.publisher.Publish(ctx, ack); err != nil {
			s.logger.Warn("acknowledge event not dispatched", zap.String("event_id", id), zap.Error(err))
		}
	}
	return event, nil
}

// BadgeCount returns the number of unacknowledged events.
func (s *Service) BadgeCount(ctx context.Context) (int, error) {
	if s.badge == nil {
		return s.repo.CountOpenEvents(ctx)
	}
	return s.badge.Refresh(ctx)
}
