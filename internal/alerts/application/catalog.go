package application

import (
	"context"
	"errors"
	"sync"

	alerts "roomwatch/internal/alerts/domain"
)

// AlertLister loads every alert definition.
type AlertLister interface {
	ListAlerts(ctx context.Context) ([]alerts.Alert, error)
}

// Catalog caches alert definitions so the scheduler never waits on the store.
type Catalog struct {
	repo AlertLister

	mu     sync.RWMutex
	alerts []alerts.Alert
}

// NewCatalog constructs an empty catalog.
func NewCatalog(repo AlertLister) (*Catalog, error) {
	if repo == nil {
		return nil, errors.New("alerts catalog: nil repository")
	}
	return &Catalog{repo: repo}, nil
}

// Reload replaces the cached definitions with the store's.
func (c *Catalog) Reload(ctx context.Context) error {
	list, err := c.repo.ListAlerts(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.alerts = list
	c.mu.Unlock()
	return nil
}

// Alerts returns a snapshot of the cached definitions.
func (c *Catalog) Alerts() []alerts.Alert {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]alerts.Alert(nil), c.alerts...)
}

// Put inserts or replaces one definition.
func (c *Catalog) Put(alert alerts.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.alerts {
		if c.alerts[i].ID == alert.ID {
			c.alerts[i] = alert
			return
		}
	}
	c.alerts = append(c.alerts, alert)
}

// Remove drops one definition.
func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.alerts {
		if c.alerts[i].ID == id {
			c.alerts = append(c.alerts[:i:i], c.alerts[i+1:]...)
			return
		}
	}
}
