package application

import (
	"context"
	"errors"
	"sort"
	"sync"

	rules "roomwatch/internal/rules/domain"
)

// RuleLister loads every rule definition.
type RuleLister interface {
	ListRules(ctx context.Context) ([]rules.Rule, error)
}

// Catalog caches rule definitions for the scheduler.
type Catalog struct {
	repo RuleLister

	mu    sync.RWMutex
	rules []rules.Rule
}

// NewCatalog constructs an empty catalog.
func NewCatalog(repo RuleLister) (*Catalog, error) {
	if repo == nil {
		return nil, errors.New("rules catalog: nil repository")
	}
	return &Catalog{repo: repo}, nil
}

// Reload replaces the cached definitions with the store's.
func (c *Catalog) Reload(ctx context.Context) error {
	list, err := c.repo.ListRules(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rules = list
	c.mu.Unlock()
	return nil
}

// Rules returns the cached definitions ordered by priority ascending.
// Equal priorities keep store order.
func (c *Catalog) Rules() []rules.Rule {
	c.mu.RLock()
	out := append([]rules.Rule(nil), c.rules...)
	c.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Put inserts or replaces one definition.
func (c *Catalog) Put(rule rules.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rules {
		if c.rules[i].ID == rule.ID {
			c.rules[i] = rule
			return
		}
	}
	c.rules = append(c.rules, rule)
}

// Remove drops one definition.
func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rules {
		if c.rules[i].ID == id {
			c.rules = append(c.rules[:i:i], c.rules[i+1:]...)
			return
		}
	}
}
