package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	rules "roomwatch/internal/rules/domain"
)

// Repository is an in-memory rule store for demo/testing.
type Repository struct {
	mu    sync.RWMutex
	order []string
	rules map[string]rules.Rule
	logs  map[string][]rules.FireLog

	// FailLogs makes AppendFireLog fail, for exercising soft failures.
	FailLogs error
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{
		rules: make(map[string]rules.Rule),
		logs:  make(map[string][]rules.FireLog),
	}
}

// ListRules returns definitions in insertion order.
func (r *Repository) ListRules(ctx context.Context) ([]rules.Rule, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rules.Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneRule(r.rules[id]))
	}
	return out, nil
}

// GetRule returns nil when the rule does not exist.
func (r *Repository) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, nil
	}
	out := cloneRule(rule)
	return &out, nil
}

// CreateRule stores a new definition.
func (r *Repository) CreateRule(ctx context.Context, rule *rules.Rule) error {
	_ = ctx
	if rule == nil || rule.ID == "" {
		return errors.New("rule memory repo: invalid rule")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.ID]; ok {
		return errors.New("rule memory repo: duplicate id")
	}
	r.order = append(r.order, rule.ID)
	r.rules[rule.ID] = cloneRule(*rule)
	return nil
}

// UpdateRule replaces a definition.
func (r *Repository) UpdateRule(ctx context.Context, rule *rules.Rule) error {
	_ = ctx
	if rule == nil {
		return errors.New("rule memory repo: nil rule")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.ID]; !ok {
		return rules.ErrNotFound
	}
	r.rules[rule.ID] = cloneRule(*rule)
	return nil
}

// DeleteRule removes a definition. Fire logs are kept.
func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return rules.ErrNotFound
	}
	delete(r.rules, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateMetadata records fire bookkeeping. The fire count never decreases.
func (r *Repository) UpdateMetadata(ctx context.Context, id string, meta rules.Metadata) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return rules.ErrNotFound
	}
	at := meta.LastFiredAt.UTC()
	rule.LastFiredAt = &at
	if meta.FireCount > rule.FireCount {
		rule.FireCount = meta.FireCount
	}
	r.rules[id] = rule
	return nil
}

// AppendFireLog appends one fire entry.
func (r *Repository) AppendFireLog(ctx context.Context, ruleID string, log rules.FireLog) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailLogs != nil {
		return r.FailLogs
	}
	log.Actions = append([]rules.AppliedAction{}, log.Actions...)
	r.logs[ruleID] = append(r.logs[ruleID], log)
	return nil
}

// ListFireLogs returns the newest limit entries, oldest first.
func (r *Repository) ListFireLogs(ctx context.Context, ruleID string, limit int) ([]rules.FireLog, error) {
	_ = ctx
	limit = rules.ClampLogLimit(limit)
	r.mu.RLock()
	out := append([]rules.FireLog{}, r.logs[ruleID]...)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func cloneRule(rule rules.Rule) rules.Rule {
	rule.Conditions = append(rules.ConditionSet{}, rule.Conditions...)
	rule.Actions = append(rules.ActionList{}, rule.Actions...)
	if rule.LastFiredAt != nil {
		at := *rule.LastFiredAt
		rule.LastFiredAt = &at
	}
	return rule
}
