package application

import (
	"context"
	"errors"
	"sync"

	"roomwatch/internal/observability/metrics"
)

// OpenEventCounter counts unacknowledged alert events.
type OpenEventCounter interface {
	CountOpenEvents(ctx context.Context) (int, error)
}

// Badge caches the unacknowledged event count and announces changes.
type Badge struct {
	counter OpenEventCounter

	mu        sync.Mutex
	count     int
	loaded    bool
	listeners []func(count int)
}

// NewBadge constructs a badge.
func NewBadge(counter OpenEventCounter) (*Badge, error) {
	if counter == nil {
		return nil, errors.New("alerts badge: nil counter")
	}
	return &Badge{counter: counter}, nil
}

// OnChange registers a listener called with the new count after it changes.
func (b *Badge) OnChange(fn func(count int)) {
	if b == nil || fn == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Refresh recounts open events from the store.
func (b *Badge) Refresh(ctx context.Context) (int, error) {
	if b == nil {
		return 0, errors.New("alerts badge: nil badge")
	}
	count, err := b.counter.CountOpenEvents(ctx)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	changed := !b.loaded || b.count != count
	b.count = count
	b.loaded = true
	listeners := append([]func(int){}, b.listeners...)
	b.mu.Unlock()

	metrics.SetOpenAlertEvents(count)
	if changed {
		for _, fn := range listeners {
			fn(count)
		}
	}
	return count, nil
}

// Count returns the last refreshed count.
func (b *Badge) Count() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
