package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pricewatch/internal/alert"
)

// Memory is a volatile Repository used by tests and the simulate command.
type Memory struct {
	mu     sync.Mutex
	alerts map[string]*alert.PriceAlert
}

var _ Repository = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{alerts: make(map[string]*alert.PriceAlert)}
}

func (m *Memory) Create(_ context.Context, a *alert.PriceAlert) (*alert.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = a.Clone()
	return a.Clone(), nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*alert.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) FindByUser(_ context.Context, userID string, opts ListOptions) ([]*alert.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*alert.PriceAlert
	for _, a := range m.alerts {
		if a.UserID != userID {
			continue
		}
		if a.Status == alert.StatusDeleted && !opts.IncludeDeleted && opts.Status != alert.StatusDeleted {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		if opts.Type != "" && a.Type != opts.Type {
			continue
		}
		result = append(result, a.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *Memory) FindActive(_ context.Context, now time.Time) ([]*alert.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*alert.PriceAlert
	for _, a := range m.alerts {
		if a.RefreshStatus(now) == alert.StatusActive {
			result = append(result, a.Clone())
		}
	}
	sortByCreated(result)
	return result, nil
}

func (m *Memory) FindPendingNotifications(_ context.Context) ([]*alert.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*alert.PriceAlert
	for _, a := range m.alerts {
		if a.PendingNotification() {
			result = append(result, a.Clone())
		}
	}
	sortByCreated(result)
	return result, nil
}

// Update runs mutate on a copy and stores it only when mutate succeeds.
func (m *Memory) Update(_ context.Context, id string, mutate func(*alert.PriceAlert) error) (*alert.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	m.alerts[id] = next
	return next.Clone(), nil
}

func (m *Memory) Save(_ context.Context, a *alert.PriceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.alerts[a.ID]
	if !ok || current.Status == alert.StatusDeleted {
		return ErrNotFound
	}
	m.alerts[a.ID] = a.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return false, nil
	}
	return applyDelete(a)
}

func (m *Memory) Stats(_ context.Context, userID string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{ByType: make(map[alert.Type]int)}
	for _, a := range m.alerts {
		if a.UserID == userID {
			stats.add(a.Status, a.Type, 1)
		}
	}
	return stats, nil
}

func sortByCreated(alerts []*alert.PriceAlert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
}
