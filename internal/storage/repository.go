package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pricewatch/internal/alert"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when no alert has the requested id.
	ErrNotFound = errors.New("storage: alert not found")
	// ErrPersistence matches every PersistenceError.
	ErrPersistence = errors.New("storage: persistence failure")
)

// PersistenceError wraps a failed read or write against the backing store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// ListOptions filter FindByUser.
type ListOptions struct {
	Status         alert.Status
	Type           alert.Type
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// Stats counts a user's alerts. Deleted alerts are excluded.
type Stats struct {
	Total     int                `json:"total"`
	Active    int                `json:"active"`
	Triggered int                `json:"triggered"`
	Paused    int                `json:"paused"`
	Expired   int                `json:"expired"`
	ByType    map[alert.Type]int `json:"by_type"`
}

func (s *Stats) add(status alert.Status, typ alert.Type, n int) {
	if status == alert.StatusDeleted {
		return
	}
	if s.ByType == nil {
		s.ByType = make(map[alert.Type]int)
	}
	s.Total += n
	s.ByType[typ] += n
	switch status {
	case alert.StatusActive:
		s.Active += n
	case alert.StatusTriggered:
		s.Triggered += n
	case alert.StatusPaused:
		s.Paused += n
	case alert.StatusExpired:
		s.Expired += n
	}
}

// Repository is the Alert Store. It exclusively owns persisted alerts; callers
// receive copies and write back through Update.
type Repository interface {
	Create(ctx context.Context, a *alert.PriceAlert) (*alert.PriceAlert, error)
	FindByID(ctx context.Context, id string) (*alert.PriceAlert, error)
	FindByUser(ctx context.Context, userID string, opts ListOptions) ([]*alert.PriceAlert, error)
	// FindActive expires alerts whose deadline passed and returns the remaining active ones.
	FindActive(ctx context.Context, now time.Time) ([]*alert.PriceAlert, error)
	// FindPendingNotifications returns triggered alerts whose dispatch was never acknowledged.
	FindPendingNotifications(ctx context.Context) ([]*alert.PriceAlert, error)
	// Update applies mutate atomically. A mutate error aborts the write.
	Update(ctx context.Context, id string, mutate func(*alert.PriceAlert) error) (*alert.PriceAlert, error)
	// Save overwrites a stored alert. Deleted alerts are never overwritten.
	Save(ctx context.Context, a *alert.PriceAlert) error
	// Delete soft-deletes the alert. It reports false when nothing was deleted.
	Delete(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, userID string) (Stats, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

func applyDelete(a *alert.PriceAlert) (bool, error) {
	if err := a.Delete(time.Now()); err != nil {
		if errors.Is(err, alert.ErrDeleted) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
