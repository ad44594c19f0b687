package alert

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDeleted
}

// RefreshStatus lazily expires an active or paused alert once now passes ExpiresAt.
// It returns the resulting status.
func (a *PriceAlert) RefreshStatus(now time.Time) Status {
	if (a.Status == StatusActive || a.Status == StatusPaused) && now.After(a.ExpiresAt) {
		a.Status = StatusExpired
		a.UpdatedAt = now.UTC()
	}
	return a.Status
}

// Pause moves an active alert to paused.
func (a *PriceAlert) Pause(now time.Time) error {
	return a.transition(now, StatusActive, StatusPaused)
}

// Resume moves a paused alert back to active.
func (a *PriceAlert) Resume(now time.Time) error {
	return a.transition(now, StatusPaused, StatusActive)
}

// Rearm returns a triggered alert to active so it can fire again. This is the
// only way out of triggered; the previous trigger fields stay until the next
// trigger overwrites them, and the notification gate is reopened.
func (a *PriceAlert) Rearm(now time.Time) error {
	if err := a.transition(now, StatusTriggered, StatusActive); err != nil {
		return err
	}
	a.NotificationSent = false
	a.NotificationSentAt = nil
	a.RefreshStatus(now)
	return nil
}

// Delete marks the alert deleted. Deleting twice returns ErrDeleted.
func (a *PriceAlert) Delete(now time.Time) error {
	if a.Status == StatusDeleted {
		return ErrDeleted
	}
	a.Status = StatusDeleted
	a.UpdatedAt = now.UTC()
	return nil
}

func (a *PriceAlert) transition(now time.Time, from, to Status) error {
	if a.Status == StatusDeleted {
		return ErrDeleted
	}
	a.RefreshStatus(now)
	if a.Status != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	a.Status = to
	a.UpdatedAt = now.UTC()
	return nil
}

// Touch records a check that produced no price.
func (a *PriceAlert) Touch(now time.Time) error {
	if a.Status == StatusDeleted {
		return ErrDeleted
	}
	now = now.UTC()
	a.RefreshStatus(now)
	a.LastCheckedAt = &now
	a.UpdatedAt = now
	return nil
}

// CheckPrice records an observed price and evaluates the trigger condition.
// It returns true only when this call moved the alert from active to triggered.
func (a *PriceAlert) CheckPrice(price decimal.Decimal, source string, now time.Time) (bool, error) {
	if a.Status == StatusDeleted {
		return false, ErrDeleted
	}
	now = now.UTC()
	if n := len(a.History); n > 0 && now.Before(a.History[n-1].Timestamp) {
		return false, ErrOutOfOrder
	}

	a.RefreshStatus(now)

	a.History = append(a.History, Observation{Price: price, Timestamp: now, Source: source})
	a.CheckCount++
	a.LastCheckedAt = &now
	current := price
	a.CurrentPrice = &current
	a.UpdatedAt = now

	if a.Status != StatusActive {
		return false, nil
	}
	if !a.When.Satisfied(price, a.TargetPrice, a.OriginalPrice) {
		return false, nil
	}

	triggeredAt := now
	triggeredPrice := price
	a.Status = StatusTriggered
	a.TriggeredAt = &triggeredAt
	a.TriggeredPrice = &triggeredPrice
	return true, nil
}

// MarkNotified records a successful dispatch acknowledgment for the trigger
// that fired at triggeredAt. A rearm or a newer trigger since the dispatch
// makes the acknowledgment stale and leaves the alert untouched.
func (a *PriceAlert) MarkNotified(triggeredAt, now time.Time) error {
	if a.Status == StatusDeleted {
		return ErrDeleted
	}
	if a.Status != StatusTriggered || a.TriggeredAt == nil || !sameInstant(*a.TriggeredAt, triggeredAt) {
		return ErrStaleNotification
	}
	now = now.UTC()
	a.NotificationSent = true
	a.NotificationSentAt = &now
	a.UpdatedAt = now
	return nil
}

// PendingNotification reports whether a trigger is still waiting for an acknowledged dispatch.
func (a *PriceAlert) PendingNotification() bool {
	return a.Status == StatusTriggered && !a.NotificationSent
}

// sameInstant compares at the precision timestamps survive storage with.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}
