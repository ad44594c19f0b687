// Package alert holds the price-watch data model and its lifecycle state machine.
// Everything here is pure: callers pass the current time explicitly.
package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultExpiry is applied when no explicit expiry is requested.
const DefaultExpiry = 30 * 24 * time.Hour

var (
	// ErrDeleted is returned by every mutation on a deleted alert.
	ErrDeleted = errors.New("alert: deleted alerts are immutable")
	// ErrInvalidTransition is returned when an action is not allowed from the current status.
	ErrInvalidTransition = errors.New("alert: invalid status transition")
	// ErrOutOfOrder rejects an observation older than the newest history entry.
	ErrOutOfOrder = errors.New("alert: observation predates price history")
	// ErrStaleNotification rejects an acknowledgment for a trigger the alert no longer holds.
	ErrStaleNotification = errors.New("alert: notification does not match the current trigger")
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("alert: invalid %s: %s", e.Field, e.Reason)
}

// Type is the travel product being watched.
type Type string

const (
	TypeFlight  Type = "flight"
	TypeHotel   Type = "hotel"
	TypeCar     Type = "car"
	TypePackage Type = "package"
)

// Types lists every supported alert type.
var Types = []Type{TypeFlight, TypeHotel, TypeCar, TypePackage}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusTriggered Status = "triggered"
	StatusExpired   Status = "expired"
	StatusDeleted   Status = "deleted"
)

// Passengers is the traveller composition of a search.
type Passengers struct {
	Adults   int `json:"adults"`
	Children int `json:"children,omitempty"`
	Infants  int `json:"infants,omitempty"`
}

// Search describes what the alert is watching.
type Search struct {
	Origin        string     `json:"origin,omitempty"`
	Destination   string     `json:"destination,omitempty"`
	Location      string     `json:"location,omitempty"`
	DepartureDate *time.Time `json:"departure_date,omitempty"`
	ReturnDate    *time.Time `json:"return_date,omitempty"`
	Passengers    Passengers `json:"passengers"`
	Cabin         string     `json:"cabin,omitempty"`
	Rooms         int        `json:"rooms,omitempty"`
}

// Observation is one entry of an alert's price history.
type Observation struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// Preferences selects notification channels and destinations.
type Preferences struct {
	Email          bool   `json:"email"`
	Push           bool   `json:"push"`
	SMS            bool   `json:"sms"`
	Telegram       bool   `json:"telegram"`
	EmailAddress   string `json:"email_address,omitempty"`
	Phone          string `json:"phone,omitempty"`
	TelegramChatID string `json:"telegram_chat_id,omitempty"`
}

// PriceAlert is a user's price watch.
type PriceAlert struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Type   Type   `json:"type"`
	Search Search `json:"search"`

	TargetPrice   decimal.Decimal  `json:"target_price"`
	Currency      string           `json:"currency"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	When          Condition        `json:"alert_when"`

	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	History       []Observation    `json:"price_history"`
	CheckCount    int              `json:"check_count"`
	LastCheckedAt *time.Time       `json:"last_checked_at,omitempty"`
	CurrentPrice  *decimal.Decimal `json:"current_price,omitempty"`

	TriggeredAt        *time.Time       `json:"triggered_at,omitempty"`
	TriggeredPrice     *decimal.Decimal `json:"triggered_price,omitempty"`
	NotificationSent   bool             `json:"notification_sent"`
	NotificationSentAt *time.Time       `json:"notification_sent_at,omitempty"`

	Notify Preferences `json:"notify"`
}

// Params carries the caller-supplied fields of a new alert.
type Params struct {
	UserID        string
	Type          Type
	Search        Search
	TargetPrice   decimal.Decimal
	Currency      string
	OriginalPrice *decimal.Decimal
	When          Condition
	// Expiry overrides DefaultExpiry when positive.
	Expiry time.Duration
	Notify Preferences
}

// New validates params and builds an active alert created at now.
func New(p Params, now time.Time) (*PriceAlert, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "required"}
	}
	if !p.Type.Valid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", p.Type)}
	}
	if !p.TargetPrice.IsPositive() {
		return nil, &ValidationError{Field: "target_price", Reason: "must be greater than zero"}
	}
	if p.OriginalPrice != nil && !p.OriginalPrice.IsPositive() {
		return nil, &ValidationError{Field: "original_price", Reason: "must be greater than zero"}
	}
	if p.When.Mode == "" {
		p.When.Mode = ModeBelow
	}
	if !p.When.Mode.Valid() {
		return nil, &ValidationError{Field: "alert_when.mode", Reason: fmt.Sprintf("unknown mode %q", p.When.Mode)}
	}
	if err := validateSearch(p.Type, p.Search); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "USD"
	}
	expiry := p.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	search := p.Search
	search.Origin = strings.ToUpper(strings.TrimSpace(search.Origin))
	search.Destination = strings.ToUpper(strings.TrimSpace(search.Destination))
	search.Location = strings.TrimSpace(search.Location)
	if search.Passengers.Adults <= 0 {
		search.Passengers.Adults = 1
	}

	now = now.UTC()
	return &PriceAlert{
		ID:            uuid.NewString(),
		UserID:        p.UserID,
		Type:          p.Type,
		Search:        search,
		TargetPrice:   p.TargetPrice,
		Currency:      currency,
		OriginalPrice: p.OriginalPrice,
		When:          p.When,
		Status:        StatusActive,
		ExpiresAt:     now.Add(expiry),
		CreatedAt:     now,
		UpdatedAt:     now,
		History:       make([]Observation, 0),
		Notify:        p.Notify,
	}, nil
}

func validateSearch(t Type, s Search) error {
	switch t {
	case TypeFlight:
		if strings.TrimSpace(s.Origin) == "" {
			return &ValidationError{Field: "search.origin", Reason: "required for flights"}
		}
		if strings.TrimSpace(s.Destination) == "" {
			return &ValidationError{Field: "search.destination", Reason: "required for flights"}
		}
		if s.DepartureDate == nil {
			return &ValidationError{Field: "search.departure_date", Reason: "required for flights"}
		}
	case TypeHotel, TypeCar:
		if strings.TrimSpace(s.Location) == "" {
			return &ValidationError{Field: "search.location", Reason: fmt.Sprintf("required for %s alerts", t)}
		}
		if t == TypeHotel {
			if s.DepartureDate == nil {
				return &ValidationError{Field: "search.departure_date", Reason: "check-in required for hotels"}
			}
			if s.ReturnDate != nil && !s.ReturnDate.After(*s.DepartureDate) {
				return &ValidationError{Field: "search.return_date", Reason: "check-out must be after check-in"}
			}
		}
	case TypePackage:
		if strings.TrimSpace(s.Destination) == "" && strings.TrimSpace(s.Location) == "" {
			return &ValidationError{Field: "search.destination", Reason: "required for packages"}
		}
	}
	if s.DepartureDate != nil && s.ReturnDate != nil && s.ReturnDate.Before(*s.DepartureDate) {
		return &ValidationError{Field: "search.return_date", Reason: "must not be before departure"}
	}
	return nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (a *PriceAlert) Clone() *PriceAlert {
	if a == nil {
		return nil
	}
	out := *a
	out.History = append(make([]Observation, 0, len(a.History)), a.History...)
	out.Search.DepartureDate = cloneTime(a.Search.DepartureDate)
	out.Search.ReturnDate = cloneTime(a.Search.ReturnDate)
	out.OriginalPrice = cloneDecimal(a.OriginalPrice)
	out.When = a.When.clone()
	out.LastCheckedAt = cloneTime(a.LastCheckedAt)
	out.CurrentPrice = cloneDecimal(a.CurrentPrice)
	out.TriggeredAt = cloneTime(a.TriggeredAt)
	out.TriggeredPrice = cloneDecimal(a.TriggeredPrice)
	out.NotificationSentAt = cloneTime(a.NotificationSentAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
