package alert

import "github.com/shopspring/decimal"

// Mode selects how a price is compared against the alert criteria.
type Mode string

const (
	ModeBelow            Mode = "below"
	ModeDropByPercentage Mode = "drop_by_percentage"
	ModeDropByAmount     Mode = "drop_by_amount"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeBelow, ModeDropByPercentage, ModeDropByAmount:
		return true
	}
	return false
}

var hundred = decimal.NewFromInt(100)

// Condition is the alertWhen criterion.
type Condition struct {
	Mode       Mode             `json:"mode"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
}

// Complete reports whether the threshold field required by the mode is set.
// Incomplete drop conditions are accepted but can never fire.
func (c Condition) Complete() bool {
	switch c.Mode {
	case ModeDropByPercentage:
		return c.Percentage != nil
	case ModeDropByAmount:
		return c.Amount != nil
	}
	return true
}

// Satisfied evaluates the condition for price. All comparisons are boundary inclusive.
func (c Condition) Satisfied(price, target decimal.Decimal, original *decimal.Decimal) bool {
	switch c.Mode {
	case ModeBelow:
		return price.LessThanOrEqual(target)
	case ModeDropByPercentage:
		if original == nil || c.Percentage == nil || original.IsZero() {
			return false
		}
		dropPct := original.Sub(price).Div(*original).Mul(hundred)
		return dropPct.GreaterThanOrEqual(*c.Percentage)
	case ModeDropByAmount:
		if original == nil || c.Amount == nil {
			return false
		}
		return original.Sub(price).GreaterThanOrEqual(*c.Amount)
	}
	return false
}

func (c Condition) clone() Condition {
	return Condition{Mode: c.Mode, Percentage: cloneDecimal(c.Percentage), Amount: cloneDecimal(c.Amount)}
}
