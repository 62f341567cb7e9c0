package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage takes Amount percent of the subtotal.
	TypePercentage Type = "percentage"
	// TypeFixed takes Amount off the subtotal.
	TypeFixed Type = "fixed"
)

// Valid reports whether t is a known discount type.
func (t Type) Valid() bool {
	return t == TypePercentage || t == TypeFixed
}

// ErrInvalidCode is returned when no discount exists for a code.
var ErrInvalidCode = errors.New("invalid discount code")

// ErrNotApplicable matches every reason a known discount cannot be applied.
var ErrNotApplicable = errors.New("discount not applicable")

var (
	ErrInactive          = reason("discount is inactive")
	ErrNotStarted        = reason("discount is not active yet")
	ErrExpired           = reason("discount has expired")
	ErrUsageLimitReached = reason("discount usage limit reached")
	ErrMinPurchaseNotMet = reason("minimum purchase not met")
)

type reasonError struct{ msg string }

func reason(msg string) error { return &reasonError{msg: msg} }

func (e *reasonError) Error() string { return e.msg }

func (e *reasonError) Is(target error) bool { return target == ErrNotApplicable }

// Discount is a promotional code with its eligibility rules and usage counter.
type Discount struct {
	ID          string
	Code        string
	Description string
	Type        Type
	Amount      decimal.Decimal
	StartsAt    time.Time
	EndsAt      time.Time
	MinPurchase decimal.Decimal
	MaxDiscount decimal.NullDecimal
	// UsageLimit of zero means unlimited.
	UsageLimit int
	TimesUsed  int
	Active     bool
}

// Check returns nil when d can be used at now, or the reason it cannot.
// The subtotal-dependent minimum purchase rule is checked by Evaluate.
func (d *Discount) Check(now time.Time) error {
	switch {
	case !d.Active:
		return ErrInactive
	case now.Before(d.StartsAt):
		return ErrNotStarted
	case now.After(d.EndsAt):
		return ErrExpired
	case d.UsageLimit > 0 && d.TimesUsed >= d.UsageLimit:
		return ErrUsageLimitReached
	}
	return nil
}

// IsValid reports whether d can be used at now.
func (d *Discount) IsValid(now time.Time) bool {
	return d.Check(now) == nil
}

// NormalizeCode returns the canonical stored form of a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup of discounts by code.
type Repository interface {
	// FindByCode returns ErrInvalidCode when the code does not exist.
	FindByCode(ctx context.Context, code string) (*Discount, error)
}
