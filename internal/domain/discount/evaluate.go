package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate computes the amount d takes off subtotal at now. The result is
// rounded to cents and always lies in [0, subtotal]. Evaluate does not
// consume a use of the discount.
func Evaluate(d *Discount, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if err := d.Check(now); err != nil {
		return decimal.Zero, err
	}
	if subtotal.LessThan(d.MinPurchase) {
		return decimal.Zero, ErrMinPurchaseNotMet
	}

	var amount decimal.Decimal
	switch d.Type {
	case TypePercentage:
		amount = subtotal.Mul(d.Amount).Div(hundred)
	case TypeFixed:
		amount = d.Amount
	default:
		return decimal.Zero, reason("unknown discount type " + string(d.Type))
	}

	if d.MaxDiscount.Valid {
		amount = decimal.Min(amount, d.MaxDiscount.Decimal)
	}
	amount = decimal.Min(amount, subtotal)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2), nil
}
