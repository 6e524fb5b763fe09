package entity

import "github.com/shopspring/decimal"

type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{
		Amount:   amount.StringFixed(2),
		Currency: currency,
	}
}

// Round2 rounds half away from zero, which is half-up for the non-negative
// amounts handled here.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MinorUnits converts a two-digit amount to cents.
func MinorUnits(d decimal.Decimal) int64 {
	return Round2(d).Shift(2).IntPart()
}

func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func (m Money) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return decimal.Zero, NewValidationError("invalid amount %q", m.Amount)
	}
	return d, nil
}
