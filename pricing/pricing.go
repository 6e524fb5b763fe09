// Package pricing maps a ticket tier and quantity to the monetary fields of
// a booking. It performs no I/O; the reference date is always injected.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"masterclass/entity"
)

var hundred = decimal.NewFromInt(100)

type Quote struct {
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
	Currency  string
}

// Calculate prices quantity seats of ticketType at ev on referenceDate.
// Only the calendar date of referenceDate is compared with the early-bird
// deadline, and the deadline day itself is still eligible.
func Calculate(ev entity.CityEvent, ticketType entity.TicketType, quantity int, referenceDate time.Time) (Quote, error) {
	if quantity < entity.MinQuantity || quantity > entity.MaxQuantity {
		return Quote{}, entity.NewValidationError("quantity must be between %d and %d", entity.MinQuantity, entity.MaxQuantity)
	}

	var unitPrice decimal.Decimal
	switch ticketType {
	case entity.TicketRegular, entity.TicketGroup:
		unitPrice = ev.RegularPrice
	case entity.TicketEarlyBird:
		if !earlyBirdAvailable(ev, referenceDate) {
			return Quote{}, entity.NewPricingError("early bird unavailable")
		}
		unitPrice = ev.EarlyBirdPrice.Decimal
	default:
		return Quote{}, entity.NewValidationError("unknown ticket_type %q", ticketType)
	}

	subtotal := entity.Round2(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))

	discount := decimal.Zero
	if ticketType == entity.TicketGroup {
		if quantity < ev.GroupMinimum {
			return Quote{}, entity.NewPricingError("group minimum not met")
		}
		discount = entity.Round2(subtotal.Mul(ev.GroupDiscountPercentage).Div(hundred))
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
		discount = subtotal
	}

	return Quote{
		UnitPrice: entity.Round2(unitPrice),
		Subtotal:  subtotal,
		Discount:  discount,
		Total:     total,
		Currency:  ev.Currency,
	}, nil
}

func earlyBirdAvailable(ev entity.CityEvent, referenceDate time.Time) bool {
	if !ev.EarlyBirdPrice.Valid || ev.EarlyBirdDeadline == nil {
		return false
	}
	deadline := entity.CivilDate(*ev.EarlyBirdDeadline)
	return !entity.CivilDate(referenceDate).After(deadline)
}
