package payment

import (
	"strings"

	"github.com/samber/lo"

	"masterclass/booking"
)

// EventTypes maps provider event types to booking payment outcomes. It is
// the only place where provider event names are interpreted.
type EventTypes struct {
	Succeeded []string
	Failed    []string
	Refunded  []string
}

func DefaultEventTypes() EventTypes {
	return EventTypes{
		Succeeded: []string{"payment_intent.succeeded"},
		Failed:    []string{"payment_intent.payment_failed", "payment_intent.canceled"},
		Refunded:  []string{"charge.refunded"},
	}
}

// WithFailed replaces the failure event types with a comma separated list.
// Blank input keeps the defaults.
func (t EventTypes) WithFailed(commaSeparated string) EventTypes {
	failed := lo.Compact(lo.Map(strings.Split(commaSeparated, ","), func(eventType string, _ int) string {
		return strings.TrimSpace(eventType)
	}))
	if len(failed) > 0 {
		t.Failed = failed
	}
	return t
}

func (t EventTypes) Outcome(eventType string) (booking.PaymentOutcome, bool) {
	switch {
	case lo.Contains(t.Succeeded, eventType):
		return booking.PaymentSucceeded, true
	case lo.Contains(t.Failed, eventType):
		return booking.PaymentFailed, true
	case lo.Contains(t.Refunded, eventType):
		return booking.PaymentRefunded, true
	}
	return "", false
}
