package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"masterclass/entity"
	"masterclass/payment"
)

// ParseStripeEvent verifies the Stripe-Signature header of payload and
// extracts the intent, charge and refund it refers to.
func ParseStripeEvent(payload []byte, signatureHeader, secret string) (payment.ProviderEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return payment.ProviderEvent{}, fmt.Errorf("%w: %s", payment.ErrInvalidSignature, err)
	}

	out := payment.ProviderEvent{
		ID:   ev.ID,
		Type: string(ev.Type),
	}
	if ev.Data == nil {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return out, fmt.Errorf("could not decode payment intent of event %s: %w", ev.ID, err)
		}
		out.PaymentIntentID = pi.ID
		out.Amount = entity.FromMinorUnits(pi.Amount)
		out.Currency = strings.ToUpper(string(pi.Currency))
		if pi.LatestCharge != nil {
			out.ChargeID = pi.LatestCharge.ID
		}

	case strings.HasPrefix(out.Type, "charge."):
		var charge stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &charge); err != nil {
			return out, fmt.Errorf("could not decode charge of event %s: %w", ev.ID, err)
		}
		out.ChargeID = charge.ID
		out.Currency = strings.ToUpper(string(charge.Currency))
		if charge.PaymentIntent != nil {
			out.PaymentIntentID = charge.PaymentIntent.ID
		}
		if charge.AmountRefunded > 0 {
			out.Amount = entity.FromMinorUnits(charge.AmountRefunded)
		}
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 {
			out.RefundID = charge.Refunds.Data[0].ID
		}
	}

	return out, nil
}
