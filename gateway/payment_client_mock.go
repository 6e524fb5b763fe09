package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/lithammer/shortuuid/v3"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76/webhook"

	"masterclass/entity"
	"masterclass/payment"
)

type PaymentMock struct {
	mock sync.Mutex

	WebhookSecret string
	FailCreate    bool

	Intents          map[string]payment.IntentRequest
	CancelledIntents map[string]bool
	NotCancellable   map[string]bool
	Refunds          map[string]entity.RefundBookingPayment_v1
}

func (c *PaymentMock) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	c.mock.Lock()
	defer c.mock.Unlock()

	if c.FailCreate {
		return payment.Intent{}, errors.New("payment provider unavailable")
	}
	if c.Intents == nil {
		c.Intents = make(map[string]payment.IntentRequest)
	}

	id := "pi_" + shortuuid.New()
	c.Intents[id] = req

	return payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + shortuuid.New(),
	}, nil
}

func (c *PaymentMock) CancelPaymentIntent(ctx context.Context, paymentIntentID string) error {
	c.mock.Lock()
	defer c.mock.Unlock()

	if c.NotCancellable[paymentIntentID] {
		return entity.ErrIntentNotCancellable
	}
	if c.CancelledIntents == nil {
		c.CancelledIntents = make(map[string]bool)
	}

	c.CancelledIntents[paymentIntentID] = true

	return nil
}

func (c *PaymentMock) RefundPayment(ctx context.Context, command entity.RefundBookingPayment_v1) error {
	c.mock.Lock()
	defer c.mock.Unlock()

	if c.Refunds == nil {
		c.Refunds = make(map[string]entity.RefundBookingPayment_v1)
	}

	c.Refunds[command.Header.IdempotencyKey] = command

	return nil
}

func (c *PaymentMock) ParseWebhook(payload []byte, signatureHeader string) (payment.ProviderEvent, error) {
	return ParseStripeEvent(payload, signatureHeader, c.WebhookSecret)
}

func (c *PaymentMock) IntentFor(bookingReference string) (string, bool) {
	c.mock.Lock()
	defer c.mock.Unlock()

	for id, req := range c.Intents {
		if req.BookingReference == bookingReference {
			return id, true
		}
	}
	return "", false
}

func (c *PaymentMock) RefundCount() int {
	c.mock.Lock()
	defer c.mock.Unlock()

	return len(c.Refunds)
}

func (c *PaymentMock) IsCancelled(paymentIntentID string) bool {
	c.mock.Lock()
	defer c.mock.Unlock()

	return c.CancelledIntents[paymentIntentID]
}

// SignedWebhook builds a Stripe event payload for paymentIntentID and signs
// it with the mock's webhook secret.
func (c *PaymentMock) SignedWebhook(eventID, eventType, paymentIntentID string, amount decimal.Decimal, currency string) ([]byte, string) {
	object := map[string]any{
		"currency": strings.ToLower(currency),
	}
	if strings.HasPrefix(eventType, "charge.") {
		object["id"] = "ch_" + shortuuid.New()
		object["object"] = "charge"
		object["payment_intent"] = paymentIntentID
		object["amount_refunded"] = entity.MinorUnits(amount)
		object["refunds"] = map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": "re_" + shortuuid.New(), "object": "refund"}},
		}
	} else {
		object["id"] = paymentIntentID
		object["object"] = "payment_intent"
		object["amount"] = entity.MinorUnits(amount)
		object["latest_charge"] = "ch_" + shortuuid.New()
	}

	payload, err := json.Marshal(map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  c.WebhookSecret,
	})

	return signed.Payload, signed.Header
}
