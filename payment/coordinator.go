// Package payment creates payment intents for pending bookings and turns
// verified provider webhooks into booking transitions.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"masterclass/booking"
	"masterclass/entity"
	"masterclass/metrics"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type IntentRequest struct {
	BookingReference string
	Email            string
	Amount           decimal.Decimal
	Currency         string
}

type Intent struct {
	ID           string
	ClientSecret string
}

// ProviderEvent is a webhook event whose signature has been verified.
type ProviderEvent struct {
	ID              string
	Type            string
	PaymentIntentID string
	ChargeID        string
	RefundID        string
	Amount          decimal.Decimal
	Currency        string
}

type Provider interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CancelPaymentIntent(ctx context.Context, paymentIntentID string) error
	// ParseWebhook returns an error wrapping ErrInvalidSignature when the
	// payload is not signed with the shared secret.
	ParseWebhook(payload []byte, signatureHeader string) (ProviderEvent, error)
}

type Bookings interface {
	AttachPaymentIntent(ctx context.Context, reference, paymentIntentID string) (entity.Booking, error)
	ConfirmPayment(ctx context.Context, pe booking.PaymentEvent) (entity.Booking, error)
	ApplyRefund(ctx context.Context, pe booking.PaymentEvent) (entity.Booking, error)
}

type Coordinator struct {
	provider   Provider
	bookings   Bookings
	eventTypes EventTypes
	currency   string
	timeout    time.Duration
}

func NewCoordinator(provider Provider, bookings Bookings, eventTypes EventTypes, currency string, timeout time.Duration) *Coordinator {
	if provider == nil {
		panic("provider is nil")
	}
	if bookings == nil {
		panic("bookings is nil")
	}
	if timeout <= 0 {
		panic("timeout must be positive")
	}

	return &Coordinator{
		provider:   provider,
		bookings:   bookings,
		eventTypes: eventTypes,
		currency:   currency,
		timeout:    timeout,
	}
}

// CreateIntent requests an intent for a committed PENDING booking and
// stores its id on the booking. On failure the booking stays PENDING
// without an intent and is left to the orphan sweeper.
func (c *Coordinator) CreateIntent(ctx context.Context, b entity.Booking) (entity.Booking, string, error) {
	currency := b.Currency
	if currency == "" {
		currency = c.currency
	}

	logger := log.FromContext(ctx).WithFields(logrus.Fields{
		"booking_reference": b.BookingReference,
		"city_event_id":     b.CityEventID,
	})

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	intent, err := c.provider.CreatePaymentIntent(callCtx, IntentRequest{
		BookingReference: b.BookingReference,
		Email:            b.AttendeeEmail,
		Amount:           b.Total,
		Currency:         currency,
	})
	metrics.PaymentProviderDuration.WithLabelValues("create_intent").Observe(time.Since(start).Seconds())
	if err != nil {
		logger.WithError(err).Error("Could not create payment intent")
		return b, "", entity.NewPaymentProviderError("payment intent creation failed", err).
			WithDetail("booking_reference", b.BookingReference)
	}

	updated, err := c.bookings.AttachPaymentIntent(ctx, b.BookingReference, intent.ID)
	if err != nil {
		logger.WithError(err).WithField("payment_intent_id", intent.ID).Warn("Could not attach payment intent, cancelling it")
		if cancelErr := c.provider.CancelPaymentIntent(ctx, intent.ID); cancelErr != nil {
			logger.WithError(cancelErr).Error("Could not cancel unattached payment intent")
		}
		return b, "", err
	}

	return updated, intent.ClientSecret, nil
}

type WebhookResult string

const (
	WebhookApplied WebhookResult = "applied"
	WebhookIgnored WebhookResult = "ignored"
	WebhookUnknown WebhookResult = "unknown_intent"
)

// HandleWebhook verifies and applies one provider event. Events for
// unknown intents and unmapped event types are logged and dropped.
func (c *Coordinator) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (WebhookResult, error) {
	ev, err := c.provider.ParseWebhook(payload, signatureHeader)
	if err != nil {
		metrics.PaymentWebhooks.WithLabelValues("rejected").Inc()
		return "", entity.NewPaymentProviderError("webhook rejected", err)
	}

	logger := log.FromContext(ctx).WithFields(logrus.Fields{
		"provider_event_id":   ev.ID,
		"provider_event_type": ev.Type,
		"payment_intent_id":   ev.PaymentIntentID,
	})

	outcome, ok := c.eventTypes.Outcome(ev.Type)
	if !ok || ev.PaymentIntentID == "" {
		logger.Debug("Ignoring provider event")
		metrics.PaymentWebhooks.WithLabelValues(string(WebhookIgnored)).Inc()
		return WebhookIgnored, nil
	}

	pe := booking.PaymentEvent{
		ProviderEventID: ev.ID,
		PaymentIntentID: ev.PaymentIntentID,
		Outcome:         outcome,
		ChargeID:        ev.ChargeID,
		RefundID:        ev.RefundID,
		Amount:          ev.Amount,
		Currency:        ev.Currency,
	}

	var b entity.Booking
	if outcome == booking.PaymentRefunded {
		b, err = c.bookings.ApplyRefund(ctx, pe)
	} else {
		b, err = c.bookings.ConfirmPayment(ctx, pe)
	}
	if entity.KindOf(err) == entity.KindNotFound {
		logger.Warn("Dropping provider event for unknown payment intent")
		metrics.PaymentWebhooks.WithLabelValues(string(WebhookUnknown)).Inc()
		return WebhookUnknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("could not apply %s event: %w", ev.Type, err)
	}

	logger.WithFields(logrus.Fields{
		"booking_reference": b.BookingReference,
		"state":             b.State(),
	}).Info("Provider event applied")
	metrics.PaymentWebhooks.WithLabelValues(string(WebhookApplied)).Inc()

	return WebhookApplied, nil
}
