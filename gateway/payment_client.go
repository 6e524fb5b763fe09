package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"masterclass/entity"
	"masterclass/metrics"
	"masterclass/payment"
)

type PaymentClient struct {
	api           *client.API
	webhookSecret string
}

func NewPaymentClient(secretKey, webhookSecret string, timeout time.Duration) PaymentClient {
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	return PaymentClient{
		api:           client.New(secretKey, stripe.NewBackends(httpClient)),
		webhookSecret: webhookSecret,
	}
}

func (c PaymentClient) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(entity.MinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		ReceiptEmail: stripe.String(req.Email),
	}
	params.Context = ctx
	params.SetIdempotencyKey("intent-" + req.BookingReference)
	params.AddMetadata("booking_reference", req.BookingReference)

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return payment.Intent{}, fmt.Errorf("could not create payment intent: %w", err)
	}

	return payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

func (c PaymentClient) CancelPaymentIntent(ctx context.Context, paymentIntentID string) error {
	start := time.Now()
	defer func() {
		metrics.PaymentProviderDuration.WithLabelValues("cancel_intent").Observe(time.Since(start).Seconds())
	}()

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	_, err := c.api.PaymentIntents.Cancel(paymentIntentID, params)
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) || stripeErr.Code != stripe.ErrorCodePaymentIntentUnexpectedState {
		return fmt.Errorf("could not cancel payment intent %s: %w", paymentIntentID, err)
	}

	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx
	pi, getErr := c.api.PaymentIntents.Get(paymentIntentID, getParams)
	if getErr != nil {
		return fmt.Errorf("could not get payment intent %s: %w", paymentIntentID, getErr)
	}
	if pi.Status == stripe.PaymentIntentStatusCanceled {
		return nil
	}

	log.FromContext(ctx).WithField("payment_intent_id", paymentIntentID).
		WithField("status", pi.Status).
		Info("Payment intent cannot be cancelled")
	return entity.ErrIntentNotCancellable
}

func (c PaymentClient) RefundPayment(ctx context.Context, command entity.RefundBookingPayment_v1) error {
	start := time.Now()
	defer func() {
		metrics.PaymentProviderDuration.WithLabelValues("refund").Observe(time.Since(start).Seconds())
	}()

	amount, err := command.Amount.Decimal()
	if err != nil {
		return err
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(command.PaymentIntentID),
		Amount:        stripe.Int64(entity.MinorUnits(amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(command.Header.IdempotencyKey)
	params.AddMetadata("booking_reference", command.BookingReference)
	params.AddMetadata("reason", command.Reason)

	_, err = c.api.Refunds.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			return nil
		}
		return fmt.Errorf("could not refund payment intent %s: %w", command.PaymentIntentID, err)
	}

	return nil
}

func (c PaymentClient) ParseWebhook(payload []byte, signatureHeader string) (payment.ProviderEvent, error) {
	return ParseStripeEvent(payload, signatureHeader, c.webhookSecret)
}
