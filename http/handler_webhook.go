package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"masterclass/entity"
	"masterclass/payment"
)

const signatureHeader = "Stripe-Signature"

const maxWebhookPayload = 64 << 10

type webhookResponse struct {
	Result string `json:"result"`
}

// PostPaymentWebhook answers 400 to payloads that fail verification and 200
// to replays and events it does not act on, so the provider stops retrying.
func (s Server) PostPaymentWebhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookPayload+1))
	if err != nil {
		return fmt.Errorf("could not read webhook payload: %w", err)
	}
	if len(payload) > maxWebhookPayload {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "webhook payload exceeds 64 KiB")
	}

	result, err := s.payments.HandleWebhook(c.Request().Context(), payload, c.Request().Header.Get(signatureHeader))
	if errors.Is(err, payment.ErrInvalidSignature) || entity.KindOf(err) == entity.KindPaymentProvider {
		return errorJSON(c, http.StatusBadRequest, string(entity.KindPaymentProvider), "webhook verification failed")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, webhookResponse{Result: string(result)})
}
