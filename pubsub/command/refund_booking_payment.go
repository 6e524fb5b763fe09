package command

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/sirupsen/logrus"

	"masterclass/entity"
)

// RefundBookingPaymentHandler asks the provider for the refund. The booking
// itself moves to REFUNDED only when the provider's refund webhook arrives.
func (h Handler) RefundBookingPaymentHandler() cqrs.CommandHandler {
	return cqrs.NewCommandHandler(
		"RefundBookingPaymentHandler",
		func(ctx context.Context, cmd *entity.RefundBookingPayment_v1) error {
			log.FromContext(ctx).WithFields(logrus.Fields{
				"booking_reference": cmd.BookingReference,
				"payment_intent_id": cmd.PaymentIntentID,
			}).Info("Refunding booking payment")

			if err := h.paymentService.RefundPayment(ctx, *cmd); err != nil {
				return fmt.Errorf("failed to refund payment %s: %w", cmd.PaymentIntentID, err)
			}
			return nil
		},
	)
}
