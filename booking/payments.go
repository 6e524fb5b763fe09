package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"masterclass/entity"
)

type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "succeeded"
	PaymentFailed    PaymentOutcome = "failed"
	PaymentRefunded  PaymentOutcome = "refunded"
)

// PaymentEvent is a verified provider notification about one intent.
type PaymentEvent struct {
	ProviderEventID string
	PaymentIntentID string
	Outcome         PaymentOutcome
	ChargeID        string
	RefundID        string
	// Amount is optional; the booking total is recorded when zero.
	Amount   decimal.Decimal
	Currency string
}

// ConfirmPayment applies a succeeded or failed payment to the booking that
// owns the intent. Replays and transitions that are invalid from the current
// state leave the booking unchanged and return it. A success arriving for
// an already cancelled booking is recorded and refunded.
func (s *Service) ConfirmPayment(ctx context.Context, pe PaymentEvent) (entity.Booking, error) {
	if pe.Outcome != PaymentSucceeded && pe.Outcome != PaymentFailed {
		return entity.Booking{}, entity.NewValidationError("unsupported payment outcome %q", pe.Outcome)
	}

	return s.applyPaymentEvent(ctx, pe, func(ctx context.Context, w *work, ev entity.CityEvent, b *entity.Booking) error {
		if pe.Outcome == PaymentFailed {
			if !b.IsAwaitingPayment() {
				return nil
			}
			oldState := b.State()
			if err := b.Fail(w.now); err != nil {
				return err
			}
			if err := s.persistPaymentTransition(ctx, w, *b, pe, entity.PaymentFailed); err != nil {
				return err
			}
			if _, err := w.reconcile(ctx, ev); err != nil {
				return err
			}
			w.audit(w.bookingRecord(entity.AuditBookingFailed, *b, oldState, systemActor))
			return nil
		}

		switch {
		case b.IsAwaitingPayment():
			oldState := b.State()
			if err := b.Confirm(w.now); err != nil {
				return err
			}
			if err := s.persistPaymentTransition(ctx, w, *b, pe, entity.PaymentPaid); err != nil {
				return err
			}
			record := w.bookingRecord(entity.AuditBookingConfirmed, *b, oldState, systemActor)
			record.Amount = moneyOf(*b)
			w.audit(record)

		case b.Status == entity.BookingCancelled &&
			(b.PaymentStatus == entity.PaymentPending || b.PaymentStatus == entity.PaymentFailed):
			oldState := b.State()
			if err := b.MarkPaidAfterCancel(w.now); err != nil {
				return err
			}
			if err := s.persistPaymentTransition(ctx, w, *b, pe, entity.PaymentPaid); err != nil {
				return err
			}
			if err := s.sendRefund(ctx, w, *b, "payment captured after cancellation"); err != nil {
				return err
			}
			record := w.bookingRecord(entity.AuditBookingLatePayment, *b, oldState, systemActor)
			record.Amount = moneyOf(*b)
			w.audit(record)
		}
		return nil
	})
}

// ApplyRefund mirrors a provider refund. A confirmed booking becomes
// (REFUNDED, REFUNDED) and releases its seats; a cancelled one keeps its
// status and moves its payment to REFUNDED.
func (s *Service) ApplyRefund(ctx context.Context, pe PaymentEvent) (entity.Booking, error) {
	return s.applyPaymentEvent(ctx, pe, func(ctx context.Context, w *work, ev entity.CityEvent, b *entity.Booking) error {
		if b.PaymentStatus != entity.PaymentPaid {
			return nil
		}

		oldState := b.State()
		heldSeats := b.Status.HoldsSeats()
		if err := b.Refund(w.now); err != nil {
			return err
		}
		if err := s.persistPaymentTransition(ctx, w, *b, pe, entity.PaymentRefunded); err != nil {
			return err
		}
		if heldSeats {
			if _, err := w.reconcile(ctx, ev); err != nil {
				return err
			}
		}

		record := w.bookingRecord(entity.AuditBookingRefunded, *b, oldState, systemActor)
		record.Amount = moneyOf(*b)
		w.audit(record)
		return nil
	})
}

type paymentTransition func(ctx context.Context, w *work, ev entity.CityEvent, b *entity.Booking) error

func (s *Service) applyPaymentEvent(ctx context.Context, pe PaymentEvent, transition paymentTransition) (entity.Booking, error) {
	if pe.PaymentIntentID == "" {
		return entity.Booking{}, entity.NewValidationError("payment intent id is required")
	}

	current, err := s.store.BookingByPaymentIntent(ctx, pe.PaymentIntentID)
	if errors.Is(err, entity.ErrNotFound) {
		return entity.Booking{}, entity.NewNotFound("booking for payment intent").WithDetail("payment_intent_id", pe.PaymentIntentID)
	}
	if err != nil {
		return entity.Booking{}, fmt.Errorf("could not get booking by payment intent: %w", err)
	}

	var result entity.Booking
	err = s.run(ctx, func(ctx context.Context, w *work) error {
		ev, err := s.lockCityEvent(ctx, w, current.CityEventID)
		if err != nil {
			return err
		}
		b, err := w.tx.LockBookingByPaymentIntent(ctx, pe.PaymentIntentID)
		if err != nil {
			return fmt.Errorf("could not lock booking: %w", err)
		}

		if pe.ProviderEventID != "" {
			first, err := w.tx.MarkWebhookEventProcessed(ctx, pe.ProviderEventID)
			if err != nil {
				return fmt.Errorf("could not mark provider event processed: %w", err)
			}
			if !first {
				log.FromContext(ctx).WithFields(logrus.Fields{
					"provider_event_id": pe.ProviderEventID,
					"booking_reference": b.BookingReference,
				}).Info("Provider event already processed")
				result = b
				return nil
			}
		}

		if err := transition(ctx, w, ev, &b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return entity.Booking{}, err
	}

	return result, nil
}

func (s *Service) persistPaymentTransition(ctx context.Context, w *work, b entity.Booking, pe PaymentEvent, status entity.PaymentStatus) error {
	if err := w.tx.UpdateBooking(ctx, b); err != nil {
		return fmt.Errorf("could not update booking: %w", err)
	}

	amount, currency := b.Total, b.Currency
	if !pe.Amount.IsZero() {
		amount = pe.Amount
	}
	if pe.Currency != "" {
		currency = pe.Currency
	}

	payment := entity.BookingPayment{
		BookingID:       b.ID,
		PaymentIntentID: pe.PaymentIntentID,
		Amount:          entity.Round2(amount),
		Currency:        currency,
		Status:          status,
		CreatedAt:       w.now,
	}
	if pe.ChargeID != "" {
		payment.StripeChargeID = &pe.ChargeID
	}
	if pe.RefundID != "" {
		payment.RefundID = &pe.RefundID
	}

	inserted, err := w.tx.InsertPayment(ctx, payment)
	if err != nil {
		return fmt.Errorf("could not insert payment: %w", err)
	}
	if !inserted {
		log.FromContext(ctx).WithFields(logrus.Fields{
			"payment_intent_id": pe.PaymentIntentID,
			"status":            status,
		}).Warn("Payment row already recorded")
	}
	return nil
}
