package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/sirupsen/logrus"

	"masterclass/entity"
)

const (
	sweeperActor          = "system:orphan-sweeper"
	defaultSweepBatchSize = 100
)

// ExpireOrphans fails bookings that have awaited payment for longer than
// ttl, counted from booking creation, and releases their seats. Bookings
// with an intent are expired only once the provider confirms the intent
// was cancelled; captured intents are left to their webhook. Skipped
// bookings do not hold back the ones after them.
func (s *Service) ExpireOrphans(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-ttl)
	limit := s.sweepBatchSize
	if limit <= 0 {
		limit = defaultSweepBatchSize
	}

	expired := 0
	var cursor StaleCursor
	for {
		stale, err := s.store.StalePendingBookings(ctx, cutoff, cursor, limit)
		if err != nil {
			return expired, fmt.Errorf("could not list stale bookings: %w", err)
		}

		n, err := s.expirePage(ctx, stale)
		expired += n
		if err != nil {
			return expired, err
		}

		if len(stale) < limit {
			return expired, nil
		}
		last := stale[len(stale)-1]
		cursor = StaleCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

func (s *Service) expirePage(ctx context.Context, stale []entity.Booking) (int, error) {
	expired := 0
	for _, b := range stale {
		logger := log.FromContext(ctx).WithFields(logrus.Fields{
			"booking_reference": b.BookingReference,
			"city_event_id":     b.CityEventID,
			"payment_intent_id": b.IntentID(),
		})

		if b.PaymentIntentID != nil {
			err := s.intents.CancelPaymentIntent(ctx, *b.PaymentIntentID)
			if errors.Is(err, entity.ErrIntentNotCancellable) {
				logger.Info("Payment intent is being captured, skipping orphan")
				continue
			}
			if err != nil {
				logger.WithError(err).Warn("Could not cancel payment intent of orphan booking")
				continue
			}
		}

		ok, err := s.expire(ctx, b)
		if err != nil {
			return expired, fmt.Errorf("could not expire booking %s: %w", b.BookingReference, err)
		}
		if ok {
			expired++
			logger.Info("Orphan booking expired")
		}
	}

	return expired, nil
}

func (s *Service) expire(ctx context.Context, stale entity.Booking) (bool, error) {
	expired := false
	err := s.run(ctx, func(ctx context.Context, w *work) error {
		expired = false

		ev, err := s.lockCityEvent(ctx, w, stale.CityEventID)
		if err != nil {
			return err
		}
		b, err := w.tx.LockBooking(ctx, stale.BookingReference)
		if err != nil {
			return fmt.Errorf("could not lock booking: %w", err)
		}
		if !b.IsAwaitingPayment() {
			return nil
		}

		oldState := b.State()
		if err := b.Fail(w.now); err != nil {
			return err
		}
		if err := w.tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("could not update booking: %w", err)
		}
		if _, err := w.reconcile(ctx, ev); err != nil {
			return err
		}

		w.audit(w.bookingRecord(entity.AuditBookingExpired, b, oldState, sweeperActor))
		expired = true
		return nil
	})
	return expired, err
}

// Sweeper runs ExpireOrphans at a fixed interval until its context ends.
type Sweeper struct {
	service  *Service
	ttl      time.Duration
	interval time.Duration
}

func NewSweeper(service *Service, ttl, interval time.Duration) Sweeper {
	if service == nil {
		panic("service is nil")
	}
	if interval <= 0 {
		panic("sweep interval must be positive")
	}

	return Sweeper{service: service, ttl: ttl, interval: interval}
}

func (s Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.FromContext(ctx).WithFields(logrus.Fields{
		"ttl":      s.ttl,
		"interval": s.interval,
	}).Info("Orphan sweeper started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.service.ExpireOrphans(ctx, s.ttl)
			if err != nil {
				log.FromContext(ctx).WithError(err).Error("Orphan sweep failed")
				continue
			}
			if n > 0 {
				log.FromContext(ctx).WithField("expired", n).Info("Orphan sweep finished")
			}
		}
	}
}
