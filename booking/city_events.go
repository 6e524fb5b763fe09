package booking

import (
	"context"
	"fmt"

	"masterclass/entity"
)

// PublishCityEvent opens a DRAFT city event for booking. Publishing an
// already published or sold out event is a no-op.
func (s *Service) PublishCityEvent(ctx context.Context, cityEventID int64, actor string) (entity.CityEvent, error) {
	var published entity.CityEvent
	err := s.run(ctx, func(ctx context.Context, w *work) error {
		ev, err := s.lockCityEvent(ctx, w, cityEventID)
		if err != nil {
			return err
		}

		switch ev.Status {
		case entity.CityEventPublished, entity.CityEventSoldOut:
			published = ev
			return nil
		case entity.CityEventCancelled:
			return entity.NewConflict("cancelled city event cannot be published", nil)
		}

		oldStatus := ev.Status
		ev.Status = entity.CityEventPublished
		ev, err = w.reconcile(ctx, ev)
		if err != nil {
			return err
		}
		// reconcile only writes when the counters moved
		if err := w.tx.UpdateCityEventAvailability(ctx, ev.ID, ev.AvailableSpots, ev.Status); err != nil {
			return fmt.Errorf("could not publish city event %d: %w", ev.ID, err)
		}

		w.audit(cityEventRecord(w, entity.AuditCityEventPublished, ev, oldStatus, actor))
		published = ev
		return nil
	})
	if err != nil {
		return entity.CityEvent{}, err
	}

	return published, nil
}

type CityEventCancellation struct {
	CityEvent entity.CityEvent
	Cancelled []entity.Booking
	// Refunded counts the cancelled bookings that got a refund command.
	Refunded int
}

// CancelCityEvent cancels the event and every booking still holding seats
// in one transaction. Paid bookings are refunded through the outbox.
func (s *Service) CancelCityEvent(ctx context.Context, cityEventID int64, actor string) (CityEventCancellation, error) {
	var result CityEventCancellation
	err := s.run(ctx, func(ctx context.Context, w *work) error {
		result = CityEventCancellation{}

		ev, err := s.lockCityEvent(ctx, w, cityEventID)
		if err != nil {
			return err
		}
		if ev.Status == entity.CityEventCancelled {
			result.CityEvent = ev
			return nil
		}

		active, err := w.tx.LockActiveBookings(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("could not lock bookings of city event %d: %w", ev.ID, err)
		}

		for _, b := range active {
			oldState := b.State()
			if err := s.cancelBooking(ctx, w, &b, "city event cancelled"); err != nil {
				return err
			}
			if b.PaymentStatus == entity.PaymentPaid {
				result.Refunded++
			}
			w.audit(cancelledRecord(w, b, oldState, actor))
			result.Cancelled = append(result.Cancelled, b)
		}

		oldStatus := ev.Status
		ev.Status = entity.CityEventCancelled
		ev, err = w.reconcile(ctx, ev)
		if err != nil {
			return err
		}
		if err := w.tx.UpdateCityEventAvailability(ctx, ev.ID, ev.AvailableSpots, ev.Status); err != nil {
			return fmt.Errorf("could not cancel city event %d: %w", ev.ID, err)
		}

		w.audit(cityEventRecord(w, entity.AuditCityEventCancelled, ev, oldStatus, actor))
		result.CityEvent = ev
		return nil
	})
	if err != nil {
		return CityEventCancellation{}, err
	}

	for _, b := range result.Cancelled {
		if b.PaymentStatus == entity.PaymentPending && b.PaymentIntentID != nil {
			s.cancelIntentQuietly(ctx, b, *b.PaymentIntentID)
		}
	}

	return result, nil
}

func cityEventRecord(w *work, recordType string, ev entity.CityEvent, oldStatus entity.CityEventStatus, actor string) entity.AuditRecord {
	record := entity.NewAuditRecord(recordType, w.now)
	record.CityEventID = ev.ID
	record.Actor = actor
	record.OldState = string(oldStatus)
	record.NewState = string(ev.Status)
	return record
}
