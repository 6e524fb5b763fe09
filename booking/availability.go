package booking

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"masterclass/entity"
)

// AvailabilityOf projects the capacity counters of ev.
func AvailabilityOf(ev entity.CityEvent) entity.Availability {
	percentage := decimal.Zero
	if ev.TotalCapacity > 0 {
		percentage = decimal.NewFromInt(int64(ev.AvailableSpots)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(ev.TotalCapacity)))
	}

	return entity.Availability{
		CityEventID:         ev.ID,
		TotalCapacity:       ev.TotalCapacity,
		AvailableSpots:      ev.AvailableSpots,
		BookedSpots:         ev.TotalCapacity - ev.AvailableSpots,
		PercentageAvailable: entity.Round2(percentage),
		Status:              Classify(ev.TotalCapacity, ev.AvailableSpots),
	}
}

// Classify reports almost_full while strictly less than 20% of seats are free.
func Classify(totalCapacity, availableSpots int) entity.AvailabilityStatus {
	switch {
	case availableSpots <= 0:
		return entity.SoldOut
	case availableSpots*5 < totalCapacity:
		return entity.AlmostFull
	default:
		return entity.Available
	}
}

// DeriveStatus flips PUBLISHED and SOLD_OUT on the free-seat counter.
// DRAFT and CANCELLED are returned unchanged.
func DeriveStatus(current entity.CityEventStatus, availableSpots int) entity.CityEventStatus {
	switch current {
	case entity.CityEventPublished:
		if availableSpots == 0 {
			return entity.CityEventSoldOut
		}
	case entity.CityEventSoldOut:
		if availableSpots > 0 {
			return entity.CityEventPublished
		}
	}
	return current
}

// reconcile recomputes available_spots from the held bookings and persists
// it together with the derived status. ev must be locked by w.tx.
func (w *work) reconcile(ctx context.Context, ev entity.CityEvent) (entity.CityEvent, error) {
	held, err := w.tx.HeldSeats(ctx, ev.ID)
	if err != nil {
		return ev, fmt.Errorf("could not count held seats: %w", err)
	}

	available := ev.TotalCapacity - held
	if available < 0 {
		return ev, fmt.Errorf("city event %d holds %d seats over capacity %d", ev.ID, held, ev.TotalCapacity)
	}

	status := DeriveStatus(ev.Status, available)
	if available == ev.AvailableSpots && status == ev.Status {
		return ev, nil
	}

	if err := w.tx.UpdateCityEventAvailability(ctx, ev.ID, available, status); err != nil {
		return ev, fmt.Errorf("could not update availability of city event %d: %w", ev.ID, err)
	}

	if status != ev.Status {
		record := entity.NewAuditRecord(entity.AuditCityEventAvailability, w.now)
		record.CityEventID = ev.ID
		record.Actor = systemActor
		record.OldState = string(ev.Status)
		record.NewState = string(status)
		w.records = append(w.records, record)
	}

	ev.AvailableSpots = available
	ev.Status = status
	return ev, nil
}

// ReconcileAvailability repairs the cached counters of one city event from
// its held bookings.
func (s *Service) ReconcileAvailability(ctx context.Context, cityEventID int64) (entity.CityEvent, error) {
	var reconciled entity.CityEvent
	err := s.run(ctx, func(ctx context.Context, w *work) error {
		ev, err := s.lockCityEvent(ctx, w, cityEventID)
		if err != nil {
			return err
		}

		reconciled, err = w.reconcile(ctx, ev)
		return err
	})
	if err != nil {
		return entity.CityEvent{}, err
	}

	return reconciled, nil
}
