package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/jmoiron/sqlx"

	"masterclass/booking"
	"masterclass/entity"
	"masterclass/pubsub/bus"
	"masterclass/pubsub/outbox"
)

const (
	bookingColumns = `
		b.id, b.booking_reference, b.city_event_id, b.status, b.payment_status,
		b.attendee_name, b.attendee_email, b.attendee_phone,
		b.ticket_type, b.quantity, b.subtotal, b.discount, b.total, b.currency,
		b.payment_intent_id, b.confirmed_at, b.cancelled_at, b.created_at, b.updated_at`

	cityEventColumns = `
		ce.id, ce.event_id, ce.city_id, ce.venue_id,
		ce.start_date, ce.end_date, ce.start_time::text AS start_time, ce.end_time::text AS end_time,
		ce.total_capacity, ce.available_spots, ce.status,
		ce.regular_price, ce.early_bird_price, ce.early_bird_deadline,
		ce.group_discount_percentage, ce.group_minimum, ce.currency,
		ce.created_at, ce.updated_at, c.timezone`
)

// BookingStore keeps bookings and the seat counters of their city events.
// Every transaction locks the city_events row before touching bookings.
type BookingStore struct {
	db *sqlx.DB
}

func NewBookingStore(db *sqlx.DB) *BookingStore {
	if db == nil {
		panic("db is nil")
	}

	return &BookingStore{db: db}
}

func (s *BookingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return updateInTx(ctx, s.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, bookingTx{tx: tx})
	})
}

func (s *BookingStore) BookingByReference(ctx context.Context, reference string) (entity.Booking, error) {
	return getBooking(ctx, s.db, `WHERE b.booking_reference = $1`, reference)
}

func (s *BookingStore) BookingByPaymentIntent(ctx context.Context, paymentIntentID string) (entity.Booking, error) {
	return getBooking(ctx, s.db, `WHERE b.payment_intent_id = $1`, paymentIntentID)
}

func (s *BookingStore) CityEventBookings(ctx context.Context, cityEventID int64) ([]entity.Booking, error) {
	var bookings []entity.Booking
	err := s.db.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+`
		FROM bookings b
		WHERE b.city_event_id = $1
		ORDER BY b.id
	`, cityEventID)
	if err != nil {
		return nil, fmt.Errorf("could not list bookings of city event %d: %w", cityEventID, err)
	}

	return bookings, nil
}

func (s *BookingStore) StalePendingBookings(ctx context.Context, createdBefore time.Time, after booking.StaleCursor, limit int) ([]entity.Booking, error) {
	var bookings []entity.Booking
	err := s.db.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+`
		FROM bookings b
		WHERE b.status = 'PENDING' AND b.payment_status = 'PENDING' AND b.created_at < $1
			AND (b.created_at, b.id) > ($2, $3)
		ORDER BY b.created_at, b.id
		LIMIT $4
	`, createdBefore, after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("could not list stale bookings: %w", err)
	}

	return bookings, nil
}

func (s *BookingStore) Payments(ctx context.Context, bookingID int64) ([]entity.BookingPayment, error) {
	var payments []entity.BookingPayment
	err := s.db.SelectContext(ctx, &payments, `
		SELECT id, booking_id, payment_intent_id, amount, currency, status, stripe_charge_id, refund_id, created_at
		FROM booking_payments
		WHERE booking_id = $1
		ORDER BY id
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("could not list payments of booking %d: %w", bookingID, err)
	}

	return payments, nil
}

func getBooking(ctx context.Context, q sqlx.QueryerContext, where string, args ...any) (entity.Booking, error) {
	var b entity.Booking
	err := sqlx.GetContext(ctx, q, &b, `SELECT `+bookingColumns+` FROM bookings b `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Booking{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.Booking{}, fmt.Errorf("could not get booking: %w", err)
	}

	err = sqlx.SelectContext(ctx, q, &b.Attendees, `
		SELECT id, booking_id, first_name, last_name, email, phone, role, experience, dietary_notes
		FROM attendees
		WHERE booking_id = $1
		ORDER BY id
	`, b.ID)
	if err != nil {
		return entity.Booking{}, fmt.Errorf("could not get attendees of booking %s: %w", b.BookingReference, err)
	}

	return b, nil
}

type bookingTx struct {
	tx *sqlx.Tx
}

func (t bookingTx) LockCityEvent(ctx context.Context, id int64) (entity.CityEvent, error) {
	var ev entity.CityEvent
	err := t.tx.GetContext(ctx, &ev, `
		SELECT `+cityEventColumns+`
		FROM city_events ce
		JOIN cities c ON c.id = ce.city_id
		WHERE ce.id = $1
		FOR UPDATE OF ce
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.CityEvent{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.CityEvent{}, fmt.Errorf("could not lock city event %d: %w", id, err)
	}

	return ev, nil
}

func (t bookingTx) HeldSeats(ctx context.Context, cityEventID int64) (int, error) {
	var held int
	err := t.tx.GetContext(ctx, &held, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM bookings
		WHERE city_event_id = $1 AND status IN ('PENDING', 'CONFIRMED')
	`, cityEventID)
	if err != nil {
		return 0, fmt.Errorf("could not count held seats: %w", err)
	}

	return held, nil
}

func (t bookingTx) UpdateCityEventAvailability(ctx context.Context, id int64, availableSpots int, status entity.CityEventStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE city_events
		SET available_spots = $2, status = $3, updated_at = now()
		WHERE id = $1
	`, id, availableSpots, status)
	if err != nil {
		return fmt.Errorf("could not update availability of city event %d: %w", id, err)
	}

	return expectOneRow(res)
}

func (t bookingTx) InsertBooking(ctx context.Context, b *entity.Booking) error {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT insert_booking`); err != nil {
		return fmt.Errorf("could not create savepoint: %w", err)
	}

	rows, err := sqlx.NamedQueryContext(ctx, t.tx, `
		INSERT INTO bookings (
			booking_reference, city_event_id, status, payment_status,
			attendee_name, attendee_email, attendee_phone,
			ticket_type, quantity, subtotal, discount, total, currency,
			payment_intent_id, created_at, updated_at
		) VALUES (
			:booking_reference, :city_event_id, :status, :payment_status,
			:attendee_name, :attendee_email, :attendee_phone,
			:ticket_type, :quantity, :subtotal, :discount, :total, :currency,
			:payment_intent_id, :created_at, :updated_at
		)
		RETURNING id
	`, b)
	if err == nil {
		if rows.Next() {
			err = rows.Scan(&b.ID)
		}
		err = errors.Join(err, rows.Err(), rows.Close())
	}

	if isUniqueViolation(err, "bookings_booking_reference_key") {
		if _, rollbackErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT insert_booking`); rollbackErr != nil {
			return fmt.Errorf("could not roll back to savepoint: %w", rollbackErr)
		}
		return entity.ErrReferenceTaken
	}
	if err != nil {
		return fmt.Errorf("could not insert booking: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT insert_booking`); err != nil {
		return fmt.Errorf("could not release savepoint: %w", err)
	}
	return nil
}

func (t bookingTx) InsertAttendees(ctx context.Context, bookingID int64, attendees []entity.Attendee) error {
	for i := range attendees {
		attendees[i].BookingID = bookingID
		err := t.tx.GetContext(ctx, &attendees[i].ID, `
			INSERT INTO attendees (booking_id, first_name, last_name, email, phone, role, experience, dietary_notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`,
			bookingID,
			attendees[i].FirstName,
			attendees[i].LastName,
			attendees[i].Email,
			attendees[i].Phone,
			attendees[i].Role,
			attendees[i].Experience,
			attendees[i].Dietary,
		)
		if err != nil {
			return fmt.Errorf("could not insert attendee: %w", err)
		}
	}

	return nil
}

func (t bookingTx) LockBooking(ctx context.Context, reference string) (entity.Booking, error) {
	return getBooking(ctx, t.tx, `WHERE b.booking_reference = $1 FOR UPDATE`, reference)
}

func (t bookingTx) LockBookingByPaymentIntent(ctx context.Context, paymentIntentID string) (entity.Booking, error) {
	return getBooking(ctx, t.tx, `WHERE b.payment_intent_id = $1 FOR UPDATE`, paymentIntentID)
}

func (t bookingTx) LockActiveBookings(ctx context.Context, cityEventID int64) ([]entity.Booking, error) {
	var bookings []entity.Booking
	err := t.tx.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+`
		FROM bookings b
		WHERE b.city_event_id = $1 AND b.status IN ('PENDING', 'CONFIRMED')
		ORDER BY b.id
		FOR UPDATE
	`, cityEventID)
	if err != nil {
		return nil, fmt.Errorf("could not lock bookings of city event %d: %w", cityEventID, err)
	}

	return bookings, nil
}

// UpdateBooking persists the mutable part of a booking. The reference and
// pricing are never rewritten.
func (t bookingTx) UpdateBooking(ctx context.Context, b entity.Booking) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE bookings
		SET status = :status,
			payment_status = :payment_status,
			payment_intent_id = :payment_intent_id,
			confirmed_at = :confirmed_at,
			cancelled_at = :cancelled_at,
			updated_at = :updated_at
		WHERE id = :id
	`, b)
	if err != nil {
		return fmt.Errorf("could not update booking %s: %w", b.BookingReference, err)
	}

	return expectOneRow(res)
}

func (t bookingTx) InsertPayment(ctx context.Context, p entity.BookingPayment) (bool, error) {
	res, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO booking_payments (
			booking_id, payment_intent_id, amount, currency, status, stripe_charge_id, refund_id, created_at
		) VALUES (
			:booking_id, :payment_intent_id, :amount, :currency, :status, :stripe_charge_id, :refund_id, :created_at
		)
		ON CONFLICT (payment_intent_id, status) DO NOTHING
	`, p)
	if err != nil {
		return false, fmt.Errorf("could not insert payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t bookingTx) MarkWebhookEventProcessed(ctx context.Context, providerEventID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_events (provider_event_id)
		VALUES ($1)
		ON CONFLICT (provider_event_id) DO NOTHING
	`, providerEventID)
	if err != nil {
		return false, fmt.Errorf("could not mark webhook event %s: %w", providerEventID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t bookingTx) SendRefund(ctx context.Context, cmd entity.RefundBookingPayment_v1) error {
	commandBus, err := t.commandBus(ctx)
	if err != nil {
		return err
	}

	if err := commandBus.Send(ctx, cmd); err != nil {
		return fmt.Errorf("could not send refund command: %w", err)
	}
	return nil
}

func (t bookingTx) commandBus(ctx context.Context) (*cqrs.CommandBus, error) {
	publisher, err := outbox.NewPublisherForTx(ctx, t.tx.Tx)
	if err != nil {
		return nil, err
	}

	return bus.NewCommandBus(publisher)
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return entity.ErrNotFound
	}
	return nil
}
