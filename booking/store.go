package booking

import (
	"context"
	"time"

	"masterclass/entity"
)

// Store is the persistence the booking service runs on. Reads outside InTx
// take no locks.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	BookingByReference(ctx context.Context, reference string) (entity.Booking, error)
	BookingByPaymentIntent(ctx context.Context, paymentIntentID string) (entity.Booking, error)
	CityEventBookings(ctx context.Context, cityEventID int64) ([]entity.Booking, error)
	// StalePendingBookings pages bookings awaiting payment created before
	// createdBefore in (created_at, id) order, starting after the cursor.
	StalePendingBookings(ctx context.Context, createdBefore time.Time, after StaleCursor, limit int) ([]entity.Booking, error)
}

// StaleCursor is the (created_at, id) of the last booking of a page. The
// zero value starts from the oldest booking.
type StaleCursor struct {
	CreatedAt time.Time
	ID        int64
}

// Tx is one database transaction. Implementations must lock the city event
// row before any booking row of that event.
type Tx interface {
	// LockCityEvent returns ErrNotFound for unknown ids.
	LockCityEvent(ctx context.Context, id int64) (entity.CityEvent, error)
	HeldSeats(ctx context.Context, cityEventID int64) (int, error)
	UpdateCityEventAvailability(ctx context.Context, id int64, availableSpots int, status entity.CityEventStatus) error

	// InsertBooking fills b.ID and returns ErrReferenceTaken when the
	// reference is already used. The transaction stays usable after that.
	InsertBooking(ctx context.Context, b *entity.Booking) error
	InsertAttendees(ctx context.Context, bookingID int64, attendees []entity.Attendee) error
	LockBooking(ctx context.Context, reference string) (entity.Booking, error)
	LockBookingByPaymentIntent(ctx context.Context, paymentIntentID string) (entity.Booking, error)
	LockActiveBookings(ctx context.Context, cityEventID int64) ([]entity.Booking, error)
	UpdateBooking(ctx context.Context, b entity.Booking) error

	// InsertPayment reports false when a payment row with the same intent
	// and status already exists.
	InsertPayment(ctx context.Context, p entity.BookingPayment) (bool, error)
	// MarkWebhookEventProcessed reports false when the provider event was
	// already handled.
	MarkWebhookEventProcessed(ctx context.Context, providerEventID string) (bool, error)

	// SendRefund enqueues a refund command that is delivered only if the
	// transaction commits.
	SendRefund(ctx context.Context, cmd entity.RefundBookingPayment_v1) error
}

// Auditor receives audit records after the transaction that produced them
// has committed. It never fails the caller.
type Auditor interface {
	Record(ctx context.Context, records ...entity.AuditRecord)
}

// IntentCanceller cancels payment intents at the provider. It returns
// entity.ErrIntentNotCancellable when money was already captured or is
// being captured.
type IntentCanceller interface {
	CancelPaymentIntent(ctx context.Context, paymentIntentID string) error
}
