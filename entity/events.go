package entity

import (
	"time"

	"github.com/google/uuid"
)

type EventHeader struct {
	ID             string    `json:"id"`
	PublishedAt    time.Time `json:"published_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func NewEventHeader() EventHeader {
	return EventHeader{
		ID:          uuid.NewString(),
		PublishedAt: time.Now().UTC(),
	}
}

func NewEventHeaderWithIdempotencyKey(idempotencyKey string) EventHeader {
	return EventHeader{
		ID:             uuid.NewString(),
		PublishedAt:    time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
	}
}

const (
	AuditBookingCreated        = "booking.created"
	AuditBookingConfirmed      = "booking.confirmed"
	AuditBookingFailed         = "booking.failed"
	AuditBookingCancelled      = "booking.cancelled"
	AuditBookingExpired        = "booking.expired"
	AuditBookingRefunded       = "booking.refunded"
	AuditBookingLatePayment    = "booking.late_payment"
	AuditPaymentIntentCreated  = "payment_intent.created"
	AuditCityEventPublished    = "city_event.published"
	AuditCityEventCancelled    = "city_event.cancelled"
	AuditCityEventAvailability = "city_event.availability_changed"
)

type AuditRecord struct {
	ID               string    `json:"id" db:"id"`
	Type             string    `json:"type" db:"type"`
	BookingReference string    `json:"booking_reference,omitempty" db:"booking_reference"`
	PaymentIntentID  string    `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	CityEventID      int64     `json:"city_event_id" db:"city_event_id"`
	Actor            string    `json:"actor" db:"actor"`
	ContactEmail     string    `json:"contact_email,omitempty" db:"contact_email"`
	OccurredAt       time.Time `json:"occurred_at" db:"occurred_at"`
	OldState         string    `json:"old_state,omitempty" db:"old_state"`
	NewState         string    `json:"new_state,omitempty" db:"new_state"`
	Amount           *Money    `json:"amount,omitempty" db:"-"`
}

func NewAuditRecord(recordType string, occurredAt time.Time) AuditRecord {
	return AuditRecord{
		ID:         uuid.NewString(),
		Type:       recordType,
		OccurredAt: occurredAt.UTC(),
	}
}

// ForBooking fills the booking-derived fields of the record.
func (r AuditRecord) ForBooking(b Booking) AuditRecord {
	r.BookingReference = b.BookingReference
	r.PaymentIntentID = b.IntentID()
	r.CityEventID = b.CityEventID
	r.ContactEmail = b.AttendeeEmail
	if r.Actor == "" {
		r.Actor = b.AttendeeEmail
	}
	return r
}

// AuditLogFilter selects audit records; zero fields match everything.
type AuditLogFilter struct {
	BookingReference string
	CityEventID      int64
	Limit            int
}

type AuditRecorded_v1 struct {
	Header EventHeader `json:"header"`
	Record AuditRecord `json:"record"`
}
