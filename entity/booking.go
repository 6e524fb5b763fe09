package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinQuantity = 1
	MaxQuantity = 10
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingRefunded  BookingStatus = "REFUNDED"
)

// HoldsSeats reports whether bookings in this status count against capacity.
func (s BookingStatus) HoldsSeats() bool {
	return s == BookingPending || s == BookingConfirmed
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type TicketType string

const (
	TicketRegular   TicketType = "REGULAR"
	TicketEarlyBird TicketType = "EARLY_BIRD"
	TicketGroup     TicketType = "GROUP"
)

func (t TicketType) Valid() bool {
	switch t {
	case TicketRegular, TicketEarlyBird, TicketGroup:
		return true
	}
	return false
}

type Contact struct {
	Name  string
	Email string
	Phone *string
}

func (c Contact) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return NewValidationError("attendee_name must be set")
	}
	if !validEmail(c.Email) {
		return NewValidationError("attendee_email %q is not a valid address", c.Email)
	}
	return nil
}

type Booking struct {
	ID               int64         `db:"id"`
	BookingReference string        `db:"booking_reference"`
	CityEventID      int64         `db:"city_event_id"`
	Status           BookingStatus `db:"status"`
	PaymentStatus    PaymentStatus `db:"payment_status"`

	AttendeeName  string  `db:"attendee_name"`
	AttendeeEmail string  `db:"attendee_email"`
	AttendeePhone *string `db:"attendee_phone"`

	TicketType TicketType      `db:"ticket_type"`
	Quantity   int             `db:"quantity"`
	Subtotal   decimal.Decimal `db:"subtotal"`
	Discount   decimal.Decimal `db:"discount"`
	Total      decimal.Decimal `db:"total"`
	Currency   string          `db:"currency"`

	PaymentIntentID *string    `db:"payment_intent_id"`
	ConfirmedAt     *time.Time `db:"confirmed_at"`
	CancelledAt     *time.Time `db:"cancelled_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`

	Attendees []Attendee `db:"-"`
}

// State renders the (status, payment_status) pair for audit records.
func (b Booking) State() string {
	return fmt.Sprintf("%s/%s", b.Status, b.PaymentStatus)
}

func (b Booking) IntentID() string {
	if b.PaymentIntentID == nil {
		return ""
	}
	return *b.PaymentIntentID
}

func (b Booking) IsAwaitingPayment() bool {
	return b.Status == BookingPending && b.PaymentStatus == PaymentPending
}

func (b Booking) Contact() Contact {
	return Contact{Name: b.AttendeeName, Email: b.AttendeeEmail, Phone: b.AttendeePhone}
}

// Confirm moves (PENDING, PENDING) to (CONFIRMED, PAID).
func (b *Booking) Confirm(now time.Time) error {
	if !b.IsAwaitingPayment() {
		return b.invalidTransition("confirm")
	}
	b.Status = BookingConfirmed
	b.PaymentStatus = PaymentPaid
	b.ConfirmedAt = &now
	b.UpdatedAt = now
	return nil
}

// Fail moves (PENDING, PENDING) to (CANCELLED, FAILED).
func (b *Booking) Fail(now time.Time) error {
	if !b.IsAwaitingPayment() {
		return b.invalidTransition("fail")
	}
	b.Status = BookingCancelled
	b.PaymentStatus = PaymentFailed
	b.CancelledAt = &now
	b.UpdatedAt = now
	return nil
}

// Cancel moves PENDING or CONFIRMED to CANCELLED. The payment status is kept:
// a paid booking stays PAID until the provider reports the refund.
func (b *Booking) Cancel(now time.Time) error {
	if !b.Status.HoldsSeats() {
		return b.invalidTransition("cancel")
	}
	b.Status = BookingCancelled
	b.CancelledAt = &now
	b.UpdatedAt = now
	return nil
}

// MarkPaidAfterCancel records money captured for a booking that was already
// cancelled or failed, so that it can be refunded.
func (b *Booking) MarkPaidAfterCancel(now time.Time) error {
	if b.Status != BookingCancelled || (b.PaymentStatus != PaymentPending && b.PaymentStatus != PaymentFailed) {
		return b.invalidTransition("record late payment")
	}
	b.PaymentStatus = PaymentPaid
	b.UpdatedAt = now
	return nil
}

// Refund applies a provider refund. A cancelled booking keeps its status;
// a confirmed one becomes (REFUNDED, REFUNDED) and gives its seats back.
func (b *Booking) Refund(now time.Time) error {
	if b.PaymentStatus != PaymentPaid {
		return b.invalidTransition("refund")
	}
	switch b.Status {
	case BookingCancelled:
	case BookingConfirmed:
		b.Status = BookingRefunded
		b.CancelledAt = &now
	default:
		return b.invalidTransition("refund")
	}
	b.PaymentStatus = PaymentRefunded
	b.UpdatedAt = now
	return nil
}

func (b Booking) invalidTransition(action string) error {
	return NewConflict(fmt.Sprintf("cannot %s booking in state %s", action, b.State()), nil)
}

type Attendee struct {
	ID         int64   `db:"id"`
	BookingID  int64   `db:"booking_id"`
	FirstName  string  `db:"first_name"`
	LastName   string  `db:"last_name"`
	Email      string  `db:"email"`
	Phone      *string `db:"phone"`
	Role       *string `db:"role"`
	Experience *string `db:"experience"`
	Dietary    *string `db:"dietary_notes"`
}

func (a Attendee) Validate() error {
	if strings.TrimSpace(a.FirstName) == "" {
		return NewValidationError("attendee first_name must be set")
	}
	if !validEmail(a.Email) {
		return NewValidationError("attendee email %q is not a valid address", a.Email)
	}
	return nil
}

// AttendeeFromContact splits the contact name on the first space.
func AttendeeFromContact(c Contact) Attendee {
	first, last, _ := strings.Cut(strings.TrimSpace(c.Name), " ")
	return Attendee{
		FirstName: first,
		LastName:  strings.TrimSpace(last),
		Email:     c.Email,
		Phone:     c.Phone,
	}
}

type BookingPayment struct {
	ID              int64           `db:"id"`
	BookingID       int64           `db:"booking_id"`
	PaymentIntentID string          `db:"payment_intent_id"`
	Amount          decimal.Decimal `db:"amount"`
	Currency        string          `db:"currency"`
	Status          PaymentStatus   `db:"status"`
	StripeChargeID  *string         `db:"stripe_charge_id"`
	RefundID        *string         `db:"refund_id"`
	CreatedAt       time.Time       `db:"created_at"`
}

type AvailabilityStatus string

const (
	Available  AvailabilityStatus = "available"
	AlmostFull AvailabilityStatus = "almost_full"
	SoldOut    AvailabilityStatus = "sold_out"
)

type Availability struct {
	CityEventID         int64
	TotalCapacity       int
	AvailableSpots      int
	BookedSpots         int
	PercentageAvailable decimal.Decimal
	Status              AvailabilityStatus
}
