// Package booking holds seats for city events and moves bookings through
// their payment lifecycle. Every seat-changing operation runs in one
// transaction that locks the city event row first.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"masterclass/entity"
	"masterclass/pricing"
)

const (
	systemActor = "system"

	defaultReferenceAttempts = 5
	defaultTxAttempts        = 3
)

type Option func(*Service)

// WithClock replaces time.Now. Pricing deadlines are evaluated on its value.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.clock = now
	}
}

func WithReferenceGenerator(gen func(now time.Time) (string, error)) Option {
	return func(s *Service) {
		s.newReference = gen
	}
}

// WithReferenceAttempts bounds how many references are tried before a
// booking fails with a reference collision.
func WithReferenceAttempts(n int) Option {
	return func(s *Service) {
		s.referenceAttempts = n
	}
}

// WithTxAttempts bounds how many times a transaction aborted by a
// serialisation failure is run.
func WithTxAttempts(n int) Option {
	return func(s *Service) {
		s.txAttempts = n
	}
}

// WithSweepBatchSize sets how many stale bookings are read per page by
// ExpireOrphans.
func WithSweepBatchSize(n int) Option {
	return func(s *Service) {
		s.sweepBatchSize = n
	}
}

// WithRetryBackOff replaces the exponential back-off used between
// transaction attempts.
func WithRetryBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Service) {
		s.newBackOff = newBackOff
	}
}

type Service struct {
	store   Store
	auditor Auditor
	intents IntentCanceller

	clock             func() time.Time
	newReference      func(now time.Time) (string, error)
	referenceAttempts int
	txAttempts        int
	sweepBatchSize    int
	newBackOff        func() backoff.BackOff
}

func NewService(store Store, auditor Auditor, intents IntentCanceller, opts ...Option) *Service {
	if store == nil {
		panic("store is nil")
	}
	if auditor == nil {
		panic("auditor is nil")
	}
	if intents == nil {
		panic("intents is nil")
	}

	s := &Service{
		store:             store,
		auditor:           auditor,
		intents:           intents,
		clock:             time.Now,
		newReference:      NewReference,
		referenceAttempts: defaultReferenceAttempts,
		txAttempts:        defaultTxAttempts,
		sweepBatchSize:    defaultSweepBatchSize,
		newBackOff:        defaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// work is the state of one transaction attempt.
type work struct {
	tx      Tx
	now     time.Time
	records []entity.AuditRecord
}

func (w *work) audit(record entity.AuditRecord) {
	w.records = append(w.records, record)
}

func (w *work) bookingRecord(recordType string, b entity.Booking, oldState, actor string) entity.AuditRecord {
	record := entity.NewAuditRecord(recordType, w.now)
	record.Actor = actor
	record.OldState = oldState
	record.NewState = b.State()
	return record.ForBooking(b)
}

// run executes fn in a transaction, retrying serialisation failures with
// back-off. Audit records of the committed attempt are recorded afterwards.
func (s *Service) run(ctx context.Context, fn func(ctx context.Context, w *work) error) error {
	var committed *work

	attempt := 0
	op := func() error {
		attempt++
		w := &work{now: s.now()}

		err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			w.tx = tx
			return fn(ctx, w)
		})
		if err == nil {
			committed = w
			return nil
		}
		if errors.Is(err, entity.ErrSerialization) {
			log.FromContext(ctx).WithError(err).WithField("attempt", attempt).Warn("Transaction aborted, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	retries := uint64(0)
	if s.txAttempts > 1 {
		retries = uint64(s.txAttempts - 1)
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), retries), ctx))
	if err != nil {
		if errors.Is(err, entity.ErrSerialization) {
			return entity.NewConflict("transaction conflict, retry later", err)
		}
		return err
	}

	if len(committed.records) > 0 {
		s.auditor.Record(ctx, committed.records...)
	}
	return nil
}

func (s *Service) lockCityEvent(ctx context.Context, w *work, id int64) (entity.CityEvent, error) {
	ev, err := w.tx.LockCityEvent(ctx, id)
	if errors.Is(err, entity.ErrNotFound) {
		return ev, entity.NewNotFound("city event").WithDetail("city_event_id", id)
	}
	if err != nil {
		return ev, fmt.Errorf("could not lock city event %d: %w", id, err)
	}
	return ev, nil
}

type CreateRequest struct {
	CityEventID int64
	TicketType  entity.TicketType
	Quantity    int
	Contact     entity.Contact
	Attendees   []entity.Attendee
}

func (r CreateRequest) Validate() error {
	if r.CityEventID <= 0 {
		return entity.NewValidationError("city_event_id must be positive")
	}
	if !r.TicketType.Valid() {
		return entity.NewValidationError("unknown ticket_type %q", r.TicketType)
	}
	if r.Quantity < entity.MinQuantity || r.Quantity > entity.MaxQuantity {
		return entity.NewValidationError("quantity must be between %d and %d", entity.MinQuantity, entity.MaxQuantity)
	}
	if err := r.Contact.Validate(); err != nil {
		return err
	}
	if len(r.Attendees) > r.Quantity {
		return entity.NewValidationError("%d attendees given for %d seats", len(r.Attendees), r.Quantity)
	}
	for _, a := range r.Attendees {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CreatePending holds req.Quantity seats in a (PENDING, PENDING) booking.
// A SOLD_OUT event fails the capacity check rather than the bookable check.
func (s *Service) CreatePending(ctx context.Context, req CreateRequest) (entity.Booking, error) {
	if err := req.Validate(); err != nil {
		return entity.Booking{}, err
	}

	var created entity.Booking
	err := s.run(ctx, func(ctx context.Context, w *work) error {
		ev, err := s.lockCityEvent(ctx, w, req.CityEventID)
		if err != nil {
			return err
		}

		if ev.Status != entity.CityEventPublished && ev.Status != entity.CityEventSoldOut {
			return entity.NewNotBookable("event not bookable").WithDetail("status", ev.Status)
		}
		if ev.AvailableSpots < req.Quantity {
			return entity.NewInsufficientCapacity(req.Quantity, ev.AvailableSpots)
		}

		quote, err := pricing.Calculate(ev, req.TicketType, req.Quantity, ev.Today(w.now))
		if err != nil {
			return err
		}

		b := entity.Booking{
			CityEventID:   ev.ID,
			Status:        entity.BookingPending,
			PaymentStatus: entity.PaymentPending,
			AttendeeName:  req.Contact.Name,
			AttendeeEmail: req.Contact.Email,
			AttendeePhone: req.Contact.Phone,
			TicketType:    req.TicketType,
			Quantity:      req.Quantity,
			Subtotal:      quote.Subtotal,
			Discount:      quote.Discount,
			Total:         quote.Total,
			Currency:      quote.Currency,
			CreatedAt:     w.now,
			UpdatedAt:     w.now,
		}
		if err := s.insertWithFreshReference(ctx, w, &b); err != nil {
			return err
		}

		attendees := req.Attendees
		if len(attendees) == 0 {
			attendees = []entity.Attendee{entity.AttendeeFromContact(req.Contact)}
		}
		if err := w.tx.InsertAttendees(ctx, b.ID, attendees); err != nil {
			return fmt.Errorf("could not insert attendees: %w", err)
		}
		b.Attendees = attendees

		if _, err := w.reconcile(ctx, ev); err != nil {
			return err
		}

		record := w.bookingRecord(entity.AuditBookingCreated, b, "", b.AttendeeEmail)
		record.Amount = moneyOf(b)
		w.audit(record)

		created = b
		return nil
	})
	if err != nil {
		return entity.Booking{}, err
	}

	return created, nil
}

func (s *Service) insertWithFreshReference(ctx context.Context, w *work, b *entity.Booking) error {
	for attempt := 1; ; attempt++ {
		reference, err := s.newReference(w.now)
		if err != nil {
			return err
		}
		b.BookingReference = reference

		err = w.tx.InsertBooking(ctx, b)
		if err == nil {
			return nil
		}
		if !errors.Is(err, entity.ErrReferenceTaken) {
			return fmt.Errorf("could not insert booking: %w", err)
		}
		if attempt >= s.referenceAttempts {
			return entity.NewConflict("reference collision", err)
		}

		log.FromContext(ctx).WithField("attempt", attempt).Warn("Booking reference collision, regenerating")
	}
}

// Get reads a booking with its attendees.
func (s *Service) Get(ctx context.Context, reference string) (entity.Booking, error) {
	b, err := s.store.BookingByReference(ctx, reference)
	if errors.Is(err, entity.ErrNotFound) {
		return entity.Booking{}, entity.NewNotFound("booking")
	}
	if err != nil {
		return entity.Booking{}, fmt.Errorf("could not get booking: %w", err)
	}
	return b, nil
}

func (s *Service) CityEventBookings(ctx context.Context, cityEventID int64) ([]entity.Booking, error) {
	bookings, err := s.store.CityEventBookings(ctx, cityEventID)
	if err != nil {
		return nil, fmt.Errorf("could not list bookings of city event %d: %w", cityEventID, err)
	}
	return bookings, nil
}

// AttachPaymentIntent stores the provider intent on a booking that is still
// awaiting payment.
func (s *Service) AttachPaymentIntent(ctx context.Context, reference, paymentIntentID string) (entity.Booking, error) {
	current, err := s.Get(ctx, reference)
	if err != nil {
		return entity.Booking{}, err
	}

	var updated entity.Booking
	err = s.run(ctx, func(ctx context.Context, w *work) error {
		if _, err := s.lockCityEvent(ctx, w, current.CityEventID); err != nil {
			return err
		}
		b, err := w.tx.LockBooking(ctx, reference)
		if err != nil {
			return fmt.Errorf("could not lock booking: %w", err)
		}

		if !b.IsAwaitingPayment() {
			return entity.NewConflict("booking is no longer awaiting payment", nil).WithDetail("state", b.State())
		}
		if b.PaymentIntentID != nil {
			if *b.PaymentIntentID == paymentIntentID {
				updated = b
				return nil
			}
			return entity.NewConflict("booking already has a payment intent", nil)
		}

		b.PaymentIntentID = &paymentIntentID
		b.UpdatedAt = w.now
		if err := w.tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("could not update booking: %w", err)
		}

		record := w.bookingRecord(entity.AuditPaymentIntentCreated, b, b.State(), systemActor)
		record.Amount = moneyOf(b)
		w.audit(record)

		updated = b
		return nil
	})
	if err != nil {
		return entity.Booking{}, err
	}

	return updated, nil
}

// Cancel moves a PENDING or CONFIRMED booking to CANCELLED and releases its
// seats. A paid booking gets a refund command in the same transaction.
// Cancelling a booking that no longer holds seats returns it unchanged.
func (s *Service) Cancel(ctx context.Context, reference, actor string) (entity.Booking, error) {
	current, err := s.Get(ctx, reference)
	if err != nil {
		return entity.Booking{}, err
	}

	var cancelled entity.Booking
	var openIntent string
	err = s.run(ctx, func(ctx context.Context, w *work) error {
		openIntent = ""

		ev, err := s.lockCityEvent(ctx, w, current.CityEventID)
		if err != nil {
			return err
		}
		b, err := w.tx.LockBooking(ctx, reference)
		if err != nil {
			return fmt.Errorf("could not lock booking: %w", err)
		}

		if !b.Status.HoldsSeats() {
			cancelled = b
			return nil
		}

		if b.IsAwaitingPayment() {
			openIntent = b.IntentID()
		}
		oldState := b.State()
		if err := s.cancelBooking(ctx, w, &b, "cancelled by "+actor); err != nil {
			return err
		}
		w.audit(cancelledRecord(w, b, oldState, actor))

		if _, err := w.reconcile(ctx, ev); err != nil {
			return err
		}

		cancelled = b
		return nil
	})
	if err != nil {
		return entity.Booking{}, err
	}

	if openIntent != "" {
		s.cancelIntentQuietly(ctx, cancelled, openIntent)
	}

	return cancelled, nil
}

// CancelByContact cancels on behalf of the primary contact. The given email
// must match the booking's attendee email, ignoring case.
func (s *Service) CancelByContact(ctx context.Context, reference, email string) (entity.Booking, error) {
	b, err := s.Get(ctx, reference)
	if err != nil {
		return entity.Booking{}, err
	}
	if !strings.EqualFold(strings.TrimSpace(email), b.AttendeeEmail) {
		return entity.Booking{}, entity.NewAuthorizationError("contact email does not match the booking")
	}
	return s.Cancel(ctx, reference, b.AttendeeEmail)
}

// cancelBooking cancels b in w and sends a refund when money was captured.
func (s *Service) cancelBooking(ctx context.Context, w *work, b *entity.Booking, reason string) error {
	if err := b.Cancel(w.now); err != nil {
		return err
	}
	if err := w.tx.UpdateBooking(ctx, *b); err != nil {
		return fmt.Errorf("could not update booking: %w", err)
	}

	if b.PaymentStatus == entity.PaymentPaid {
		if err := s.sendRefund(ctx, w, *b, reason); err != nil {
			return err
		}
	}
	return nil
}

// cancelledRecord carries the refunded amount when money was captured.
func cancelledRecord(w *work, b entity.Booking, oldState, actor string) entity.AuditRecord {
	record := w.bookingRecord(entity.AuditBookingCancelled, b, oldState, actor)
	if b.PaymentStatus == entity.PaymentPaid {
		record.Amount = moneyOf(b)
	}
	return record
}

func (s *Service) sendRefund(ctx context.Context, w *work, b entity.Booking, reason string) error {
	if b.PaymentIntentID == nil {
		return fmt.Errorf("paid booking %s has no payment intent", b.BookingReference)
	}

	err := w.tx.SendRefund(ctx, entity.RefundBookingPayment_v1{
		Header:           entity.NewEventHeaderWithIdempotencyKey("refund-" + b.BookingReference),
		BookingReference: b.BookingReference,
		PaymentIntentID:  *b.PaymentIntentID,
		Amount:           entity.NewMoney(b.Total, b.Currency),
		Reason:           reason,
	})
	if err != nil {
		return fmt.Errorf("could not send refund for booking %s: %w", b.BookingReference, err)
	}
	return nil
}

func (s *Service) cancelIntentQuietly(ctx context.Context, b entity.Booking, paymentIntentID string) {
	err := s.intents.CancelPaymentIntent(ctx, paymentIntentID)
	if err == nil {
		return
	}

	logger := log.FromContext(ctx).WithFields(logrus.Fields{
		"booking_reference": b.BookingReference,
		"payment_intent_id": paymentIntentID,
	})
	if errors.Is(err, entity.ErrIntentNotCancellable) {
		logger.Info("Payment intent already captured, the late payment will be refunded")
		return
	}
	logger.WithError(err).Warn("Could not cancel payment intent")
}

func moneyOf(b entity.Booking) *entity.Money {
	m := entity.NewMoney(b.Total, b.Currency)
	return &m
}
