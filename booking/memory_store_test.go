package booking_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"masterclass/booking"
	"masterclass/entity"
)

// memoryStore runs every transaction under one mutex and restores a
// snapshot when the transaction fails.
type memoryStore struct {
	mu sync.Mutex

	cityEvents    map[int64]entity.CityEvent
	bookings      map[int64]entity.Booking
	attendees     map[int64][]entity.Attendee
	payments      []entity.BookingPayment
	webhookEvents map[string]bool
	refunds       []entity.RefundBookingPayment_v1
	nextID        int64

	// serializationFailures makes the next n transactions fail after
	// running, as Postgres does on a serialisation conflict.
	serializationFailures int
	transactions          int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		cityEvents:    map[int64]entity.CityEvent{},
		bookings:      map[int64]entity.Booking{},
		attendees:     map[int64][]entity.Attendee{},
		webhookEvents: map[string]bool{},
	}
}

type memorySnapshot struct {
	cityEvents    map[int64]entity.CityEvent
	bookings      map[int64]entity.Booking
	attendees     map[int64][]entity.Attendee
	payments      []entity.BookingPayment
	webhookEvents map[string]bool
	refunds       []entity.RefundBookingPayment_v1
	nextID        int64
}

func (s *memoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		cityEvents:    make(map[int64]entity.CityEvent, len(s.cityEvents)),
		bookings:      make(map[int64]entity.Booking, len(s.bookings)),
		attendees:     make(map[int64][]entity.Attendee, len(s.attendees)),
		payments:      append([]entity.BookingPayment(nil), s.payments...),
		webhookEvents: make(map[string]bool, len(s.webhookEvents)),
		refunds:       append([]entity.RefundBookingPayment_v1(nil), s.refunds...),
		nextID:        s.nextID,
	}
	for k, v := range s.cityEvents {
		snap.cityEvents[k] = v
	}
	for k, v := range s.bookings {
		snap.bookings[k] = v
	}
	for k, v := range s.attendees {
		snap.attendees[k] = append([]entity.Attendee(nil), v...)
	}
	for k, v := range s.webhookEvents {
		snap.webhookEvents[k] = v
	}
	return snap
}

func (s *memoryStore) restore(snap memorySnapshot) {
	s.cityEvents = snap.cityEvents
	s.bookings = snap.bookings
	s.attendees = snap.attendees
	s.payments = snap.payments
	s.webhookEvents = snap.webhookEvents
	s.refunds = snap.refunds
	s.nextID = snap.nextID
}

func (s *memoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions++
	snap := s.snapshot()

	err := fn(ctx, memoryTx{s: s})
	if err == nil && s.serializationFailures > 0 {
		s.serializationFailures--
		err = entity.ErrSerialization
	}
	if err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memoryStore) addCityEvent(ev entity.CityEvent) entity.CityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	ev.ID = s.nextID
	s.cityEvents[ev.ID] = ev
	return ev
}

func (s *memoryStore) cityEvent(id int64) entity.CityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cityEvents[id]
}

func (s *memoryStore) heldSeats(cityEventID int64) int {
	held := 0
	for _, b := range s.bookings {
		if b.CityEventID == cityEventID && b.Status.HoldsSeats() {
			held += b.Quantity
		}
	}
	return held
}

func (s *memoryStore) lockedHeldSeats(cityEventID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldSeats(cityEventID)
}

func (s *memoryStore) paymentsOf(intentID string) []entity.BookingPayment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entity.BookingPayment
	for _, p := range s.payments {
		if p.PaymentIntentID == intentID {
			out = append(out, p)
		}
	}
	return out
}

func (s *memoryStore) sentRefunds() []entity.RefundBookingPayment_v1 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.RefundBookingPayment_v1(nil), s.refunds...)
}

func (s *memoryStore) findBooking(match func(entity.Booking) bool) (entity.Booking, error) {
	for _, b := range s.bookings {
		if match(b) {
			b.Attendees = append([]entity.Attendee(nil), s.attendees[b.ID]...)
			return b, nil
		}
	}
	return entity.Booking{}, entity.ErrNotFound
}

func (s *memoryStore) BookingByReference(ctx context.Context, reference string) (entity.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findBooking(func(b entity.Booking) bool { return b.BookingReference == reference })
}

func (s *memoryStore) BookingByPaymentIntent(ctx context.Context, paymentIntentID string) (entity.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findBooking(func(b entity.Booking) bool { return b.IntentID() == paymentIntentID })
}

func (s *memoryStore) CityEventBookings(ctx context.Context, cityEventID int64) ([]entity.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entity.Booking
	for _, b := range s.bookings {
		if b.CityEventID == cityEventID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) StalePendingBookings(ctx context.Context, createdBefore time.Time, after booking.StaleCursor, limit int) ([]entity.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	afterCursor := func(b entity.Booking) bool {
		if after.CreatedAt.IsZero() {
			return true
		}
		if !b.CreatedAt.Equal(after.CreatedAt) {
			return b.CreatedAt.After(after.CreatedAt)
		}
		return b.ID > after.ID
	}

	var out []entity.Booking
	for _, b := range s.bookings {
		if b.IsAwaitingPayment() && b.CreatedAt.Before(createdBefore) && afterCursor(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryTx struct {
	s *memoryStore
}

func (t memoryTx) LockCityEvent(ctx context.Context, id int64) (entity.CityEvent, error) {
	ev, ok := t.s.cityEvents[id]
	if !ok {
		return entity.CityEvent{}, entity.ErrNotFound
	}
	return ev, nil
}

func (t memoryTx) HeldSeats(ctx context.Context, cityEventID int64) (int, error) {
	return t.s.heldSeats(cityEventID), nil
}

func (t memoryTx) UpdateCityEventAvailability(ctx context.Context, id int64, availableSpots int, status entity.CityEventStatus) error {
	ev, ok := t.s.cityEvents[id]
	if !ok {
		return entity.ErrNotFound
	}
	ev.AvailableSpots = availableSpots
	ev.Status = status
	t.s.cityEvents[id] = ev
	return nil
}

func (t memoryTx) InsertBooking(ctx context.Context, b *entity.Booking) error {
	for _, existing := range t.s.bookings {
		if existing.BookingReference == b.BookingReference {
			return entity.ErrReferenceTaken
		}
	}
	t.s.nextID++
	b.ID = t.s.nextID

	stored := *b
	stored.Attendees = nil
	t.s.bookings[b.ID] = stored
	return nil
}

func (t memoryTx) InsertAttendees(ctx context.Context, bookingID int64, attendees []entity.Attendee) error {
	for _, a := range attendees {
		t.s.nextID++
		a.ID = t.s.nextID
		a.BookingID = bookingID
		t.s.attendees[bookingID] = append(t.s.attendees[bookingID], a)
	}
	return nil
}

func (t memoryTx) LockBooking(ctx context.Context, reference string) (entity.Booking, error) {
	return t.s.findBooking(func(b entity.Booking) bool { return b.BookingReference == reference })
}

func (t memoryTx) LockBookingByPaymentIntent(ctx context.Context, paymentIntentID string) (entity.Booking, error) {
	return t.s.findBooking(func(b entity.Booking) bool { return b.IntentID() == paymentIntentID })
}

func (t memoryTx) LockActiveBookings(ctx context.Context, cityEventID int64) ([]entity.Booking, error) {
	var out []entity.Booking
	for _, b := range t.s.bookings {
		if b.CityEventID == cityEventID && b.Status.HoldsSeats() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t memoryTx) UpdateBooking(ctx context.Context, b entity.Booking) error {
	existing, ok := t.s.bookings[b.ID]
	if !ok {
		return entity.ErrNotFound
	}
	b.BookingReference = existing.BookingReference
	b.Attendees = nil
	t.s.bookings[b.ID] = b
	return nil
}

func (t memoryTx) InsertPayment(ctx context.Context, p entity.BookingPayment) (bool, error) {
	for _, existing := range t.s.payments {
		if existing.PaymentIntentID == p.PaymentIntentID && existing.Status == p.Status {
			return false, nil
		}
	}
	t.s.nextID++
	p.ID = t.s.nextID
	t.s.payments = append(t.s.payments, p)
	return true, nil
}

func (t memoryTx) MarkWebhookEventProcessed(ctx context.Context, providerEventID string) (bool, error) {
	if t.s.webhookEvents[providerEventID] {
		return false, nil
	}
	t.s.webhookEvents[providerEventID] = true
	return true, nil
}

func (t memoryTx) SendRefund(ctx context.Context, cmd entity.RefundBookingPayment_v1) error {
	t.s.refunds = append(t.s.refunds, cmd)
	return nil
}

type auditorMock struct {
	mu      sync.Mutex
	records []entity.AuditRecord
}

func (a *auditorMock) Record(ctx context.Context, records ...entity.AuditRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, records...)
}

func (a *auditorMock) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r.Type)
	}
	return out
}

type intentsMock struct {
	mu             sync.Mutex
	cancelled      []string
	notCancellable map[string]bool
}

func (m *intentsMock) CancelPaymentIntent(ctx context.Context, paymentIntentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.notCancellable[paymentIntentID] {
		return entity.ErrIntentNotCancellable
	}
	m.cancelled = append(m.cancelled, paymentIntentID)
	return nil
}

func (a *auditorMock) ofType(recordType string) []entity.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []entity.AuditRecord
	for _, r := range a.records {
		if r.Type == recordType {
			out = append(out, r)
		}
	}
	return out
}
