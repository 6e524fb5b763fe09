package booking_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"masterclass/booking"
	"masterclass/entity"
)

type fixture struct {
	store   *memoryStore
	auditor *auditorMock
	intents *intentsMock
	service *booking.Service
	now     time.Time
}

func newFixture(t *testing.T, now string, opts ...booking.Option) *fixture {
	t.Helper()

	parsed, err := time.Parse(time.RFC3339, now)
	require.NoError(t, err)

	f := &fixture{
		store:   newMemoryStore(),
		auditor: &auditorMock{},
		intents: &intentsMock{notCancellable: map[string]bool{}},
		now:     parsed,
	}
	opts = append([]booking.Option{
		booking.WithClock(func() time.Time { return f.now }),
		booking.WithRetryBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}, opts...)
	f.service = booking.NewService(f.store, f.auditor, f.intents, opts...)

	return f
}

func mustDate(s string) time.Time {
	t, err := time.Parse(entity.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// boundaryEvent has three seats at 100.00 CAD, 80.00 early bird until
// 2025-06-30 and 10% off groups of three.
func boundaryEvent() entity.CityEvent {
	deadline := mustDate("2025-06-30")
	return entity.CityEvent{
		EventID:                 1,
		CityID:                  1,
		VenueID:                 1,
		StartDate:               mustDate("2025-08-01"),
		EndDate:                 mustDate("2025-08-02"),
		StartTime:               "09:00",
		EndTime:                 "17:00",
		TotalCapacity:           3,
		AvailableSpots:          3,
		Status:                  entity.CityEventPublished,
		RegularPrice:            decimal.RequireFromString("100.00"),
		EarlyBirdPrice:          decimal.NewNullDecimal(decimal.RequireFromString("80.00")),
		EarlyBirdDeadline:       &deadline,
		GroupDiscountPercentage: decimal.NewFromInt(10),
		GroupMinimum:            3,
		Currency:                "CAD",
		Timezone:                "America/Toronto",
	}
}

func request(cityEventID int64, ticketType entity.TicketType, quantity int) booking.CreateRequest {
	return booking.CreateRequest{
		CityEventID: cityEventID,
		TicketType:  ticketType,
		Quantity:    quantity,
		Contact: entity.Contact{
			Name:  "Jeanne Tremblay",
			Email: "jeanne@example.com",
		},
	}
}

// assertCapacityConserved checks available_spots + held seats = capacity.
func assertCapacityConserved(t *testing.T, f *fixture, cityEventID int64) {
	t.Helper()

	ev := f.store.cityEvent(cityEventID)
	held := f.store.lockedHeldSeats(cityEventID)
	assert.Equal(t, ev.TotalCapacity, ev.AvailableSpots+held, "available=%d held=%d", ev.AvailableSpots, held)
	if ev.Status == entity.CityEventPublished || ev.Status == entity.CityEventSoldOut {
		assert.Equal(t, ev.AvailableSpots == 0, ev.Status == entity.CityEventSoldOut)
	}
}

func createWithIntent(t *testing.T, f *fixture, req booking.CreateRequest, intentID string) entity.Booking {
	t.Helper()

	ctx := context.Background()
	b, err := f.service.CreatePending(ctx, req)
	require.NoError(t, err)

	b, err = f.service.AttachPaymentIntent(ctx, b.BookingReference, intentID)
	require.NoError(t, err)
	return b
}

func TestCreatePending_boundaryScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("regular", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())

		b, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
		require.NoError(t, err)

		assert.Equal(t, "100.00", b.Subtotal.StringFixed(2))
		assert.Equal(t, "0.00", b.Discount.StringFixed(2))
		assert.Equal(t, "100.00", b.Total.StringFixed(2))
		assert.Equal(t, entity.BookingPending, b.Status)
		assert.Equal(t, entity.PaymentPending, b.PaymentStatus)
		assert.Regexp(t, `^MC2025[A-Z0-9]{8}$`, b.BookingReference)
		require.Len(t, b.Attendees, 1)
		assert.Equal(t, "Jeanne", b.Attendees[0].FirstName)
		assert.Equal(t, "Tremblay", b.Attendees[0].LastName)

		after := f.store.cityEvent(ev.ID)
		assert.Equal(t, 2, after.AvailableSpots)
		assert.Equal(t, entity.CityEventPublished, after.Status)
		assertCapacityConserved(t, f, ev.ID)
		assert.Equal(t, []string{entity.AuditBookingCreated}, f.auditor.types())
	})

	t.Run("early bird after deadline", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())

		_, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketEarlyBird, 1))
		require.Error(t, err)
		assert.Equal(t, entity.KindPricing, entity.KindOf(err))
		assert.Contains(t, err.Error(), "early bird unavailable")

		assert.Equal(t, 3, f.store.cityEvent(ev.ID).AvailableSpots)
		assert.Empty(t, f.store.bookings)
		assert.Empty(t, f.auditor.types())
	})

	t.Run("early bird before deadline", func(t *testing.T) {
		f := newFixture(t, "2025-06-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())

		b, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketEarlyBird, 1))
		require.NoError(t, err)

		assert.Equal(t, "80.00", b.Subtotal.StringFixed(2))
		assert.Equal(t, "0.00", b.Discount.StringFixed(2))
		assert.Equal(t, "80.00", b.Total.StringFixed(2))
	})

	t.Run("early bird deadline in event timezone", func(t *testing.T) {
		// 2025-07-01 02:00 UTC is still 2025-06-30 in Toronto
		f := newFixture(t, "2025-07-01T02:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())

		b, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketEarlyBird, 1))
		require.NoError(t, err)
		assert.Equal(t, "80.00", b.Total.StringFixed(2))
	})

	t.Run("group sells out, then capacity is exhausted", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())

		b, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketGroup, 3))
		require.NoError(t, err)

		assert.Equal(t, "300.00", b.Subtotal.StringFixed(2))
		assert.Equal(t, "30.00", b.Discount.StringFixed(2))
		assert.Equal(t, "270.00", b.Total.StringFixed(2))

		after := f.store.cityEvent(ev.ID)
		assert.Equal(t, 0, after.AvailableSpots)
		assert.Equal(t, entity.CityEventSoldOut, after.Status)
		assert.Contains(t, f.auditor.types(), entity.AuditCityEventAvailability)

		_, err = f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
		require.Error(t, err)
		assert.Equal(t, entity.KindInsufficient, entity.KindOf(err))
		assert.Equal(t, entity.CityEventSoldOut, f.store.cityEvent(ev.ID).Status)
		assertCapacityConserved(t, f, ev.ID)
	})

	t.Run("failed payment releases seats", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())

		b := createWithIntent(t, f, request(ev.ID, entity.TicketGroup, 3), "pi_group")
		require.Equal(t, entity.CityEventSoldOut, f.store.cityEvent(ev.ID).Status)

		failed, err := f.service.ConfirmPayment(ctx, booking.PaymentEvent{
			ProviderEventID: "evt_1",
			PaymentIntentID: "pi_group",
			Outcome:         booking.PaymentFailed,
		})
		require.NoError(t, err)

		assert.Equal(t, b.BookingReference, failed.BookingReference)
		assert.Equal(t, entity.BookingCancelled, failed.Status)
		assert.Equal(t, entity.PaymentFailed, failed.PaymentStatus)
		assert.NotNil(t, failed.CancelledAt)

		after := f.store.cityEvent(ev.ID)
		assert.Equal(t, 3, after.AvailableSpots)
		assert.Equal(t, entity.CityEventPublished, after.Status)
		assertCapacityConserved(t, f, ev.ID)

		payments := f.store.paymentsOf("pi_group")
		require.Len(t, payments, 1)
		assert.Equal(t, entity.PaymentFailed, payments[0].Status)
		assert.Equal(t, "270.00", payments[0].Amount.StringFixed(2))
	})
}

func TestCreatePending_concurrentRequestsDoNotOversell(t *testing.T) {
	f := newFixture(t, "2025-07-15T12:00:00Z")
	ev := f.store.addCityEvent(boundaryEvent())

	var (
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 2))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case entity.KindOf(err) == entity.KindInsufficient:
				insufficient++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 1, f.store.cityEvent(ev.ID).AvailableSpots)
	assertCapacityConserved(t, f, ev.ID)
}

func TestCreatePending_manyConcurrentSingleSeats(t *testing.T) {
	f := newFixture(t, "2025-07-15T12:00:00Z")
	ev := boundaryEvent()
	ev.TotalCapacity = 7
	ev.AvailableSpots = 7
	ev = f.store.addCityEvent(ev)

	var g errgroup.Group
	results := make([]error, 25)
	for i := range results {
		i := i
		g.Go(func() error {
			_, results[i] = f.service.CreatePending(context.Background(), request(ev.ID, entity.TicketRegular, 1))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, entity.KindInsufficient, entity.KindOf(err))
	}

	assert.Equal(t, 7, succeeded)
	after := f.store.cityEvent(ev.ID)
	assert.Equal(t, 0, after.AvailableSpots)
	assert.Equal(t, entity.CityEventSoldOut, after.Status)
	assertCapacityConserved(t, f, ev.ID)
}

func TestCreatePending_rejections(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		mutate   func(ev *entity.CityEvent)
		request  func(cityEventID int64) booking.CreateRequest
		expected entity.Kind
	}{
		{
			name:     "draft event",
			mutate:   func(ev *entity.CityEvent) { ev.Status = entity.CityEventDraft },
			request:  func(id int64) booking.CreateRequest { return request(id, entity.TicketRegular, 1) },
			expected: entity.KindNotBookable,
		},
		{
			name:     "cancelled event",
			mutate:   func(ev *entity.CityEvent) { ev.Status = entity.CityEventCancelled },
			request:  func(id int64) booking.CreateRequest { return request(id, entity.TicketRegular, 1) },
			expected: entity.KindNotBookable,
		},
		{
			name:     "unknown event",
			request:  func(id int64) booking.CreateRequest { return request(id+100, entity.TicketRegular, 1) },
			expected: entity.KindNotFound,
		},
		{
			name:     "group below minimum",
			request:  func(id int64) booking.CreateRequest { return request(id, entity.TicketGroup, 2) },
			expected: entity.KindPricing,
		},
		{
			name:     "quantity above maximum",
			request:  func(id int64) booking.CreateRequest { return request(id, entity.TicketRegular, 11) },
			expected: entity.KindValidation,
		},
		{
			name: "invalid contact email",
			request: func(id int64) booking.CreateRequest {
				req := request(id, entity.TicketRegular, 1)
				req.Contact.Email = "not-an-email"
				return req
			},
			expected: entity.KindValidation,
		},
		{
			name: "more attendees than seats",
			request: func(id int64) booking.CreateRequest {
				req := request(id, entity.TicketRegular, 1)
				req.Attendees = []entity.Attendee{
					{FirstName: "A", Email: "a@example.com"},
					{FirstName: "B", Email: "b@example.com"},
				}
				return req
			},
			expected: entity.KindValidation,
		},
		{
			name:     "more seats than available",
			request:  func(id int64) booking.CreateRequest { return request(id, entity.TicketRegular, 4) },
			expected: entity.KindInsufficient,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "2025-07-15T12:00:00Z")
			ev := boundaryEvent()
			if tc.mutate != nil {
				tc.mutate(&ev)
			}
			ev = f.store.addCityEvent(ev)

			_, err := f.service.CreatePending(ctx, tc.request(ev.ID))
			require.Error(t, err)
			assert.Equal(t, tc.expected, entity.KindOf(err))

			assert.Empty(t, f.store.bookings)
			assert.Equal(t, ev.AvailableSpots, f.store.cityEvent(ev.ID).AvailableSpots)
		})
	}
}

func TestCreatePending_suppliedAttendees(t *testing.T) {
	f := newFixture(t, "2025-07-15T12:00:00Z")
	ev := f.store.addCityEvent(boundaryEvent())

	req := request(ev.ID, entity.TicketRegular, 2)
	req.Attendees = []entity.Attendee{
		{FirstName: "Ana", LastName: "Lopez", Email: "ana@example.com"},
		{FirstName: "Ben", LastName: "Roy", Email: "ben@example.com"},
	}

	b, err := f.service.CreatePending(context.Background(), req)
	require.NoError(t, err)

	fetched, err := f.service.Get(context.Background(), b.BookingReference)
	require.NoError(t, err)
	require.Len(t, fetched.Attendees, 2)
	assert.Equal(t, "ana@example.com", fetched.Attendees[0].Email)
	assert.Equal(t, b.ID, fetched.Attendees[1].BookingID)
}

func TestCreatePending_referenceCollision(t *testing.T) {
	ctx := context.Background()

	t.Run("retries with a new reference", func(t *testing.T) {
		references := []string{"MC2025TAKEN001", "MC2025TAKEN001", "MC2025FRESH002"}
		next := 0
		f := newFixture(t, "2025-07-15T12:00:00Z", booking.WithReferenceGenerator(func(time.Time) (string, error) {
			ref := references[next]
			next++
			return ref, nil
		}))
		ev := f.store.addCityEvent(boundaryEvent())

		first, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
		require.NoError(t, err)
		second, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
		require.NoError(t, err)

		assert.Equal(t, "MC2025TAKEN001", first.BookingReference)
		assert.Equal(t, "MC2025FRESH002", second.BookingReference)
	})

	t.Run("fails after bounded attempts", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z",
			booking.WithReferenceAttempts(3),
			booking.WithReferenceGenerator(func(time.Time) (string, error) { return "MC2025SAMESAME", nil }),
		)
		ev := f.store.addCityEvent(boundaryEvent())

		_, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
		require.NoError(t, err)

		_, err = f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
		require.Error(t, err)
		assert.Equal(t, entity.KindConflict, entity.KindOf(err))
		assert.Contains(t, err.Error(), "reference collision")
		assert.Equal(t, 2, f.store.cityEvent(ev.ID).AvailableSpots)
	})
}

func TestRun_retriesSerializationFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds within attempts", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())
		f.store.serializationFailures = 2

		_, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
		require.NoError(t, err)

		assert.Equal(t, 3, f.store.transactions)
		assert.Equal(t, 2, f.store.cityEvent(ev.ID).AvailableSpots)
		assert.Equal(t, []string{entity.AuditBookingCreated}, f.auditor.types())
	})

	t.Run("exhaustion surfaces as conflict", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())
		f.store.serializationFailures = 10

		_, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
		require.Error(t, err)

		assert.Equal(t, entity.KindConflict, entity.KindOf(err))
		assert.True(t, errors.Is(err, entity.ErrSerialization))
		assert.Equal(t, 3, f.store.transactions)
		assert.Equal(t, 3, f.store.cityEvent(ev.ID).AvailableSpots)
		assert.Empty(t, f.auditor.types())
	})
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("success keeps capacity", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())
		b := createWithIntent(t, f, request(ev.ID, entity.TicketRegular, 2), "pi_1")
		availableAfterCreate := f.store.cityEvent(ev.ID).AvailableSpots

		confirmed, err := f.service.ConfirmPayment(ctx, booking.PaymentEvent{
			ProviderEventID: "evt_ok",
			PaymentIntentID: "pi_1",
			Outcome:         booking.PaymentSucceeded,
			ChargeID:        "ch_1",
		})
		require.NoError(t, err)

		assert.Equal(t, entity.BookingConfirmed, confirmed.Status)
		assert.Equal(t, entity.PaymentPaid, confirmed.PaymentStatus)
		assert.NotNil(t, confirmed.ConfirmedAt)

		fetched, err := f.service.Get(ctx, b.BookingReference)
		require.NoError(t, err)
		assert.Equal(t, "CONFIRMED/PAID", fetched.State())
		assert.Equal(t, availableAfterCreate, f.store.cityEvent(ev.ID).AvailableSpots)

		payments := f.store.paymentsOf("pi_1")
		require.Len(t, payments, 1)
		assert.Equal(t, entity.PaymentPaid, payments[0].Status)
		require.NotNil(t, payments[0].StripeChargeID)
		assert.Equal(t, "ch_1", *payments[0].StripeChargeID)

		assert.Equal(t, []string{
			entity.AuditBookingCreated,
			entity.AuditPaymentIntentCreated,
			entity.AuditBookingConfirmed,
		}, f.auditor.types())
	})

	t.Run("failure restores pre-creation capacity", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())
		createWithIntent(t, f, request(ev.ID, entity.TicketRegular, 2), "pi_1")

		_, err := f.service.ConfirmPayment(ctx, booking.PaymentEvent{
			ProviderEventID: "evt_fail",
			PaymentIntentID: "pi_1",
			Outcome:         booking.PaymentFailed,
		})
		require.NoError(t, err)

		assert.Equal(t, 3, f.store.cityEvent(ev.ID).AvailableSpots)
		assertCapacityConserved(t, f, ev.ID)
	})

	t.Run("unknown intent", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")

		_, err := f.service.ConfirmPayment(ctx, booking.PaymentEvent{
			PaymentIntentID: "pi_unknown",
			Outcome:         booking.PaymentSucceeded,
		})
		assert.Equal(t, entity.KindNotFound, entity.KindOf(err))
	})

	t.Run("late success after cancellation is refunded", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())
		b := createWithIntent(t, f, request(ev.ID, entity.TicketRegular, 1), "pi_late")

		_, err := f.service.Cancel(ctx, b.BookingReference, b.AttendeeEmail)
		require.NoError(t, err)
		assert.Equal(t, []string{"pi_late"}, f.intents.cancelled)

		late, err := f.service.ConfirmPayment(ctx, booking.PaymentEvent{
			ProviderEventID: "evt_late",
			PaymentIntentID: "pi_late",
			Outcome:         booking.PaymentSucceeded,
		})
		require.NoError(t, err)

		assert.Equal(t, "CANCELLED/PAID", late.State())
		refunds := f.store.sentRefunds()
		require.Len(t, refunds, 1)
		assert.Equal(t, "pi_late", refunds[0].PaymentIntentID)
		assert.Equal(t, entity.NewMoney(b.Total, "CAD"), refunds[0].Amount)
		assert.Equal(t, 3, f.store.cityEvent(ev.ID).AvailableSpots)
	})
}

func TestConfirmPayment_idempotence(t *testing.T) {
	ctx := context.Background()

	sequences := map[string][]booking.PaymentEvent{
		"same event replayed": {
			{ProviderEventID: "evt_1", PaymentIntentID: "pi_1", Outcome: booking.PaymentSucceeded},
			{ProviderEventID: "evt_1", PaymentIntentID: "pi_1", Outcome: booking.PaymentSucceeded},
			{ProviderEventID: "evt_1", PaymentIntentID: "pi_1", Outcome: booking.PaymentSucceeded},
		},
		"redelivered with new event ids": {
			{ProviderEventID: "evt_1", PaymentIntentID: "pi_1", Outcome: booking.PaymentSucceeded},
			{ProviderEventID: "evt_2", PaymentIntentID: "pi_1", Outcome: booking.PaymentSucceeded},
		},
		"failure after success is rejected": {
			{ProviderEventID: "evt_1", PaymentIntentID: "pi_1", Outcome: booking.PaymentSucceeded},
			{ProviderEventID: "evt_2", PaymentIntentID: "pi_1", Outcome: booking.PaymentFailed},
			{ProviderEventID: "evt_1", PaymentIntentID: "pi_1", Outcome: booking.PaymentSucceeded},
		},
	}

	for name, events := range sequences {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, "2025-07-15T12:00:00Z")
			ev := f.store.addCityEvent(boundaryEvent())
			b := createWithIntent(t, f, request(ev.ID, entity.TicketRegular, 1), "pi_1")

			for _, pe := range events {
				_, err := f.service.ConfirmPayment(ctx, pe)
				require.NoError(t, err)
			}

			final, err := f.service.Get(ctx, b.BookingReference)
			require.NoError(t, err)
			assert.Equal(t, "CONFIRMED/PAID", final.State())
			assert.Len(t, f.store.paymentsOf("pi_1"), 1)
			assert.Equal(t, 2, f.store.cityEvent(ev.ID).AvailableSpots)
			assertCapacityConserved(t, f, ev.ID)
		})
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending booking releases seats", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())
		b, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketGroup, 3))
		require.NoError(t, err)

		cancelled, err := f.service.Cancel(ctx, b.BookingReference, "jeanne@example.com")
		require.NoError(t, err)

		assert.Equal(t, "CANCELLED/PENDING", cancelled.State())
		assert.Empty(t, f.store.sentRefunds())
		assert.Empty(t, f.intents.cancelled)

		records := f.auditor.ofType(entity.AuditBookingCancelled)
		require.Len(t, records, 1)
		assert.Nil(t, records[0].Amount)

		after := f.store.cityEvent(ev.ID)
		assert.Equal(t, 3, after.AvailableSpots)
		assert.Equal(t, entity.CityEventPublished, after.Status)
	})

	t.Run("confirmed booking is refunded asynchronously", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())
		b := createWithIntent(t, f, request(ev.ID, entity.TicketRegular, 2), "pi_paid")
		_, err := f.service.ConfirmPayment(ctx, booking.PaymentEvent{PaymentIntentID: "pi_paid", Outcome: booking.PaymentSucceeded})
		require.NoError(t, err)

		cancelled, err := f.service.Cancel(ctx, b.BookingReference, "admin:ops")
		require.NoError(t, err)

		assert.Equal(t, "CANCELLED/PAID", cancelled.State())
		assert.Equal(t, 3, f.store.cityEvent(ev.ID).AvailableSpots)

		refunds := f.store.sentRefunds()
		require.Len(t, refunds, 1)
		assert.Equal(t, b.BookingReference, refunds[0].BookingReference)
		assert.Equal(t, "200.00", refunds[0].Amount.Amount)

		records := f.auditor.ofType(entity.AuditBookingCancelled)
		require.Len(t, records, 1)
		require.NotNil(t, records[0].Amount)
		assert.Equal(t, entity.NewMoney(decimal.RequireFromString("200.00"), "CAD"), *records[0].Amount)

		refunded, err := f.service.ApplyRefund(ctx, booking.PaymentEvent{
			ProviderEventID: "evt_refund",
			PaymentIntentID: "pi_paid",
			Outcome:         booking.PaymentRefunded,
			RefundID:        "re_1",
		})
		require.NoError(t, err)
		assert.Equal(t, "CANCELLED/REFUNDED", refunded.State())

		var refundRow *entity.BookingPayment
		for _, p := range f.store.paymentsOf("pi_paid") {
			p := p
			if p.Status == entity.PaymentRefunded {
				refundRow = &p
			}
		}
		require.NotNil(t, refundRow)
		require.NotNil(t, refundRow.RefundID)
		assert.Equal(t, "re_1", *refundRow.RefundID)
		assertCapacityConserved(t, f, ev.ID)
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")
		ev := f.store.addCityEvent(boundaryEvent())
		b, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
		require.NoError(t, err)

		first, err := f.service.Cancel(ctx, b.BookingReference, "jeanne@example.com")
		require.NoError(t, err)

		f.now = f.now.Add(time.Hour)
		second, err := f.service.Cancel(ctx, b.BookingReference, "jeanne@example.com")
		require.NoError(t, err)

		assert.Equal(t, first.State(), second.State())
		assert.Equal(t, first.CancelledAt, second.CancelledAt)
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
		assert.Equal(t, 3, f.store.cityEvent(ev.ID).AvailableSpots)
	})

	t.Run("unknown reference", func(t *testing.T) {
		f := newFixture(t, "2025-07-15T12:00:00Z")

		_, err := f.service.Cancel(ctx, "MC2025NOPE0000", "jeanne@example.com")
		assert.Equal(t, entity.KindNotFound, entity.KindOf(err))
	})
}

func TestCancelByContact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-07-15T12:00:00Z")
	ev := f.store.addCityEvent(boundaryEvent())
	b, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 2))
	require.NoError(t, err)

	_, err = f.service.CancelByContact(ctx, b.BookingReference, "someone@example.com")
	assert.Equal(t, entity.KindAuthorization, entity.KindOf(err))
	assert.Equal(t, 1, f.store.cityEvent(ev.ID).AvailableSpots)

	cancelled, err := f.service.CancelByContact(ctx, b.BookingReference, " Jeanne@Example.com")
	require.NoError(t, err)
	assert.Equal(t, entity.BookingCancelled, cancelled.Status)
	assert.Equal(t, 3, f.store.cityEvent(ev.ID).AvailableSpots)
	assert.Contains(t, f.auditor.types(), entity.AuditBookingCancelled)

	_, err = f.service.CancelByContact(ctx, "MC2025NOPE0000", "jeanne@example.com")
	assert.Equal(t, entity.KindNotFound, entity.KindOf(err))
}

func TestApplyRefund_confirmedBookingReleasesSeats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-07-15T12:00:00Z")
	ev := f.store.addCityEvent(boundaryEvent())
	createWithIntent(t, f, request(ev.ID, entity.TicketGroup, 3), "pi_group")

	_, err := f.service.ConfirmPayment(ctx, booking.PaymentEvent{PaymentIntentID: "pi_group", Outcome: booking.PaymentSucceeded})
	require.NoError(t, err)
	require.Equal(t, entity.CityEventSoldOut, f.store.cityEvent(ev.ID).Status)

	for i := 0; i < 2; i++ {
		refunded, err := f.service.ApplyRefund(ctx, booking.PaymentEvent{
			ProviderEventID: fmt.Sprintf("evt_refund_%d", i),
			PaymentIntentID: "pi_group",
			Outcome:         booking.PaymentRefunded,
		})
		require.NoError(t, err)
		assert.Equal(t, "REFUNDED/REFUNDED", refunded.State())
	}

	after := f.store.cityEvent(ev.ID)
	assert.Equal(t, 3, after.AvailableSpots)
	assert.Equal(t, entity.CityEventPublished, after.Status)
	assert.Len(t, f.store.paymentsOf("pi_group"), 2)
}

func TestExpireOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-07-15T12:00:00Z")
	ev := boundaryEvent()
	ev.TotalCapacity = 10
	ev.AvailableSpots = 10
	ev = f.store.addCityEvent(ev)

	withoutIntent, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
	require.NoError(t, err)
	withIntent := createWithIntent(t, f, request(ev.ID, entity.TicketRegular, 2), "pi_open")
	capturing := createWithIntent(t, f, request(ev.ID, entity.TicketRegular, 3), "pi_capturing")
	f.intents.notCancellable["pi_capturing"] = true

	f.now = f.now.Add(20 * time.Minute)
	fresh, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
	require.NoError(t, err)

	f.now = f.now.Add(15 * time.Minute)
	expired, err := f.service.ExpireOrphans(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	for ref, state := range map[string]string{
		withoutIntent.BookingReference: "CANCELLED/FAILED",
		withIntent.BookingReference:    "CANCELLED/FAILED",
		capturing.BookingReference:     "PENDING/PENDING",
		fresh.BookingReference:         "PENDING/PENDING",
	} {
		b, err := f.service.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, state, b.State(), ref)
	}

	assert.Equal(t, []string{"pi_open"}, f.intents.cancelled)
	assert.Equal(t, 6, f.store.cityEvent(ev.ID).AvailableSpots)
	assertCapacityConserved(t, f, ev.ID)

	expired, err = f.service.ExpireOrphans(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
}

func TestExpireOrphans_pagesPastStuckIntents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-07-15T12:00:00Z", booking.WithSweepBatchSize(2))
	ev := boundaryEvent()
	ev.TotalCapacity = 10
	ev.AvailableSpots = 10
	ev = f.store.addCityEvent(ev)

	var stuck []entity.Booking
	for i := 0; i < 3; i++ {
		intentID := fmt.Sprintf("pi_capturing_%d", i)
		stuck = append(stuck, createWithIntent(t, f, request(ev.ID, entity.TicketRegular, 1), intentID))
		f.intents.notCancellable[intentID] = true
	}

	f.now = f.now.Add(time.Minute)
	later, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	expired, err := f.service.ExpireOrphans(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := f.service.Get(ctx, later.BookingReference)
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED/FAILED", got.State())

	for _, b := range stuck {
		got, err := f.service.Get(ctx, b.BookingReference)
		require.NoError(t, err)
		assert.Equal(t, "PENDING/PENDING", got.State(), b.BookingReference)
	}

	assert.Equal(t, 7, f.store.cityEvent(ev.ID).AvailableSpots)
	assertCapacityConserved(t, f, ev.ID)
}

func TestSweeper_runsUntilCancelled(t *testing.T) {
	f := newFixture(t, "2025-07-15T12:00:00Z")
	ev := f.store.addCityEvent(boundaryEvent())
	b, err := f.service.CreatePending(context.Background(), request(ev.ID, entity.TicketRegular, 1))
	require.NoError(t, err)
	f.now = f.now.Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- booking.NewSweeper(f.service, 30*time.Minute, 10*time.Millisecond).Run(ctx)
	}()

	assert.EventuallyWithT(t, func(t *assert.CollectT) {
		got, err := f.service.Get(context.Background(), b.BookingReference)
		assert.NoError(t, err)
		assert.Equal(t, "CANCELLED/FAILED", got.State())
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestPublishCityEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-07-15T12:00:00Z")
	draft := boundaryEvent()
	draft.Status = entity.CityEventDraft
	draft = f.store.addCityEvent(draft)

	_, err := f.service.CreatePending(ctx, request(draft.ID, entity.TicketRegular, 1))
	assert.Equal(t, entity.KindNotBookable, entity.KindOf(err))

	published, err := f.service.PublishCityEvent(ctx, draft.ID, "admin:ops")
	require.NoError(t, err)
	assert.Equal(t, entity.CityEventPublished, published.Status)
	assert.Equal(t, 3, published.AvailableSpots)

	again, err := f.service.PublishCityEvent(ctx, draft.ID, "admin:ops")
	require.NoError(t, err)
	assert.Equal(t, entity.CityEventPublished, again.Status)

	_, err = f.service.CreatePending(ctx, request(draft.ID, entity.TicketRegular, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{entity.AuditCityEventPublished, entity.AuditBookingCreated}, f.auditor.types())
}

func TestCancelCityEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-07-15T12:00:00Z")
	ev := boundaryEvent()
	ev.TotalCapacity = 5
	ev.AvailableSpots = 5
	ev = f.store.addCityEvent(ev)

	pending := createWithIntent(t, f, request(ev.ID, entity.TicketRegular, 2), "pi_pending")
	paid := createWithIntent(t, f, request(ev.ID, entity.TicketRegular, 3), "pi_paid")
	_, err := f.service.ConfirmPayment(ctx, booking.PaymentEvent{PaymentIntentID: "pi_paid", Outcome: booking.PaymentSucceeded})
	require.NoError(t, err)
	require.Equal(t, entity.CityEventSoldOut, f.store.cityEvent(ev.ID).Status)

	result, err := f.service.CancelCityEvent(ctx, ev.ID, "admin:ops")
	require.NoError(t, err)

	assert.Equal(t, entity.CityEventCancelled, result.CityEvent.Status)
	assert.Equal(t, 5, result.CityEvent.AvailableSpots)
	assert.Len(t, result.Cancelled, 2)
	assert.Equal(t, 1, result.Refunded)

	refunds := f.store.sentRefunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, paid.BookingReference, refunds[0].BookingReference)
	assert.Equal(t, []string{"pi_pending"}, f.intents.cancelled)

	for _, r := range f.auditor.ofType(entity.AuditBookingCancelled) {
		if r.BookingReference == paid.BookingReference {
			require.NotNil(t, r.Amount)
			assert.Equal(t, "300.00", r.Amount.Amount)
		} else {
			assert.Nil(t, r.Amount, r.BookingReference)
		}
	}

	got, err := f.service.Get(ctx, pending.BookingReference)
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED/PENDING", got.State())

	after := f.store.cityEvent(ev.ID)
	assert.Equal(t, entity.CityEventCancelled, after.Status)
	assert.Equal(t, 5, after.AvailableSpots)

	_, err = f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 1))
	assert.Equal(t, entity.KindNotBookable, entity.KindOf(err))

	again, err := f.service.CancelCityEvent(ctx, ev.ID, "admin:ops")
	require.NoError(t, err)
	assert.Empty(t, again.Cancelled)
	assert.Len(t, f.store.sentRefunds(), 1)

	_, err = f.service.PublishCityEvent(ctx, ev.ID, "admin:ops")
	assert.Equal(t, entity.KindConflict, entity.KindOf(err))
}

func TestReconcileAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-07-15T12:00:00Z")
	ev := f.store.addCityEvent(boundaryEvent())

	_, err := f.service.CreatePending(ctx, request(ev.ID, entity.TicketRegular, 2))
	require.NoError(t, err)

	drifted := f.store.cityEvent(ev.ID)
	drifted.AvailableSpots = 0
	drifted.Status = entity.CityEventSoldOut
	f.store.mu.Lock()
	f.store.cityEvents[ev.ID] = drifted
	f.store.mu.Unlock()

	reconciled, err := f.service.ReconcileAvailability(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reconciled.AvailableSpots)
	assert.Equal(t, entity.CityEventPublished, reconciled.Status)
	assertCapacityConserved(t, f, ev.ID)
	assert.Contains(t, f.auditor.types(), entity.AuditCityEventAvailability)

	_, err = f.service.ReconcileAvailability(ctx, 999)
	assert.Equal(t, entity.KindNotFound, entity.KindOf(err))
}
