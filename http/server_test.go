package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterclass/booking"
	"masterclass/entity"
	"masterclass/payment"
)

const testJWTSecret = "test-secret"

type catalogMock struct {
	Catalog

	getCityEvent        func(ctx context.Context, id int64) (entity.CityEvent, error)
	cityEventsByCity    func(ctx context.Context, cityID int64, status entity.CityEventStatus) ([]entity.CityEvent, error)
	getCityEventDetails func(ctx context.Context, id int64) (entity.CityEventDetails, error)
	createCityEvent     func(ctx context.Context, ev entity.CityEvent) (entity.CityEvent, error)
	createEvent         func(ctx context.Context, ev entity.MasterclassEvent) (entity.MasterclassEvent, error)
}

func (m catalogMock) GetCityEvent(ctx context.Context, id int64) (entity.CityEvent, error) {
	return m.getCityEvent(ctx, id)
}

func (m catalogMock) CityEventsByCity(ctx context.Context, cityID int64, status entity.CityEventStatus) ([]entity.CityEvent, error) {
	return m.cityEventsByCity(ctx, cityID, status)
}

func (m catalogMock) GetCityEventDetails(ctx context.Context, id int64) (entity.CityEventDetails, error) {
	return m.getCityEventDetails(ctx, id)
}

func (m catalogMock) CreateCityEvent(ctx context.Context, ev entity.CityEvent) (entity.CityEvent, error) {
	return m.createCityEvent(ctx, ev)
}

func (m catalogMock) CreateEvent(ctx context.Context, ev entity.MasterclassEvent) (entity.MasterclassEvent, error) {
	return m.createEvent(ctx, ev)
}

type bookingsMock struct {
	Bookings

	createPending     func(ctx context.Context, req booking.CreateRequest) (entity.Booking, error)
	get               func(ctx context.Context, reference string) (entity.Booking, error)
	cancel            func(ctx context.Context, reference, actor string) (entity.Booking, error)
	cancelByContact   func(ctx context.Context, reference, email string) (entity.Booking, error)
	cancelCityEvent   func(ctx context.Context, cityEventID int64, actor string) (booking.CityEventCancellation, error)
	publishCityEvent  func(ctx context.Context, cityEventID int64, actor string) (entity.CityEvent, error)
	cityEventBookings func(ctx context.Context, cityEventID int64) ([]entity.Booking, error)
}

func (m bookingsMock) CreatePending(ctx context.Context, req booking.CreateRequest) (entity.Booking, error) {
	return m.createPending(ctx, req)
}

func (m bookingsMock) Get(ctx context.Context, reference string) (entity.Booking, error) {
	return m.get(ctx, reference)
}

func (m bookingsMock) Cancel(ctx context.Context, reference, actor string) (entity.Booking, error) {
	return m.cancel(ctx, reference, actor)
}

func (m bookingsMock) CancelByContact(ctx context.Context, reference, email string) (entity.Booking, error) {
	return m.cancelByContact(ctx, reference, email)
}

func (m bookingsMock) CancelCityEvent(ctx context.Context, cityEventID int64, actor string) (booking.CityEventCancellation, error) {
	return m.cancelCityEvent(ctx, cityEventID, actor)
}

func (m bookingsMock) PublishCityEvent(ctx context.Context, cityEventID int64, actor string) (entity.CityEvent, error) {
	return m.publishCityEvent(ctx, cityEventID, actor)
}

func (m bookingsMock) CityEventBookings(ctx context.Context, cityEventID int64) ([]entity.Booking, error) {
	return m.cityEventBookings(ctx, cityEventID)
}

type paymentsMock struct {
	createIntent  func(ctx context.Context, b entity.Booking) (entity.Booking, string, error)
	handleWebhook func(ctx context.Context, payload []byte, signatureHeader string) (payment.WebhookResult, error)
}

func (m paymentsMock) CreateIntent(ctx context.Context, b entity.Booking) (entity.Booking, string, error) {
	return m.createIntent(ctx, b)
}

func (m paymentsMock) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (payment.WebhookResult, error) {
	return m.handleWebhook(ctx, payload, signatureHeader)
}

type auditLogMock struct {
	find func(ctx context.Context, filter entity.AuditLogFilter) ([]entity.AuditRecord, error)
}

func (m auditLogMock) Find(ctx context.Context, filter entity.AuditLogFilter) ([]entity.AuditRecord, error) {
	return m.find(ctx, filter)
}

func newTestServer(catalog catalogMock, bookings bookingsMock, payments paymentsMock, auditLog auditLogMock) *Server {
	return NewServer(Config{AdminJWTSecret: testJWTSecret}, catalog, bookings, payments, auditLog, nil)
}

type response struct {
	Code int
	Body map[string]any
	List []any
}

func do(t *testing.T, s *Server, method, target, body string, headers ...string) response {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	resp := response{Code: rec.Code}
	raw := rec.Body.Bytes()
	if len(raw) > 0 && raw[0] == '[' {
		require.NoError(t, json.Unmarshal(raw, &resp.List), rec.Body.String())
	} else if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &resp.Body), rec.Body.String())
	}
	return resp
}

func adminToken(t *testing.T, role string) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	return "Bearer " + token
}

func TestNewServer_panicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() {
		NewServer(Config{}, nil, bookingsMock{}, paymentsMock{}, auditLogMock{}, nil)
	})
}

func TestHealth(t *testing.T) {
	s := newTestServer(catalogMock{}, bookingsMock{}, paymentsMock{}, auditLogMock{})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestErrorBody(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", entity.NewValidationError("quantity must be between 1 and 10"), http.StatusBadRequest, "ValidationError"},
		{"not bookable", entity.NewNotBookable("event not bookable"), http.StatusConflict, "NotBookable"},
		{"insufficient", entity.NewInsufficientCapacity(3, 1), http.StatusConflict, "InsufficientCapacity"},
		{"pricing", entity.NewPricingError("early bird unavailable"), http.StatusUnprocessableEntity, "PricingError"},
		{"not found", entity.NewNotFound("booking"), http.StatusNotFound, "NotFound"},
		{"plain not found", entity.ErrNotFound, http.StatusNotFound, "NotFound"},
		{"authorization", entity.NewAuthorizationError("contact email does not match the booking"), http.StatusForbidden, "AuthorizationError"},
		{"provider", entity.NewPaymentProviderError("payment intent creation failed", assert.AnError), http.StatusBadGateway, "PaymentProviderError"},
		{"conflict", entity.ErrSerialization, http.StatusConflict, "Conflict"},
		{"internal", assert.AnError, http.StatusInternalServerError, "Internal"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := errorBody(tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantCode, body.ErrorCode)
			assert.NotEmpty(t, body.Message)
		})
	}

	_, body := errorBody(assert.AnError)
	assert.Equal(t, "internal error", body.Message)
}
