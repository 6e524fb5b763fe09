package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	echoHTTP "github.com/ThreeDotsLabs/go-event-driven/common/http"
	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"masterclass/booking"
	"masterclass/entity"
	"masterclass/payment"
	"masterclass/tracing"
)

type Catalog interface {
	ListEvents(ctx context.Context) ([]entity.MasterclassEvent, error)
	GetEvent(ctx context.Context, id int64) (entity.MasterclassEvent, error)
	ListCities(ctx context.Context, upcomingOnly bool) ([]entity.CityWithEvents, error)
	CityEventsByCity(ctx context.Context, cityID int64, status entity.CityEventStatus) ([]entity.CityEvent, error)
	GetCityEvent(ctx context.Context, id int64) (entity.CityEvent, error)
	GetCityEventDetails(ctx context.Context, id int64) (entity.CityEventDetails, error)

	CreateEvent(ctx context.Context, ev entity.MasterclassEvent) (entity.MasterclassEvent, error)
	CreateCity(ctx context.Context, c entity.City) (entity.City, error)
	CreateVenue(ctx context.Context, v entity.Venue) (entity.Venue, error)
	CreateCityEvent(ctx context.Context, ev entity.CityEvent) (entity.CityEvent, error)
}

type Bookings interface {
	CreatePending(ctx context.Context, req booking.CreateRequest) (entity.Booking, error)
	Get(ctx context.Context, reference string) (entity.Booking, error)
	Cancel(ctx context.Context, reference, actor string) (entity.Booking, error)
	CancelByContact(ctx context.Context, reference, email string) (entity.Booking, error)
	CityEventBookings(ctx context.Context, cityEventID int64) ([]entity.Booking, error)
	PublishCityEvent(ctx context.Context, cityEventID int64, actor string) (entity.CityEvent, error)
	CancelCityEvent(ctx context.Context, cityEventID int64, actor string) (booking.CityEventCancellation, error)
}

type Payments interface {
	CreateIntent(ctx context.Context, b entity.Booking) (entity.Booking, string, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (payment.WebhookResult, error)
}

type AuditLog interface {
	Find(ctx context.Context, filter entity.AuditLogFilter) ([]entity.AuditRecord, error)
}

type Config struct {
	Addr           string
	AdminJWTSecret string
	RateLimit      RateLimitConfig
}

type Server struct {
	addr     string
	e        *echo.Echo
	catalog  Catalog
	bookings Bookings
	payments Payments
	auditLog AuditLog
	admin    adminAuth
}

// NewServer wires the public, webhook and admin routes. A nil rdb disables
// rate limiting.
func NewServer(
	cfg Config,
	catalog Catalog,
	bookings Bookings,
	payments Payments,
	auditLog AuditLog,
	rdb redis.UniversalClient,
) *Server {
	if catalog == nil {
		panic("catalog is nil")
	}
	if bookings == nil {
		panic("bookings is nil")
	}
	if payments == nil {
		panic("payments is nil")
	}
	if auditLog == nil {
		panic("auditLog is nil")
	}

	e := echoHTTP.NewEcho()
	e.HTTPErrorHandler = handleError
	e.Use(otelecho.Middleware(tracing.ServiceName))

	server := &Server{
		addr:     cfg.Addr,
		e:        e,
		catalog:  catalog,
		bookings: bookings,
		payments: payments,
		auditLog: auditLog,
		admin:    adminAuth{secret: []byte(cfg.AdminJWTSecret)},
	}

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/events", server.GetEvents)
	e.GET("/events/:event_id", server.GetEvent)
	e.GET("/cities", server.GetCities)
	e.GET("/cities/:city_id/events", server.GetCityEvents)
	e.GET("/city-events/:id", server.GetCityEvent)
	e.GET("/city-events/:id/availability", server.GetAvailability)

	limited := newRateLimiter(cfg.RateLimit, rdb)
	e.POST("/bookings", server.PostBooking, limited)
	e.GET("/bookings/:reference", server.GetBooking)
	e.POST("/bookings/:reference/cancel", server.PostCancelBooking, limited)

	e.POST("/webhooks/payments", server.PostPaymentWebhook)

	admin := e.Group("/admin", server.admin.require)
	admin.POST("/events", server.PostEvent)
	admin.POST("/cities", server.PostCity)
	admin.POST("/venues", server.PostVenue)
	admin.POST("/city-events", server.PostCityEvent)
	admin.POST("/city-events/:id/publish", server.PostPublishCityEvent)
	admin.POST("/city-events/:id/cancel", server.PostCancelCityEvent)
	admin.GET("/city-events/:id/bookings", server.GetCityEventBookings)
	admin.GET("/audit", server.GetAudit)

	return server
}

func (s Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.e.Shutdown(shutdownCtx)
		if err != nil {
			log.FromContext(ctx).WithError(err).Error("failed to shutdown HTTP server")
		}
	}()
	log.FromContext(ctx).WithField("addr", s.addr).Info("[HTTP] server listening")
	if err := s.e.Start(s.addr); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}
