package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"masterclass/audit"
	"masterclass/booking"
	dbLib "masterclass/db"
	"masterclass/http"
	"masterclass/payment"
	"masterclass/pubsub"
	"masterclass/pubsub/bus"
	"masterclass/pubsub/command"
	"masterclass/pubsub/event"
	"masterclass/pubsub/outbox"
)

func init() {
	log.Init(logrus.InfoLevel)
}

// PaymentProvider is the payment gateway: intents and webhooks for the
// coordinator, refunds for the command handler.
type PaymentProvider interface {
	payment.Provider
	command.PaymentService
}

type Config struct {
	HTTP                    http.Config
	PaymentCurrency         string
	PaymentTimeout          time.Duration
	PaymentFailedEventTypes []string
	OrphanTTL               time.Duration
	OrphanSweepInterval     time.Duration
}

type App struct {
	db              *sqlx.DB
	watermillRouter *message.Router
	forwarder       outbox.Forwarder
	httpServer      *http.Server
	sweeper         booking.Sweeper
	traceProvider   *tracesdk.TracerProvider
}

func New(
	cfg Config,
	db *sqlx.DB,
	redisClient *redis.Client,
	paymentProvider PaymentProvider,
	mailer event.Mailer,
	traceProvider *tracesdk.TracerProvider,
) App {
	watermillLogger := log.NewWatermill(log.FromContext(context.Background()))
	redisPublisher := pubsub.NewRedisPublisher(redisClient, watermillLogger)

	eventBus, err := bus.NewEventBus(redisPublisher)
	if err != nil {
		panic(fmt.Errorf("failed to create event bus: %w", err))
	}

	bookingStore := dbLib.NewBookingStore(db)
	catalogRepo := dbLib.NewCatalogRepository(db)
	auditLogRepo := dbLib.NewAuditLogRepository(db)

	bookingService := booking.NewService(bookingStore, audit.NewEmitter(eventBus), paymentProvider)
	coordinator := payment.NewCoordinator(
		paymentProvider,
		bookingService,
		payment.DefaultEventTypes().WithFailed(strings.Join(cfg.PaymentFailedEventTypes, ",")),
		cfg.PaymentCurrency,
		cfg.PaymentTimeout,
	)

	eventsHandler := event.NewHandler(auditLogRepo, mailer)
	commandsHandler := command.NewHandler(paymentProvider)

	watermillRouter, err := pubsub.NewWatermillRouter(
		redisPublisher,
		event.NewProcessorConfig(redisClient, watermillLogger),
		eventsHandler,
		command.NewProcessorConfig(redisClient, watermillLogger),
		commandsHandler,
		watermillLogger,
	)
	if err != nil {
		panic(fmt.Errorf("failed to create watermill router: %w", err))
	}

	forwarder, err := outbox.NewForwarder(
		outbox.NewPostgresSubscriber(db.DB, watermillLogger),
		redisPublisher,
		watermillLogger,
	)
	if err != nil {
		panic(fmt.Errorf("failed to create outbox forwarder: %w", err))
	}

	httpServer := http.NewServer(
		cfg.HTTP,
		catalogRepo,
		bookingService,
		coordinator,
		auditLogRepo,
		redisClient,
	)

	return App{
		db:              db,
		watermillRouter: watermillRouter,
		forwarder:       forwarder,
		httpServer:      httpServer,
		sweeper:         booking.NewSweeper(bookingService, cfg.OrphanTTL, cfg.OrphanSweepInterval),
		traceProvider:   traceProvider,
	}
}

func (a App) Run(ctx context.Context) error {
	if err := dbLib.InitializeDatabaseSchema(a.db); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}
	if err := outbox.InitializeSchema(a.db.DB, log.NewWatermill(log.FromContext(ctx))); err != nil {
		return fmt.Errorf("failed to initialize outbox schema: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.traceProvider != nil {
		g.Go(func() error {
			<-ctx.Done()
			return a.traceProvider.Shutdown(context.Background())
		})
	}

	g.Go(func() error {
		return a.watermillRouter.Run(ctx)
	})

	g.Go(func() error {
		return a.forwarder.Run(ctx)
	})

	g.Go(func() error {
		<-a.watermillRouter.Running()
		return a.sweeper.Run(ctx)
	})

	g.Go(func() error {
		// the app is not healthy before the router consumes messages
		<-a.watermillRouter.Running()

		return a.httpServer.Run(ctx)
	})

	return g.Wait()
}
