package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/sirupsen/logrus"

	"masterclass/app"
	"masterclass/config"
	dbLib "masterclass/db"
	"masterclass/gateway"
	"masterclass/http"
	"masterclass/pubsub"
	"masterclass/pubsub/event"
	"masterclass/tracing"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	level, err := cfg.Level()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid log level")
	}
	log.Init(level)

	traceProvider := tracing.ConfigureTraceProvider(cfg.JaegerEndpoint)

	db, err := dbLib.Open(cfg.PostgresURL)
	if err != nil {
		logrus.WithError(err).Fatal("Could not open database")
	}
	defer db.Close()

	redisClient := pubsub.NewRedisClient(cfg.RedisAddr)
	defer redisClient.Close()

	var (
		paymentProvider app.PaymentProvider
		mailer          event.Mailer
	)
	if cfg.MockGateways {
		logrus.Warn("Using in-memory payment and mail gateways")
		paymentProvider = &gateway.PaymentMock{WebhookSecret: cfg.StripeWebhookSecret}
		mailer = &gateway.MailerMock{}
	} else {
		paymentProvider = gateway.NewPaymentClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.PaymentTimeout)

		mailerClient, err := gateway.NewMailerClient(cfg.AMQPURL, cfg.MailQueue)
		if err != nil {
			logrus.WithError(err).Fatal("Could not connect to RabbitMQ")
		}
		defer mailerClient.Close()
		mailer = mailerClient
	}

	err = app.New(
		app.Config{
			HTTP: http.Config{
				Addr:           cfg.HTTPAddr,
				AdminJWTSecret: cfg.AdminJWTSecret,
				RateLimit: http.RateLimitConfig{
					Capacity:       cfg.RateLimitCapacity,
					RefillTokens:   cfg.RateLimitRefillTokens,
					RefillInterval: cfg.RateLimitRefillInterval,
				},
			},
			PaymentCurrency:         cfg.PaymentCurrency,
			PaymentTimeout:          cfg.PaymentTimeout,
			PaymentFailedEventTypes: cfg.PaymentFailedEventTypes,
			OrphanTTL:               cfg.OrphanTTL,
			OrphanSweepInterval:     cfg.OrphanSweepInterval,
		},
		db,
		redisClient,
		paymentProvider,
		mailer,
		traceProvider,
	).Run(ctx)
	if err != nil {
		logrus.WithError(err).Error("Service stopped")
		os.Exit(1)
	}
}
