package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	HTTPAddr    string `long:"http-addr" env:"HTTP_ADDR" default:":8080" description:"HTTP listen address"`
	PostgresURL string `long:"postgres-url" env:"POSTGRES_URL" description:"PostgreSQL connection string"`
	RedisAddr   string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address for the message broker and rate limiter"`
	AMQPURL     string `long:"amqp-url" env:"AMQP_URL" description:"RabbitMQ URL for notification emails"`
	MailQueue   string `long:"mail-queue" env:"MAIL_QUEUE" default:"masterclass.emails" description:"RabbitMQ queue for notification emails"`

	StripeSecretKey         string        `long:"stripe-secret-key" env:"STRIPE_SECRET_KEY" description:"Stripe API key"`
	StripeWebhookSecret     string        `long:"stripe-webhook-secret" env:"STRIPE_WEBHOOK_SECRET" description:"Stripe webhook signing secret"`
	PaymentCurrency         string        `long:"payment-currency" env:"PAYMENT_CURRENCY" default:"CAD" description:"Currency used when a city event has none"`
	PaymentTimeout          time.Duration `long:"payment-timeout" env:"PAYMENT_TIMEOUT" default:"10s" description:"Timeout of payment intent creation"`
	PaymentFailedEventTypes []string      `long:"payment-failed-event-type" env:"PAYMENT_FAILED_EVENT_TYPES" env-delim:"," default:"payment_intent.payment_failed" default:"payment_intent.canceled" description:"Provider event types that fail a booking"`

	OrphanTTL           time.Duration `long:"orphan-ttl" env:"ORPHAN_TTL" default:"30m" description:"Age after which unpaid bookings are expired"`
	OrphanSweepInterval time.Duration `long:"orphan-sweep-interval" env:"ORPHAN_SWEEP_INTERVAL" default:"1m" description:"Interval of the orphan sweeper"`

	AdminJWTSecret string `long:"admin-jwt-secret" env:"ADMIN_JWT_SECRET" description:"HMAC secret of admin tokens"`

	RateLimitCapacity       int           `long:"rate-limit-capacity" env:"RATE_LIMIT_CAPACITY" default:"20" description:"Token bucket size per client"`
	RateLimitRefillTokens   int           `long:"rate-limit-refill-tokens" env:"RATE_LIMIT_REFILL_TOKENS" default:"10" description:"Tokens added every refill interval"`
	RateLimitRefillInterval time.Duration `long:"rate-limit-refill-interval" env:"RATE_LIMIT_REFILL_INTERVAL" default:"1s" description:"Token bucket refill interval"`

	JaegerEndpoint string `long:"jaeger-endpoint" env:"JAEGER_ENDPOINT" description:"Jaeger collector endpoint; tracing is not exported when empty"`
	LogLevel       string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"logrus level"`
	MockGateways   bool   `long:"mock-gateways" env:"MOCK_GATEWAYS" description:"Use in-memory payment and mail gateways"`
}

// Load reads an optional .env file, then flags and environment variables.
// Flags win over the environment.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("could not load .env: %w", err)
	}

	var cfg Config
	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.PostgresURL == "" {
		return errors.New("POSTGRES_URL is required")
	}
	if !c.MockGateways {
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			return errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required unless MOCK_GATEWAYS is set")
		}
		if c.AMQPURL == "" {
			return errors.New("AMQP_URL is required unless MOCK_GATEWAYS is set")
		}
	}
	if c.AdminJWTSecret == "" {
		return errors.New("ADMIN_JWT_SECRET is required")
	}
	if c.PaymentTimeout <= 0 || c.OrphanTTL <= 0 || c.OrphanSweepInterval <= 0 {
		return errors.New("durations must be positive")
	}
	if len(c.PaymentCurrency) != 3 {
		return fmt.Errorf("invalid PAYMENT_CURRENCY %q", c.PaymentCurrency)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return level, nil
}
