// Command masterclassctl runs one-off operations against the booking
// database and the message broker.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"masterclass/audit"
	"masterclass/booking"
	dbLib "masterclass/db"
	"masterclass/gateway"
	"masterclass/pubsub"
	"masterclass/pubsub/bus"
)

const operatorActor = "operator:masterclassctl"

func main() {
	log.Init(logrus.InfoLevel)

	app := &cli.App{
		Name:  "masterclassctl",
		Usage: "Operate the masterclass booking service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-url", EnvVars: []string{"POSTGRES_URL"}},
			&cli.StringFlag{Name: "redis-addr", EnvVars: []string{"REDIS_ADDR"}, Value: "localhost:6379"},
			&cli.StringFlag{Name: "stripe-secret-key", EnvVars: []string{"STRIPE_SECRET_KEY"}},
		},
		Commands: []*cli.Command{
			{
				Name:  "sweep-orphans",
				Usage: "expire unpaid bookings older than the TTL once",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "ttl", EnvVars: []string{"ORPHAN_TTL"}, Value: 30 * time.Minute},
				},
				Action: func(c *cli.Context) error {
					svc, closeFn, err := newBookingService(c)
					if err != nil {
						return err
					}
					defer closeFn()

					expired, err := svc.ExpireOrphans(c.Context, c.Duration("ttl"))
					if err != nil {
						return err
					}

					fmt.Printf("expired %d bookings\n", expired)
					return nil
				},
			},
			{
				Name:      "cancel-event",
				ArgsUsage: "<city_event_id>",
				Usage:     "cancel a city event and refund its paid bookings",
				Action: func(c *cli.Context) error {
					id, err := strconv.ParseInt(c.Args().First(), 10, 64)
					if err != nil || id <= 0 {
						return fmt.Errorf("invalid city event id %q", c.Args().First())
					}

					svc, closeFn, err := newBookingService(c)
					if err != nil {
						return err
					}
					defer closeFn()

					result, err := svc.CancelCityEvent(c.Context, id, operatorActor)
					if err != nil {
						return err
					}

					fmt.Printf("city event %d is %s: %d bookings cancelled, %d refunds requested\n",
						result.CityEvent.ID, result.CityEvent.Status, len(result.Cancelled), result.Refunded)
					return nil
				},
			},
			{
				Name:      "reconcile",
				ArgsUsage: "<city_event_id>",
				Usage:     "recompute available spots of a city event from its bookings",
				Action: func(c *cli.Context) error {
					id, err := strconv.ParseInt(c.Args().First(), 10, 64)
					if err != nil || id <= 0 {
						return fmt.Errorf("invalid city event id %q", c.Args().First())
					}

					svc, closeFn, err := newBookingService(c)
					if err != nil {
						return err
					}
					defer closeFn()

					ev, err := svc.ReconcileAvailability(c.Context, id)
					if err != nil {
						return err
					}

					fmt.Printf("city event %d: %d of %d spots available, %s\n",
						ev.ID, ev.AvailableSpots, ev.TotalCapacity, ev.Status)
					return nil
				},
			},
			{
				Name:  "poison-queue",
				Usage: "manage the poison queue",
				Subcommands: []*cli.Command{
					{
						Name:  "preview",
						Usage: "preview messages",
						Action: func(c *cli.Context) error {
							queue, closeFn, err := newPoisonQueue(c)
							if err != nil {
								return err
							}
							defer closeFn()

							messages, err := queue.Preview(c.Context)
							if err != nil {
								return err
							}

							w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
							for _, m := range messages {
								fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Topic, m.Reason)
							}
							return w.Flush()
						},
					},
					{
						Name:      "remove",
						ArgsUsage: "<message_id>",
						Usage:     "remove message",
						Action: func(c *cli.Context) error {
							queue, closeFn, err := newPoisonQueue(c)
							if err != nil {
								return err
							}
							defer closeFn()

							return queue.Remove(c.Context, c.Args().First())
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("masterclassctl failed")
	}
}

func newBookingService(c *cli.Context) (*booking.Service, func(), error) {
	if c.String("postgres-url") == "" {
		return nil, nil, fmt.Errorf("--postgres-url is required")
	}
	if c.String("stripe-secret-key") == "" {
		return nil, nil, fmt.Errorf("--stripe-secret-key is required")
	}

	db, err := dbLib.Open(c.String("postgres-url"))
	if err != nil {
		return nil, nil, err
	}

	rdb := pubsub.NewRedisClient(c.String("redis-addr"))
	eventBus, err := bus.NewEventBus(pubsub.NewRedisPublisher(rdb, log.NewWatermill(log.FromContext(context.Background()))))
	if err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, nil, err
	}

	svc := booking.NewService(
		dbLib.NewBookingStore(db),
		audit.NewEmitter(eventBus),
		gateway.NewPaymentClient(c.String("stripe-secret-key"), "", 10*time.Second),
	)

	return svc, func() {
		_ = db.Close()
		_ = rdb.Close()
	}, nil
}

func newPoisonQueue(c *cli.Context) (pubsub.PoisonQueue, func(), error) {
	rdb := pubsub.NewRedisClient(c.String("redis-addr"))

	queue, err := pubsub.NewRedisPoisonQueue(rdb, log.NewWatermill(log.FromContext(context.Background())))
	if err != nil {
		_ = rdb.Close()
		return pubsub.PoisonQueue{}, nil, err
	}

	return queue, func() { _ = rdb.Close() }, nil
}
