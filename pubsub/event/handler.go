package event

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"masterclass/entity"
	"masterclass/pubsub/bus"
)

type AuditLog interface {
	Store(ctx context.Context, record entity.AuditRecord) error
}

type Mailer interface {
	SendEmail(ctx context.Context, msg entity.EmailMessage) error
}

type Handler struct {
	auditLog AuditLog
	mailer   Mailer
}

func NewHandler(auditLog AuditLog, mailer Mailer) Handler {
	if auditLog == nil {
		panic("missing auditLog")
	}
	if mailer == nil {
		panic("missing mailer")
	}

	return Handler{
		auditLog: auditLog,
		mailer:   mailer,
	}
}

func (h Handler) Handlers() []cqrs.EventHandler {
	return []cqrs.EventHandler{
		h.StoreAuditRecordHandler(),
		h.NotifyAttendeeHandler(),
	}
}

func NewProcessorConfig(rdb *redis.Client, watermillLogger watermill.LoggerAdapter) cqrs.EventProcessorConfig {
	return cqrs.EventProcessorConfig{
		SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
			sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        rdb,
				ConsumerGroup: "svc-masterclass." + params.HandlerName,
			}, watermillLogger)
			if err != nil {
				return nil, fmt.Errorf("could not create subscriber for %s: %w", params.HandlerName, err)
			}
			return sub, nil
		},
		GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
			return bus.EventTopic(params.EventName), nil
		},
		Marshaler: bus.Marshaler,
		Logger:    watermillLogger,
	}
}
