package command

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

type PaymentService interface {
	RefundPayment(ctx context.Context, command entity.RefundBookingPayment_v1) error
}

type Handler struct {
	paymentService PaymentService
}

func NewHandler(paymentService PaymentService) Handler {
	if paymentService == nil {
		panic("missing paymentService")
	}

	return Handler{
		paymentService: paymentService,
	}
}

func (h Handler) Handlers() []cqrs.CommandHandler {
	return []cqrs.CommandHandler{
		h.RefundBookingPaymentHandler(),
	}
}

func NewProcessorConfig(rdb *redis.Client, watermillLogger watermill.LoggerAdapter) cqrs.CommandProcessorConfig {
	return cqrs.CommandProcessorConfig{
		SubscriberConstructor: func(params cqrs.CommandProcessorSubscriberConstructorParams) (message.Subscriber, error) {
			sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        rdb,
				ConsumerGroup: "svc-masterclass.commands." + params.HandlerName,
			}, watermillLogger)
			if err != nil {
				return nil, fmt.Errorf("could not create subscriber for %s: %w", params.HandlerName, err)
			}
			return sub, nil
		},
		GenerateSubscribeTopic: func(params cqrs.CommandProcessorGenerateSubscribeTopicParams) (string, error) {
			return bus.CommandTopic(params.CommandName), nil
		},
		Marshaler: bus.Marshaler,
		Logger:    watermillLogger,
	}
}
