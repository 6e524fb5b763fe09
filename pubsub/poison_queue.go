package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/redis/go-redis/v9"
)

type PoisonedMessage struct {
	ID     string
	Topic  string
	Reason string
}

// PoisonQueue walks the poison queue by consuming every message and
// publishing it back, stopping once the first message comes around again.
type PoisonQueue struct {
	subscriber message.Subscriber
	publisher  message.Publisher
	idle       time.Duration
}

func NewPoisonQueue(subscriber message.Subscriber, publisher message.Publisher, idle time.Duration) PoisonQueue {
	if subscriber == nil {
		panic("subscriber is nil")
	}
	if publisher == nil {
		panic("publisher is nil")
	}
	if idle <= 0 {
		idle = 2 * time.Second
	}

	return PoisonQueue{
		subscriber: subscriber,
		publisher:  publisher,
		idle:       idle,
	}
}

func NewRedisPoisonQueue(rdb *redis.Client, watermillLogger watermill.LoggerAdapter) (PoisonQueue, error) {
	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        rdb,
		ConsumerGroup: "masterclassctl.poison-queue",
	}, watermillLogger)
	if err != nil {
		return PoisonQueue{}, fmt.Errorf("could not create poison queue subscriber: %w", err)
	}

	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: rdb,
	}, watermillLogger)
	if err != nil {
		return PoisonQueue{}, fmt.Errorf("could not create poison queue publisher: %w", err)
	}

	return NewPoisonQueue(sub, pub, 0), nil
}

func (q PoisonQueue) Preview(ctx context.Context) ([]PoisonedMessage, error) {
	var result []PoisonedMessage

	err := q.walk(ctx, func(msg *message.Message) (bool, error) {
		result = append(result, PoisonedMessage{
			ID:     msg.UUID,
			Topic:  msg.Metadata.Get(middleware.PoisonedTopicKey),
			Reason: msg.Metadata.Get(middleware.ReasonForPoisonedKey),
		})
		return false, q.publisher.Publish(PoisonQueueTopic, msg)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Remove drops one message from the queue.
func (q PoisonQueue) Remove(ctx context.Context, messageID string) error {
	found := false

	err := q.walk(ctx, func(msg *message.Message) (bool, error) {
		if msg.UUID == messageID {
			found = true
			return true, nil
		}
		return false, q.publisher.Publish(PoisonQueueTopic, msg)
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("message %s not found", messageID)
	}

	return nil
}

// walk feeds queued messages to fn until fn stops it, the first message
// is seen twice, or nothing arrives within the idle timeout.
func (q PoisonQueue) walk(ctx context.Context, fn func(msg *message.Message) (stop bool, err error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, err := q.subscriber.Subscribe(ctx, PoisonQueueTopic)
	if err != nil {
		return fmt.Errorf("could not subscribe to poison queue: %w", err)
	}

	firstID := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(q.idle):
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if msg.UUID == firstID {
				msg.Nack()
				return nil
			}
			if firstID == "" {
				firstID = msg.UUID
			}

			stop, err := fn(msg)
			if err != nil {
				msg.Nack()
				return err
			}
			msg.Ack()

			if stop {
				return nil
			}
		}
	}
}
