package outbox

import (
	"context"
	stdSQL "database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-sql/v2/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/components/forwarder"
	"github.com/ThreeDotsLabs/watermill/message"

	"masterclass/tracing"
)

const Topic = "events_to_forward"

// NewPublisherForTx returns a publisher that stores messages in tx. They are
// forwarded to the broker only after tx commits.
func NewPublisherForTx(ctx context.Context, tx *stdSQL.Tx) (message.Publisher, error) {
	logger := log.NewWatermill(log.FromContext(ctx))

	var publisher message.Publisher
	sqlPublisher, err := sql.NewPublisher(
		tx,
		sql.PublisherConfig{
			SchemaAdapter: sql.DefaultPostgreSQLSchema{},
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create outbox publisher: %w", err)
	}

	publisher = forwarder.NewPublisher(sqlPublisher, forwarder.PublisherConfig{
		ForwarderTopic: Topic,
	})
	publisher = tracing.PublisherDecorator{Publisher: publisher}
	publisher = log.CorrelationPublisherDecorator{Publisher: publisher}

	return publisher, nil
}

func NewPostgresSubscriber(db *stdSQL.DB, logger watermill.LoggerAdapter) message.Subscriber {
	sub, err := sql.NewSubscriber(db, sql.SubscriberConfig{
		SchemaAdapter:    sql.DefaultPostgreSQLSchema{},
		OffsetsAdapter:   sql.DefaultPostgreSQLOffsetsAdapter{},
		InitializeSchema: true,
	}, logger)
	if err != nil {
		panic(fmt.Errorf("could not create postgres subscriber: %w", err))
	}

	return sub
}

// InitializeSchema creates the outbox table so that transactional
// publishers can write to it before the forwarder first subscribes.
func InitializeSchema(db *stdSQL.DB, logger watermill.LoggerAdapter) error {
	sub, err := sql.NewSubscriber(db, sql.SubscriberConfig{
		SchemaAdapter:    sql.DefaultPostgreSQLSchema{},
		OffsetsAdapter:   sql.DefaultPostgreSQLOffsetsAdapter{},
		InitializeSchema: true,
	}, logger)
	if err != nil {
		return fmt.Errorf("could not create postgres subscriber: %w", err)
	}
	defer sub.Close()

	if err := sub.SubscribeInitialize(Topic); err != nil {
		return fmt.Errorf("could not initialize outbox schema: %w", err)
	}
	return nil
}

type Forwarder struct {
	fwd *forwarder.Forwarder
}

// NewForwarder moves messages stored by NewPublisherForTx to pub.
func NewForwarder(sub message.Subscriber, pub message.Publisher, logger watermill.LoggerAdapter) (Forwarder, error) {
	fwd, err := forwarder.NewForwarder(sub, pub, logger, forwarder.Config{
		ForwarderTopic: Topic,
	})
	if err != nil {
		return Forwarder{}, fmt.Errorf("could not create forwarder: %w", err)
	}

	return Forwarder{fwd: fwd}, nil
}

// Run blocks until ctx is cancelled.
func (f Forwarder) Run(ctx context.Context) error {
	return f.fwd.Run(ctx)
}

func (f Forwarder) Running() chan struct{} {
	return f.fwd.Running()
}
