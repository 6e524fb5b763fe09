// Package audit publishes audit records of booking and city event
// transitions on the event bus.
package audit

import (
	"context"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/sirupsen/logrus"

	"masterclass/entity"
	"masterclass/metrics"
)

type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Emitter never fails its caller: a record that cannot be published is
// logged at error level and dropped.
type Emitter struct {
	publisher EventPublisher
}

func NewEmitter(publisher EventPublisher) Emitter {
	if publisher == nil {
		panic("publisher is nil")
	}

	return Emitter{publisher: publisher}
}

func (e Emitter) Record(ctx context.Context, records ...entity.AuditRecord) {
	for _, record := range records {
		err := e.publisher.Publish(ctx, entity.AuditRecorded_v1{
			Header: entity.NewEventHeaderWithIdempotencyKey(record.ID),
			Record: record,
		})
		if err != nil {
			metrics.AuditEmitFailures.Inc()
			log.FromContext(ctx).WithError(err).WithFields(logrus.Fields{
				"audit_type":        record.Type,
				"booking_reference": record.BookingReference,
				"payment_intent_id": record.PaymentIntentID,
				"city_event_id":     record.CityEventID,
			}).Error("Could not emit audit record")
			continue
		}

		metrics.AuditRecordsEmitted.WithLabelValues(record.Type).Inc()
	}
}
