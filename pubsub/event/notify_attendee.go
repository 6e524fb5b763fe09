package event

import (
	"context"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/sirupsen/logrus"

	"masterclass/entity"
)

var notificationTemplates = map[string]string{
	entity.AuditBookingConfirmed: "booking_confirmed",
	entity.AuditBookingCancelled: "booking_cancelled",
	entity.AuditBookingFailed:    "booking_payment_failed",
	entity.AuditBookingExpired:   "booking_payment_failed",
}

// NotifyAttendeeHandler enqueues an email for the booking transitions an
// attendee cares about. Delivery failures are logged and dropped.
func (h Handler) NotifyAttendeeHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"NotifyAttendeeHandler",
		func(ctx context.Context, event *entity.AuditRecorded_v1) error {
			record := event.Record

			template, ok := notificationTemplates[record.Type]
			if !ok || record.ContactEmail == "" {
				return nil
			}

			msg := entity.EmailMessage{
				To:       record.ContactEmail,
				Template: template,
				Data: map[string]string{
					"booking_reference": record.BookingReference,
					"status":            record.NewState,
				},
			}
			if record.Amount != nil {
				msg.Data["amount"] = record.Amount.Amount
				msg.Data["currency"] = record.Amount.Currency
			}

			if err := h.mailer.SendEmail(ctx, msg); err != nil {
				log.FromContext(ctx).WithError(err).WithFields(logrus.Fields{
					"booking_reference": record.BookingReference,
					"city_event_id":     record.CityEventID,
					"template":          template,
				}).Error("Could not enqueue attendee notification")
			}
			return nil
		},
	)
}
