package event

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"

	"masterclass/entity"
)

func (h Handler) StoreAuditRecordHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"StoreAuditRecordHandler",
		func(ctx context.Context, event *entity.AuditRecorded_v1) error {
			if err := h.auditLog.Store(ctx, event.Record); err != nil {
				return fmt.Errorf("failed to store audit record: %w", err)
			}
			return nil
		},
	)
}
