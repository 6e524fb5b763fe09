package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"masterclass/entity"
)

type AuditLogRepository struct {
	db *sqlx.DB
}

func NewAuditLogRepository(db *sqlx.DB) *AuditLogRepository {
	if db == nil {
		panic("db is nil")
	}

	return &AuditLogRepository{db: db}
}

type auditLogRow struct {
	entity.AuditRecord
	AmountValue decimal.NullDecimal `db:"amount"`
	Currency    *string             `db:"currency"`
}

// Store appends the record. Idempotent on the record id.
func (r *AuditLogRepository) Store(ctx context.Context, record entity.AuditRecord) error {
	row := auditLogRow{AuditRecord: record}
	if record.Amount != nil {
		amount, err := record.Amount.Decimal()
		if err != nil {
			return err
		}
		row.AmountValue = decimal.NewNullDecimal(amount)
		row.Currency = &record.Amount.Currency
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audit_log (
			id, type, booking_reference, payment_intent_id, city_event_id, actor,
			contact_email, occurred_at, old_state, new_state, amount, currency
		) VALUES (
			:id, :type, :booking_reference, :payment_intent_id, :city_event_id, :actor,
			:contact_email, :occurred_at, :old_state, :new_state, :amount, :currency
		)
		ON CONFLICT (id) DO NOTHING
	`, row)
	if err != nil {
		return fmt.Errorf("could not store audit record %s: %w", record.ID, err)
	}

	return nil
}

func (r *AuditLogRepository) Find(ctx context.Context, filter entity.AuditLogFilter) ([]entity.AuditRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var rows []auditLogRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, type, booking_reference, payment_intent_id, city_event_id, actor,
			contact_email, occurred_at, old_state, new_state, amount, currency
		FROM audit_log
		WHERE ($1 = '' OR booking_reference = $1)
			AND ($2 = 0 OR city_event_id = $2)
		ORDER BY occurred_at, id
		LIMIT $3
	`, filter.BookingReference, filter.CityEventID, limit)
	if err != nil {
		return nil, fmt.Errorf("could not query audit log: %w", err)
	}

	records := make([]entity.AuditRecord, 0, len(rows))
	for _, row := range rows {
		record := row.AuditRecord
		if row.AmountValue.Valid && row.Currency != nil {
			money := entity.NewMoney(row.AmountValue.Decimal, *row.Currency)
			record.Amount = &money
		}
		records = append(records, record)
	}

	return records, nil
}
