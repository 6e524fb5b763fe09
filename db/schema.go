package db

import (
	"github.com/jmoiron/sqlx"
)

func InitializeDatabaseSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS masterclass_events (
			id BIGSERIAL PRIMARY KEY,
			title_en TEXT NOT NULL DEFAULT '',
			title_fr TEXT NOT NULL DEFAULT '',
			description_en TEXT NOT NULL DEFAULT '',
			description_fr TEXT NOT NULL DEFAULT '',
			duration_days INT NOT NULL CHECK (duration_days >= 1),
			language TEXT NOT NULL DEFAULT 'en',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS cities (
			id BIGSERIAL PRIMARY KEY,
			name_en TEXT NOT NULL,
			name_fr TEXT NOT NULL DEFAULT '',
			province TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL,
			image_url TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS venues (
			id BIGSERIAL PRIMARY KEY,
			city_id BIGINT NOT NULL REFERENCES cities (id),
			name TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			postal_code TEXT NOT NULL DEFAULT '',
			capacity INT NOT NULL CHECK (capacity > 0),
			amenities JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS city_events (
			id BIGSERIAL PRIMARY KEY,
			event_id BIGINT NOT NULL REFERENCES masterclass_events (id),
			city_id BIGINT NOT NULL REFERENCES cities (id),
			venue_id BIGINT NOT NULL REFERENCES venues (id),
			start_date DATE NOT NULL,
			end_date DATE NOT NULL,
			start_time TIME NOT NULL,
			end_time TIME NOT NULL,
			total_capacity INT NOT NULL CHECK (total_capacity > 0),
			available_spots INT NOT NULL,
			status TEXT NOT NULL DEFAULT 'DRAFT',
			regular_price NUMERIC(12, 2) NOT NULL CHECK (regular_price > 0),
			early_bird_price NUMERIC(12, 2),
			early_bird_deadline DATE,
			group_discount_percentage NUMERIC(5, 2) NOT NULL DEFAULT 0,
			group_minimum INT NOT NULL DEFAULT 2 CHECK (group_minimum >= 2),
			currency TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (available_spots >= 0 AND available_spots <= total_capacity),
			CHECK (end_date >= start_date),
			CHECK (group_discount_percentage >= 0 AND group_discount_percentage <= 100)
		);

		CREATE INDEX IF NOT EXISTS city_events_city_id_status_idx ON city_events (city_id, status);
		CREATE INDEX IF NOT EXISTS city_events_status_start_date_idx ON city_events (status, start_date);

		CREATE TABLE IF NOT EXISTS bookings (
			id BIGSERIAL PRIMARY KEY,
			booking_reference TEXT NOT NULL,
			city_event_id BIGINT NOT NULL REFERENCES city_events (id),
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			attendee_name TEXT NOT NULL,
			attendee_email TEXT NOT NULL,
			attendee_phone TEXT,
			ticket_type TEXT NOT NULL,
			quantity INT NOT NULL CHECK (quantity BETWEEN 1 AND 10),
			subtotal NUMERIC(12, 2) NOT NULL,
			discount NUMERIC(12, 2) NOT NULL CHECK (discount >= 0),
			total NUMERIC(12, 2) NOT NULL CHECK (total >= 0),
			currency TEXT NOT NULL,
			payment_intent_id TEXT,
			confirmed_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT bookings_booking_reference_key UNIQUE (booking_reference),
			CONSTRAINT bookings_payment_intent_id_key UNIQUE (payment_intent_id)
		);

		CREATE INDEX IF NOT EXISTS bookings_city_event_id_status_idx ON bookings (city_event_id, status);
		CREATE INDEX IF NOT EXISTS bookings_pending_created_at_idx ON bookings (created_at)
			WHERE status = 'PENDING' AND payment_status = 'PENDING';

		CREATE TABLE IF NOT EXISTS attendees (
			id BIGSERIAL PRIMARY KEY,
			booking_id BIGINT NOT NULL REFERENCES bookings (id) ON DELETE CASCADE,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL,
			phone TEXT,
			role TEXT,
			experience TEXT,
			dietary_notes TEXT
		);

		CREATE INDEX IF NOT EXISTS attendees_booking_id_idx ON attendees (booking_id);

		CREATE TABLE IF NOT EXISTS booking_payments (
			id BIGSERIAL PRIMARY KEY,
			booking_id BIGINT NOT NULL REFERENCES bookings (id) ON DELETE CASCADE,
			payment_intent_id TEXT NOT NULL,
			amount NUMERIC(12, 2) NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			stripe_charge_id TEXT,
			refund_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT booking_payments_intent_status_key UNIQUE (payment_intent_id, status)
		);

		CREATE TABLE IF NOT EXISTS webhook_events (
			provider_event_id TEXT PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id UUID PRIMARY KEY,
			type TEXT NOT NULL,
			booking_reference TEXT NOT NULL DEFAULT '',
			payment_intent_id TEXT NOT NULL DEFAULT '',
			city_event_id BIGINT NOT NULL DEFAULT 0,
			actor TEXT NOT NULL DEFAULT '',
			contact_email TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL,
			old_state TEXT NOT NULL DEFAULT '',
			new_state TEXT NOT NULL DEFAULT '',
			amount NUMERIC(12, 2),
			currency TEXT
		);

		CREATE INDEX IF NOT EXISTS audit_log_booking_reference_idx ON audit_log (booking_reference, occurred_at);
		CREATE INDEX IF NOT EXISTS audit_log_city_event_id_idx ON audit_log (city_event_id, occurred_at);
	`)
	return err
}
