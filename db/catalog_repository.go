package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"masterclass/entity"
)

type CatalogRepository struct {
	db *sqlx.DB
}

func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	if db == nil {
		panic("db is nil")
	}

	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) ListEvents(ctx context.Context) ([]entity.MasterclassEvent, error) {
	events := []entity.MasterclassEvent{}
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM masterclass_events ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("could not list events: %w", err)
	}

	return events, nil
}

func (r *CatalogRepository) GetEvent(ctx context.Context, id int64) (entity.MasterclassEvent, error) {
	return r.getEvent(ctx, r.db, id)
}

// ListCities returns cities with their published or sold out city events
// that have not started yet. With upcomingOnly, cities without such events
// are left out.
func (r *CatalogRepository) ListCities(ctx context.Context, upcomingOnly bool) ([]entity.CityWithEvents, error) {
	var cities []entity.City
	err := r.db.SelectContext(ctx, &cities, `SELECT * FROM cities ORDER BY name_en`)
	if err != nil {
		return nil, fmt.Errorf("could not list cities: %w", err)
	}

	var upcoming []entity.CityEvent
	err = r.db.SelectContext(ctx, &upcoming, `
		SELECT `+cityEventColumns+`
		FROM city_events ce
		JOIN cities c ON c.id = ce.city_id
		WHERE ce.status IN ('PUBLISHED', 'SOLD_OUT') AND ce.start_date >= CURRENT_DATE
		ORDER BY ce.start_date, ce.id
	`)
	if err != nil {
		return nil, fmt.Errorf("could not list upcoming city events: %w", err)
	}

	byCity := lo.GroupBy(upcoming, func(ev entity.CityEvent) int64 {
		return ev.CityID
	})

	result := lo.Map(cities, func(c entity.City, _ int) entity.CityWithEvents {
		return entity.CityWithEvents{City: c, Events: lo.Ternary(byCity[c.ID] == nil, []entity.CityEvent{}, byCity[c.ID])}
	})
	if upcomingOnly {
		result = lo.Filter(result, func(c entity.CityWithEvents, _ int) bool {
			return len(c.Events) > 0
		})
	}

	return result, nil
}

func (r *CatalogRepository) CityEventsByCity(ctx context.Context, cityID int64, status entity.CityEventStatus) ([]entity.CityEvent, error) {
	if _, err := r.getCity(ctx, r.db, cityID); err != nil {
		return nil, err
	}

	events := []entity.CityEvent{}
	err := r.db.SelectContext(ctx, &events, `
		SELECT `+cityEventColumns+`
		FROM city_events ce
		JOIN cities c ON c.id = ce.city_id
		WHERE ce.city_id = $1 AND ce.status = $2
		ORDER BY ce.start_date, ce.id
	`, cityID, status)
	if err != nil {
		return nil, fmt.Errorf("could not list city events of city %d: %w", cityID, err)
	}

	return events, nil
}

func (r *CatalogRepository) GetCityEvent(ctx context.Context, id int64) (entity.CityEvent, error) {
	var ev entity.CityEvent
	err := r.db.GetContext(ctx, &ev, `
		SELECT `+cityEventColumns+`
		FROM city_events ce
		JOIN cities c ON c.id = ce.city_id
		WHERE ce.id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.CityEvent{}, entity.NewNotFound("city event")
	}
	if err != nil {
		return entity.CityEvent{}, fmt.Errorf("could not get city event %d: %w", id, err)
	}

	return ev, nil
}

func (r *CatalogRepository) GetCityEventDetails(ctx context.Context, id int64) (entity.CityEventDetails, error) {
	ev, err := r.GetCityEvent(ctx, id)
	if err != nil {
		return entity.CityEventDetails{}, err
	}

	details := entity.CityEventDetails{CityEvent: ev}
	if details.Event, err = r.GetEvent(ctx, ev.EventID); err != nil {
		return entity.CityEventDetails{}, err
	}
	if details.City, err = r.getCity(ctx, r.db, ev.CityID); err != nil {
		return entity.CityEventDetails{}, err
	}
	if details.Venue, err = r.getVenue(ctx, r.db, ev.VenueID); err != nil {
		return entity.CityEventDetails{}, err
	}

	return details, nil
}

func (r *CatalogRepository) CreateEvent(ctx context.Context, ev entity.MasterclassEvent) (entity.MasterclassEvent, error) {
	if err := ev.Validate(); err != nil {
		return entity.MasterclassEvent{}, err
	}
	if ev.Language == "" {
		ev.Language = "en"
	}

	err := r.db.GetContext(ctx, &ev, `
		INSERT INTO masterclass_events (title_en, title_fr, description_en, description_fr, duration_days, language)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, ev.TitleEn, ev.TitleFr, ev.DescriptionEn, ev.DescriptionFr, ev.DurationDays, ev.Language)
	if err != nil {
		return entity.MasterclassEvent{}, fmt.Errorf("could not create event: %w", err)
	}

	return ev, nil
}

func (r *CatalogRepository) CreateCity(ctx context.Context, c entity.City) (entity.City, error) {
	if err := c.Validate(); err != nil {
		return entity.City{}, err
	}

	err := r.db.GetContext(ctx, &c, `
		INSERT INTO cities (name_en, name_fr, province, country, timezone, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, c.NameEn, c.NameFr, c.Province, c.Country, c.Timezone, c.ImageURL)
	if err != nil {
		return entity.City{}, fmt.Errorf("could not create city: %w", err)
	}

	return c, nil
}

func (r *CatalogRepository) CreateVenue(ctx context.Context, v entity.Venue) (entity.Venue, error) {
	if err := v.Validate(); err != nil {
		return entity.Venue{}, err
	}
	if _, err := r.getCity(ctx, r.db, v.CityID); err != nil {
		return entity.Venue{}, err
	}

	err := r.db.GetContext(ctx, &v, `
		INSERT INTO venues (city_id, name, address, postal_code, capacity, amenities)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, v.CityID, v.Name, v.Address, v.PostalCode, v.Capacity, v.Amenities)
	if err != nil {
		return entity.Venue{}, fmt.Errorf("could not create venue: %w", err)
	}

	return v, nil
}

// CreateCityEvent stores a DRAFT city event with every seat available.
func (r *CatalogRepository) CreateCityEvent(ctx context.Context, ev entity.CityEvent) (entity.CityEvent, error) {
	ev.AvailableSpots = ev.TotalCapacity
	ev.Status = entity.CityEventDraft
	if err := ev.Validate(); err != nil {
		return entity.CityEvent{}, err
	}

	var id int64
	err := updateInTx(ctx, r.db, sql.LevelReadCommitted, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := r.getEvent(ctx, tx, ev.EventID); err != nil {
			return err
		}
		venue, err := r.getVenue(ctx, tx, ev.VenueID)
		if err != nil {
			return err
		}
		if err := ev.ValidateAgainstVenue(venue); err != nil {
			return err
		}

		return tx.GetContext(ctx, &id, `
			INSERT INTO city_events (
				event_id, city_id, venue_id, start_date, end_date, start_time, end_time,
				total_capacity, available_spots, status,
				regular_price, early_bird_price, early_bird_deadline,
				group_discount_percentage, group_minimum, currency
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id
		`,
			ev.EventID, ev.CityID, ev.VenueID, ev.StartDate, ev.EndDate, ev.StartTime, ev.EndTime,
			ev.TotalCapacity, ev.AvailableSpots, ev.Status,
			ev.RegularPrice, ev.EarlyBirdPrice, ev.EarlyBirdDeadline,
			ev.GroupDiscountPercentage, ev.GroupMinimum, ev.Currency,
		)
	})
	if err != nil {
		return entity.CityEvent{}, err
	}

	return r.GetCityEvent(ctx, id)
}

func (r *CatalogRepository) getEvent(ctx context.Context, q sqlx.QueryerContext, id int64) (entity.MasterclassEvent, error) {
	var ev entity.MasterclassEvent
	err := sqlx.GetContext(ctx, q, &ev, `SELECT * FROM masterclass_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.MasterclassEvent{}, entity.NewNotFound("event")
	}
	if err != nil {
		return entity.MasterclassEvent{}, fmt.Errorf("could not get event %d: %w", id, err)
	}

	return ev, nil
}

func (r *CatalogRepository) getCity(ctx context.Context, q sqlx.QueryerContext, id int64) (entity.City, error) {
	var c entity.City
	err := sqlx.GetContext(ctx, q, &c, `SELECT * FROM cities WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.City{}, entity.NewNotFound("city")
	}
	if err != nil {
		return entity.City{}, fmt.Errorf("could not get city %d: %w", id, err)
	}

	return c, nil
}

func (r *CatalogRepository) getVenue(ctx context.Context, q sqlx.QueryerContext, id int64) (entity.Venue, error) {
	var v entity.Venue
	err := sqlx.GetContext(ctx, q, &v, `SELECT * FROM venues WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Venue{}, entity.NewNotFound("venue")
	}
	if err != nil {
		return entity.Venue{}, fmt.Errorf("could not get venue %d: %w", id, err)
	}

	return v, nil
}
