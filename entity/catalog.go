package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

type MasterclassEvent struct {
	ID            int64     `db:"id"`
	TitleEn       string    `db:"title_en"`
	TitleFr       string    `db:"title_fr"`
	DescriptionEn string    `db:"description_en"`
	DescriptionFr string    `db:"description_fr"`
	DurationDays  int       `db:"duration_days"`
	Language      string    `db:"language"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (e MasterclassEvent) Validate() error {
	if strings.TrimSpace(e.TitleEn) == "" && strings.TrimSpace(e.TitleFr) == "" {
		return NewValidationError("event title must be set")
	}
	if e.DurationDays < 1 {
		return NewValidationError("duration_days must be at least 1")
	}
	return nil
}

type City struct {
	ID        int64     `db:"id"`
	NameEn    string    `db:"name_en"`
	NameFr    string    `db:"name_fr"`
	Province  string    `db:"province"`
	Country   string    `db:"country"`
	Timezone  string    `db:"timezone"`
	ImageURL  *string   `db:"image_url"`
	CreatedAt time.Time `db:"created_at"`
}

func (c City) Validate() error {
	if strings.TrimSpace(c.NameEn) == "" {
		return NewValidationError("city name must be set")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		return NewValidationError("invalid timezone %q", c.Timezone)
	}
	return nil
}

// Location falls back to UTC when the stored timezone cannot be loaded.
func (c City) Location() *time.Location {
	return loadLocation(c.Timezone)
}

type Amenities map[string]any

func (a Amenities) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (a *Amenities) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = Amenities{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported amenities type %T", src)
	}
	return json.Unmarshal(raw, a)
}

type Venue struct {
	ID         int64     `db:"id"`
	CityID     int64     `db:"city_id"`
	Name       string    `db:"name"`
	Address    string    `db:"address"`
	PostalCode string    `db:"postal_code"`
	Capacity   int       `db:"capacity"`
	Amenities  Amenities `db:"amenities"`
	CreatedAt  time.Time `db:"created_at"`
}

func (v Venue) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return NewValidationError("venue name must be set")
	}
	if v.Capacity <= 0 {
		return NewValidationError("venue capacity must be positive")
	}
	return nil
}

type CityEventStatus string

const (
	CityEventDraft     CityEventStatus = "DRAFT"
	CityEventPublished CityEventStatus = "PUBLISHED"
	CityEventSoldOut   CityEventStatus = "SOLD_OUT"
	CityEventCancelled CityEventStatus = "CANCELLED"
)

func (s CityEventStatus) Valid() bool {
	switch s {
	case CityEventDraft, CityEventPublished, CityEventSoldOut, CityEventCancelled:
		return true
	}
	return false
}

type CityEvent struct {
	ID        int64     `db:"id"`
	EventID   int64     `db:"event_id"`
	CityID    int64     `db:"city_id"`
	VenueID   int64     `db:"venue_id"`
	StartDate time.Time `db:"start_date"`
	EndDate   time.Time `db:"end_date"`
	// StartTime and EndTime are daily hours formatted as HH:MM[:SS].
	StartTime string `db:"start_time"`
	EndTime   string `db:"end_time"`

	TotalCapacity  int             `db:"total_capacity"`
	AvailableSpots int             `db:"available_spots"`
	Status         CityEventStatus `db:"status"`

	RegularPrice            decimal.Decimal     `db:"regular_price"`
	EarlyBirdPrice          decimal.NullDecimal `db:"early_bird_price"`
	EarlyBirdDeadline       *time.Time          `db:"early_bird_deadline"`
	GroupDiscountPercentage decimal.Decimal     `db:"group_discount_percentage"`
	GroupMinimum            int                 `db:"group_minimum"`
	Currency                string              `db:"currency"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	// Timezone is joined from the owning city; it is not a city_events column.
	Timezone string `db:"timezone"`
}

// Validate checks the invariants that do not depend on other rows.
func (e CityEvent) Validate() error {
	if e.TotalCapacity <= 0 {
		return NewValidationError("total_capacity must be positive")
	}
	if e.AvailableSpots < 0 || e.AvailableSpots > e.TotalCapacity {
		return NewValidationError("available_spots must be within [0, total_capacity]")
	}
	if !e.RegularPrice.IsPositive() {
		return NewValidationError("regular_price must be positive")
	}
	if e.GroupDiscountPercentage.IsNegative() || e.GroupDiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return NewValidationError("group_discount_percentage must be within [0, 100]")
	}
	if e.GroupMinimum < 2 {
		return NewValidationError("group_minimum must be at least 2")
	}
	if len(e.Currency) != 3 {
		return NewValidationError("currency must be an ISO-4217 code")
	}

	start, end := CivilDate(e.StartDate), CivilDate(e.EndDate)
	if end.Before(start) {
		return NewValidationError("end_date must not be before start_date")
	}
	startTime, err := ParseTimeOfDay(e.StartTime)
	if err != nil {
		return NewValidationError("invalid start_time %q", e.StartTime)
	}
	endTime, err := ParseTimeOfDay(e.EndTime)
	if err != nil {
		return NewValidationError("invalid end_time %q", e.EndTime)
	}
	if end.Equal(start) && endTime <= startTime {
		return NewValidationError("end_time must be after start_time for single-day events")
	}

	if e.EarlyBirdPrice.Valid {
		if e.EarlyBirdDeadline == nil {
			return NewValidationError("early_bird_deadline is required with early_bird_price")
		}
		if !CivilDate(*e.EarlyBirdDeadline).Before(start) {
			return NewValidationError("early_bird_deadline must be before start_date")
		}
		if !e.EarlyBirdPrice.Decimal.IsPositive() || !e.EarlyBirdPrice.Decimal.LessThan(e.RegularPrice) {
			return NewValidationError("early_bird_price must be positive and below regular_price")
		}
	}

	return nil
}

func (e CityEvent) ValidateAgainstVenue(v Venue) error {
	if v.CityID != e.CityID {
		return NewValidationError("venue %d does not belong to city %d", v.ID, e.CityID)
	}
	if e.TotalCapacity > v.Capacity {
		return NewValidationError("total_capacity %d exceeds venue capacity %d", e.TotalCapacity, v.Capacity)
	}
	return nil
}

func (e CityEvent) Location() *time.Location {
	return loadLocation(e.Timezone)
}

// Today returns the calendar date of now in the event's timezone.
func (e CityEvent) Today(now time.Time) time.Time {
	return CivilDate(now.In(e.Location()))
}

// CivilDate drops the clock part of t, keeping the calendar date it shows.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseTimeOfDay returns the offset from midnight for HH:MM or HH:MM:SS.
func ParseTimeOfDay(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// CityEventDetails is a city event joined with its definition and place.
type CityEventDetails struct {
	CityEvent
	Event MasterclassEvent
	City  City
	Venue Venue
}

type CityWithEvents struct {
	City
	Events []CityEvent
}
