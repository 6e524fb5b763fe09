package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"masterclass/entity"
)

type postEventRequest struct {
	TitleEn       string `json:"title_en"`
	TitleFr       string `json:"title_fr"`
	DescriptionEn string `json:"description_en"`
	DescriptionFr string `json:"description_fr"`
	DurationDays  int    `json:"duration_days"`
	Language      string `json:"language"`
}

func (s Server) PostEvent(c echo.Context) error {
	var request postEventRequest
	if err := c.Bind(&request); err != nil {
		return err
	}

	ev, err := s.catalog.CreateEvent(c.Request().Context(), entity.MasterclassEvent{
		TitleEn:       request.TitleEn,
		TitleFr:       request.TitleFr,
		DescriptionEn: request.DescriptionEn,
		DescriptionFr: request.DescriptionFr,
		DurationDays:  request.DurationDays,
		Language:      request.Language,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, newEventResponse(ev))
}

type postCityRequest struct {
	NameEn   string  `json:"name_en"`
	NameFr   string  `json:"name_fr"`
	Province string  `json:"province"`
	Country  string  `json:"country"`
	Timezone string  `json:"timezone"`
	ImageURL *string `json:"image_url"`
}

func (s Server) PostCity(c echo.Context) error {
	var request postCityRequest
	if err := c.Bind(&request); err != nil {
		return err
	}

	city, err := s.catalog.CreateCity(c.Request().Context(), entity.City{
		NameEn:   request.NameEn,
		NameFr:   request.NameFr,
		Province: request.Province,
		Country:  request.Country,
		Timezone: request.Timezone,
		ImageURL: request.ImageURL,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, newCityResponse(city))
}

type postVenueRequest struct {
	CityID     int64            `json:"city_id"`
	Name       string           `json:"name"`
	Address    string           `json:"address"`
	PostalCode string           `json:"postal_code"`
	Capacity   int              `json:"capacity"`
	Amenities  entity.Amenities `json:"amenities"`
}

func (s Server) PostVenue(c echo.Context) error {
	var request postVenueRequest
	if err := c.Bind(&request); err != nil {
		return err
	}

	venue, err := s.catalog.CreateVenue(c.Request().Context(), entity.Venue{
		CityID:     request.CityID,
		Name:       request.Name,
		Address:    request.Address,
		PostalCode: request.PostalCode,
		Capacity:   request.Capacity,
		Amenities:  request.Amenities,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, newVenueResponse(venue))
}

type postCityEventRequest struct {
	EventID   int64  `json:"event_id"`
	CityID    int64  `json:"city_id"`
	VenueID   int64  `json:"venue_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`

	TotalCapacity           int     `json:"total_capacity"`
	RegularPrice            string  `json:"regular_price"`
	EarlyBirdPrice          *string `json:"early_bird_price"`
	EarlyBirdDeadline       *string `json:"early_bird_deadline"`
	GroupDiscountPercentage *string `json:"group_discount_percentage"`
	GroupMinimum            *int    `json:"group_minimum"`
	Currency                string  `json:"currency"`
}

const defaultGroupMinimum = 5

func (r postCityEventRequest) toCityEvent() (entity.CityEvent, error) {
	ev := entity.CityEvent{
		EventID:       r.EventID,
		CityID:        r.CityID,
		VenueID:       r.VenueID,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		TotalCapacity: r.TotalCapacity,
		GroupMinimum:  lo.FromPtrOr(r.GroupMinimum, defaultGroupMinimum),
		Currency:      r.Currency,
	}

	var err error
	if ev.StartDate, err = parseDate("start_date", r.StartDate); err != nil {
		return ev, err
	}
	if ev.EndDate, err = parseDate("end_date", r.EndDate); err != nil {
		return ev, err
	}
	if ev.RegularPrice, err = parseDecimal("regular_price", r.RegularPrice); err != nil {
		return ev, err
	}
	if r.GroupDiscountPercentage != nil {
		if ev.GroupDiscountPercentage, err = parseDecimal("group_discount_percentage", *r.GroupDiscountPercentage); err != nil {
			return ev, err
		}
	}
	if r.EarlyBirdPrice != nil {
		price, err := parseDecimal("early_bird_price", *r.EarlyBirdPrice)
		if err != nil {
			return ev, err
		}
		ev.EarlyBirdPrice = decimal.NewNullDecimal(price)
	}
	if r.EarlyBirdDeadline != nil {
		deadline, err := parseDate("early_bird_deadline", *r.EarlyBirdDeadline)
		if err != nil {
			return ev, err
		}
		ev.EarlyBirdDeadline = &deadline
	}

	return ev, nil
}

func (s Server) PostCityEvent(c echo.Context) error {
	var request postCityEventRequest
	if err := c.Bind(&request); err != nil {
		return err
	}

	ev, err := request.toCityEvent()
	if err != nil {
		return err
	}

	created, err := s.catalog.CreateCityEvent(c.Request().Context(), ev)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, newCityEventResponse(created))
}

func (s Server) PostPublishCityEvent(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	ev, err := s.bookings.PublishCityEvent(c.Request().Context(), id, actorOf(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newCityEventResponse(ev))
}

type cancelCityEventResponse struct {
	CityEvent         cityEventResponse `json:"city_event"`
	CancelledBookings []string          `json:"cancelled_bookings"`
	RefundsRequested  int               `json:"refunds_requested"`
}

func (s Server) PostCancelCityEvent(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	result, err := s.bookings.CancelCityEvent(c.Request().Context(), id, actorOf(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, cancelCityEventResponse{
		CityEvent: newCityEventResponse(result.CityEvent),
		CancelledBookings: lo.Map(result.Cancelled, func(b entity.Booking, _ int) string {
			return b.BookingReference
		}),
		RefundsRequested: result.Refunded,
	})
}

func (s Server) GetCityEventBookings(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := s.catalog.GetCityEvent(ctx, id); err != nil {
		return err
	}

	bookings, err := s.bookings.CityEventBookings(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, lo.Map(bookings, func(b entity.Booking, _ int) bookingResponse {
		return newBookingResponse(b)
	}))
}

type auditRecordResponse struct {
	ID               string        `json:"id"`
	Type             string        `json:"type"`
	BookingReference string        `json:"booking_reference,omitempty"`
	PaymentIntentID  string        `json:"payment_intent_id,omitempty"`
	CityEventID      int64         `json:"city_event_id"`
	Actor            string        `json:"actor"`
	OccurredAt       time.Time     `json:"occurred_at"`
	OldState         string        `json:"old_state,omitempty"`
	NewState         string        `json:"new_state,omitempty"`
	Amount           *entity.Money `json:"amount,omitempty"`
}

func (s Server) GetAudit(c echo.Context) error {
	filter := entity.AuditLogFilter{
		BookingReference: c.QueryParam("booking_reference"),
	}
	if raw := c.QueryParam("city_event_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return entity.NewValidationError("city_event_id must be an integer")
		}
		filter.CityEventID = id
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return entity.NewValidationError("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	if filter.BookingReference == "" && filter.CityEventID == 0 {
		return entity.NewValidationError("booking_reference or city_event_id is required")
	}

	records, err := s.auditLog.Find(c.Request().Context(), filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, lo.Map(records, func(r entity.AuditRecord, _ int) auditRecordResponse {
		return auditRecordResponse{
			ID:               r.ID,
			Type:             r.Type,
			BookingReference: r.BookingReference,
			PaymentIntentID:  r.PaymentIntentID,
			CityEventID:      r.CityEventID,
			Actor:            r.Actor,
			OccurredAt:       r.OccurredAt,
			OldState:         r.OldState,
			NewState:         r.NewState,
			Amount:           r.Amount,
		}
	}))
}

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(entity.DateLayout, raw)
	if err != nil {
		return time.Time{}, entity.NewValidationError("%s must be a YYYY-MM-DD date", field)
	}
	return t, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, entity.NewValidationError("%s must be a decimal string", field)
	}
	return d, nil
}
