package http

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"masterclass/booking"
	"masterclass/entity"
)

type eventResponse struct {
	ID            int64  `json:"id"`
	TitleEn       string `json:"title_en"`
	TitleFr       string `json:"title_fr"`
	DescriptionEn string `json:"description_en"`
	DescriptionFr string `json:"description_fr"`
	DurationDays  int    `json:"duration_days"`
	Language      string `json:"language"`
}

func newEventResponse(ev entity.MasterclassEvent) eventResponse {
	return eventResponse{
		ID:            ev.ID,
		TitleEn:       ev.TitleEn,
		TitleFr:       ev.TitleFr,
		DescriptionEn: ev.DescriptionEn,
		DescriptionFr: ev.DescriptionFr,
		DurationDays:  ev.DurationDays,
		Language:      ev.Language,
	}
}

type cityResponse struct {
	ID             int64               `json:"id"`
	NameEn         string              `json:"name_en"`
	NameFr         string              `json:"name_fr"`
	Province       string              `json:"province"`
	Country        string              `json:"country"`
	Timezone       string              `json:"timezone"`
	ImageURL       *string             `json:"image_url"`
	UpcomingEvents []cityEventResponse `json:"upcoming_events,omitempty"`
}

func newCityResponse(c entity.City) cityResponse {
	return cityResponse{
		ID:       c.ID,
		NameEn:   c.NameEn,
		NameFr:   c.NameFr,
		Province: c.Province,
		Country:  c.Country,
		Timezone: c.Timezone,
		ImageURL: c.ImageURL,
	}
}

type venueResponse struct {
	ID         int64            `json:"id"`
	CityID     int64            `json:"city_id"`
	Name       string           `json:"name"`
	Address    string           `json:"address"`
	PostalCode string           `json:"postal_code"`
	Capacity   int              `json:"capacity"`
	Amenities  entity.Amenities `json:"amenities"`
}

func newVenueResponse(v entity.Venue) venueResponse {
	return venueResponse{
		ID:         v.ID,
		CityID:     v.CityID,
		Name:       v.Name,
		Address:    v.Address,
		PostalCode: v.PostalCode,
		Capacity:   v.Capacity,
		Amenities:  lo.Ternary(v.Amenities == nil, entity.Amenities{}, v.Amenities),
	}
}

type cityEventResponse struct {
	ID        int64  `json:"id"`
	EventID   int64  `json:"event_id"`
	CityID    int64  `json:"city_id"`
	VenueID   int64  `json:"venue_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`

	TotalCapacity  int    `json:"total_capacity"`
	AvailableSpots int    `json:"available_spots"`
	Status         string `json:"status"`

	RegularPrice            string  `json:"regular_price"`
	EarlyBirdPrice          *string `json:"early_bird_price"`
	EarlyBirdDeadline       *string `json:"early_bird_deadline"`
	GroupDiscountPercentage string  `json:"group_discount_percentage"`
	GroupMinimum            int     `json:"group_minimum"`
	Currency                string  `json:"currency"`

	PercentageAvailable string `json:"percentage_available"`
	AvailabilityStatus  string `json:"availability_status"`
	IsAlmostFull        bool   `json:"is_almost_full"`
	IsSoldOut           bool   `json:"is_sold_out"`
}

func newCityEventResponse(ev entity.CityEvent) cityEventResponse {
	availability := booking.AvailabilityOf(ev)

	resp := cityEventResponse{
		ID:                      ev.ID,
		EventID:                 ev.EventID,
		CityID:                  ev.CityID,
		VenueID:                 ev.VenueID,
		StartDate:               ev.StartDate.Format(entity.DateLayout),
		EndDate:                 ev.EndDate.Format(entity.DateLayout),
		StartTime:               ev.StartTime,
		EndTime:                 ev.EndTime,
		TotalCapacity:           ev.TotalCapacity,
		AvailableSpots:          ev.AvailableSpots,
		Status:                  string(ev.Status),
		RegularPrice:            amount(ev.RegularPrice),
		GroupDiscountPercentage: amount(ev.GroupDiscountPercentage),
		GroupMinimum:            ev.GroupMinimum,
		Currency:                ev.Currency,
		PercentageAvailable:     amount(availability.PercentageAvailable),
		AvailabilityStatus:      string(availability.Status),
		IsAlmostFull:            availability.Status == entity.AlmostFull,
		IsSoldOut:               availability.Status == entity.SoldOut,
	}
	if ev.EarlyBirdPrice.Valid {
		resp.EarlyBirdPrice = lo.ToPtr(amount(ev.EarlyBirdPrice.Decimal))
	}
	if ev.EarlyBirdDeadline != nil {
		resp.EarlyBirdDeadline = lo.ToPtr(ev.EarlyBirdDeadline.Format(entity.DateLayout))
	}
	return resp
}

type cityEventDetailsResponse struct {
	cityEventResponse
	Event eventResponse `json:"event"`
	City  cityResponse  `json:"city"`
	Venue venueResponse `json:"venue"`
}

type availabilityResponse struct {
	CityEventID         int64  `json:"city_event_id"`
	TotalCapacity       int    `json:"total_capacity"`
	AvailableSpots      int    `json:"available_spots"`
	BookedSpots         int    `json:"booked_spots"`
	PercentageAvailable string `json:"percentage_available"`
	Status              string `json:"status"`
	IsAlmostFull        bool   `json:"is_almost_full"`
	IsSoldOut           bool   `json:"is_sold_out"`
}

func newAvailabilityResponse(a entity.Availability) availabilityResponse {
	return availabilityResponse{
		CityEventID:         a.CityEventID,
		TotalCapacity:       a.TotalCapacity,
		AvailableSpots:      a.AvailableSpots,
		BookedSpots:         a.BookedSpots,
		PercentageAvailable: amount(a.PercentageAvailable),
		Status:              string(a.Status),
		IsAlmostFull:        a.Status == entity.AlmostFull,
		IsSoldOut:           a.Status == entity.SoldOut,
	}
}

type attendeeRequest struct {
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Email        string  `json:"email"`
	Phone        *string `json:"phone"`
	Role         *string `json:"role"`
	Experience   *string `json:"experience"`
	DietaryNotes *string `json:"dietary_notes"`
}

type attendeeResponse attendeeRequest

type bookingResponse struct {
	BookingReference string  `json:"booking_reference"`
	CityEventID      int64   `json:"city_event_id"`
	Status           string  `json:"status"`
	PaymentStatus    string  `json:"payment_status"`
	AttendeeName     string  `json:"attendee_name"`
	AttendeeEmail    string  `json:"attendee_email"`
	AttendeePhone    *string `json:"attendee_phone"`
	TicketType       string  `json:"ticket_type"`
	Quantity         int     `json:"quantity"`
	Subtotal         string  `json:"subtotal"`
	Discount         string  `json:"discount"`
	Total            string  `json:"total"`
	Currency         string  `json:"currency"`
	PaymentIntentID  *string `json:"payment_intent_id"`
	// ClientSecret is only returned when the booking is created.
	ClientSecret string             `json:"client_secret,omitempty"`
	ConfirmedAt  *time.Time         `json:"confirmed_at"`
	CancelledAt  *time.Time         `json:"cancelled_at"`
	CreatedAt    time.Time          `json:"created_at"`
	Attendees    []attendeeResponse `json:"attendees,omitempty"`
}

func newBookingResponse(b entity.Booking) bookingResponse {
	return bookingResponse{
		BookingReference: b.BookingReference,
		CityEventID:      b.CityEventID,
		Status:           string(b.Status),
		PaymentStatus:    string(b.PaymentStatus),
		AttendeeName:     b.AttendeeName,
		AttendeeEmail:    b.AttendeeEmail,
		AttendeePhone:    b.AttendeePhone,
		TicketType:       string(b.TicketType),
		Quantity:         b.Quantity,
		Subtotal:         amount(b.Subtotal),
		Discount:         amount(b.Discount),
		Total:            amount(b.Total),
		Currency:         b.Currency,
		PaymentIntentID:  b.PaymentIntentID,
		ConfirmedAt:      b.ConfirmedAt,
		CancelledAt:      b.CancelledAt,
		CreatedAt:        b.CreatedAt,
		Attendees: lo.Map(b.Attendees, func(a entity.Attendee, _ int) attendeeResponse {
			return attendeeResponse{
				FirstName:    a.FirstName,
				LastName:     a.LastName,
				Email:        a.Email,
				Phone:        a.Phone,
				Role:         a.Role,
				Experience:   a.Experience,
				DietaryNotes: a.Dietary,
			}
		}),
	}
}

func amount(d decimal.Decimal) string {
	return entity.Round2(d).StringFixed(2)
}
