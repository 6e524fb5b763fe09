package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"masterclass/booking"
	"masterclass/entity"
)

type postBookingRequest struct {
	CityEventID   int64             `json:"city_event_id"`
	AttendeeName  string            `json:"attendee_name"`
	AttendeeEmail string            `json:"attendee_email"`
	AttendeePhone *string           `json:"attendee_phone"`
	TicketType    string            `json:"ticket_type"`
	Quantity      int               `json:"quantity"`
	Attendees     []attendeeRequest `json:"attendees"`
}

func (r postBookingRequest) toCreateRequest() booking.CreateRequest {
	return booking.CreateRequest{
		CityEventID: r.CityEventID,
		TicketType:  entity.TicketType(r.TicketType),
		Quantity:    r.Quantity,
		Contact: entity.Contact{
			Name:  r.AttendeeName,
			Email: r.AttendeeEmail,
			Phone: r.AttendeePhone,
		},
		Attendees: lo.Map(r.Attendees, func(a attendeeRequest, _ int) entity.Attendee {
			return entity.Attendee{
				FirstName:  a.FirstName,
				LastName:   a.LastName,
				Email:      a.Email,
				Phone:      a.Phone,
				Role:       a.Role,
				Experience: a.Experience,
				Dietary:    a.DietaryNotes,
			}
		}),
	}
}

// PostBooking holds the seats, then asks the payment provider for an
// intent. A provider failure answers 502 and leaves the pending booking to
// the orphan sweeper.
func (s Server) PostBooking(c echo.Context) error {
	var request postBookingRequest
	if err := c.Bind(&request); err != nil {
		return err
	}

	ctx := c.Request().Context()

	pending, err := s.bookings.CreatePending(ctx, request.toCreateRequest())
	if err != nil {
		return err
	}

	withIntent, clientSecret, err := s.payments.CreateIntent(ctx, pending)
	if err != nil {
		return err
	}

	resp := newBookingResponse(withIntent)
	resp.ClientSecret = clientSecret
	if len(resp.Attendees) == 0 {
		resp.Attendees = newBookingResponse(pending).Attendees
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s Server) GetBooking(c echo.Context) error {
	b, err := s.bookings.Get(c.Request().Context(), c.Param("reference"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newBookingResponse(b))
}

type postCancelBookingRequest struct {
	AttendeeEmail string `json:"attendee_email"`
}

// PostCancelBooking accepts either an admin bearer token or the contact
// email of the booking.
func (s Server) PostCancelBooking(c echo.Context) error {
	reference := c.Param("reference")
	ctx := c.Request().Context()

	actor, isAdmin, err := s.admin.identify(c)
	if err != nil {
		return err
	}

	var cancelled entity.Booking
	if isAdmin {
		cancelled, err = s.bookings.Cancel(ctx, reference, actor)
	} else {
		var request postCancelBookingRequest
		if err := c.Bind(&request); err != nil {
			return err
		}
		if request.AttendeeEmail == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "attendee_email or admin credentials required")
		}
		cancelled, err = s.bookings.CancelByContact(ctx, reference, request.AttendeeEmail)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newBookingResponse(cancelled))
}
