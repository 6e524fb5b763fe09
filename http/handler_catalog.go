package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"masterclass/booking"
	"masterclass/entity"
)

func (s Server) GetEvents(c echo.Context) error {
	events, err := s.catalog.ListEvents(c.Request().Context())
	if err != nil {
		return fmt.Errorf("could not list events: %w", err)
	}

	return c.JSON(http.StatusOK, lo.Map(events, func(ev entity.MasterclassEvent, _ int) eventResponse {
		return newEventResponse(ev)
	}))
}

func (s Server) GetEvent(c echo.Context) error {
	id, err := idParam(c, "event_id")
	if err != nil {
		return err
	}

	ev, err := s.catalog.GetEvent(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newEventResponse(ev))
}

func (s Server) GetCities(c echo.Context) error {
	upcomingOnly := false
	if raw := c.QueryParam("include_upcoming_only"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return entity.NewValidationError("include_upcoming_only must be a boolean")
		}
		upcomingOnly = parsed
	}

	cities, err := s.catalog.ListCities(c.Request().Context(), upcomingOnly)
	if err != nil {
		return fmt.Errorf("could not list cities: %w", err)
	}

	return c.JSON(http.StatusOK, lo.Map(cities, func(city entity.CityWithEvents, _ int) cityResponse {
		resp := newCityResponse(city.City)
		resp.UpcomingEvents = lo.Map(city.Events, func(ev entity.CityEvent, _ int) cityEventResponse {
			return newCityEventResponse(ev)
		})
		return resp
	}))
}

func (s Server) GetCityEvents(c echo.Context) error {
	cityID, err := idParam(c, "city_id")
	if err != nil {
		return err
	}

	status := entity.CityEventPublished
	if raw := c.QueryParam("status"); raw != "" {
		status = entity.CityEventStatus(raw)
		if status != entity.CityEventPublished && status != entity.CityEventSoldOut {
			return entity.NewValidationError("status must be %s or %s", entity.CityEventPublished, entity.CityEventSoldOut)
		}
	}

	events, err := s.catalog.CityEventsByCity(c.Request().Context(), cityID, status)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, lo.Map(events, func(ev entity.CityEvent, _ int) cityEventResponse {
		return newCityEventResponse(ev)
	}))
}

func (s Server) GetCityEvent(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	details, err := s.catalog.GetCityEventDetails(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, cityEventDetailsResponse{
		cityEventResponse: newCityEventResponse(details.CityEvent),
		Event:             newEventResponse(details.Event),
		City:              newCityResponse(details.City),
		Venue:             newVenueResponse(details.Venue),
	})
}

func (s Server) GetAvailability(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	ev, err := s.catalog.GetCityEvent(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newAvailabilityResponse(booking.AvailabilityOf(ev)))
}

func idParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, entity.NewValidationError("%s must be a positive integer", name)
	}
	return id, nil
}
