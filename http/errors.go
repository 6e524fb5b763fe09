package http

import (
	"errors"
	"net/http"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/labstack/echo/v4"

	"masterclass/entity"
)

type errorResponse struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

const (
	codeUnauthorized     = "Unauthorized"
	codeRateLimited      = "RateLimited"
	codeMethodNotAllowed = "MethodNotAllowed"
)

var kindStatus = map[entity.Kind]int{
	entity.KindValidation:      http.StatusBadRequest,
	entity.KindNotBookable:     http.StatusConflict,
	entity.KindInsufficient:    http.StatusConflict,
	entity.KindPricing:         http.StatusUnprocessableEntity,
	entity.KindNotFound:        http.StatusNotFound,
	entity.KindAuthorization:   http.StatusForbidden,
	entity.KindPaymentProvider: http.StatusBadGateway,
	entity.KindConflict:        http.StatusConflict,
	entity.KindInternal:        http.StatusInternalServerError,
}

// handleError is the only place where errors become HTTP responses.
func handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := errorBody(err)
	logger := log.FromContext(c.Request().Context()).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed")
	} else {
		logger.Debug("Request rejected")
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, body)
	}
	if writeErr != nil {
		logger.WithError(writeErr).Error("Could not write error response")
	}
}

func errorBody(err error) (int, errorResponse) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, errorResponse{
			ErrorCode: statusCode(httpErr.Code),
			Message:   httpMessage(httpErr),
		}
	}

	kind := entity.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok || kind == entity.KindInternal {
		return http.StatusInternalServerError, errorResponse{
			ErrorCode: string(entity.KindInternal),
			Message:   "internal error",
		}
	}

	body := errorResponse{ErrorCode: string(kind), Message: err.Error()}
	var e *entity.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.Details = e.Details
	}
	return status, body
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return string(entity.KindValidation)
	case http.StatusUnauthorized:
		return codeUnauthorized
	case http.StatusForbidden:
		return string(entity.KindAuthorization)
	case http.StatusNotFound:
		return string(entity.KindNotFound)
	case http.StatusMethodNotAllowed:
		return codeMethodNotAllowed
	case http.StatusTooManyRequests:
		return codeRateLimited
	}
	return string(entity.KindInternal)
}

func httpMessage(err *echo.HTTPError) string {
	if msg, ok := err.Message.(string); ok {
		return msg
	}
	return http.StatusText(err.Code)
}

func errorJSON(c echo.Context, status int, kind string, message string) error {
	return c.JSON(status, errorResponse{ErrorCode: kind, Message: message})
}
