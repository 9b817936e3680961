package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

var errDuplicateRequest = errors.New("duplicate request")

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	var httpErr *echo.HTTPError
	switch {
	case errors.Is(err, errDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &httpErr):
		return httpErr.Code
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto a status code and a {"error": msg} body.
// Internal failures are logged and reported without detail.
func writeError(c echo.Context, stage string, err error) error {
	status := statusFor(err)
	if m := metricsFrom(c); m != nil {
		m.SetErrorStage(stage)
	}
	msg := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg = fmt.Sprint(httpErr.Message)
	}
	if status >= http.StatusInternalServerError {
		c.Logger().Error(err)
		msg = http.StatusText(status)
	}
	return c.JSON(status, errorResponse{Error: msg})
}
