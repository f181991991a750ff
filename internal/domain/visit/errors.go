package visit

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrUnauthorized       = errors.New("appointment belongs to another doctor")
	ErrNotFound           = errors.New("not found")
	ErrNoSuchTransition   = errors.New("appointment not found or not scheduled")
	ErrPrescriptionExists = errors.New("appointment already has a prescription")
	ErrDoubleBooked       = errors.New("doctor already has an appointment at this time")
	ErrServer             = errors.New("server error")

	// ErrCatalogConflict is returned by Tx inserts when a concurrent
	// transaction created the same catalog row first. Resolvers absorb it.
	ErrCatalogConflict = errors.New("catalog entry created concurrently")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

var known = []error{
	ErrValidation, ErrUnauthorized, ErrNotFound, ErrNoSuchTransition,
	ErrPrescriptionExists, ErrDoubleBooked, ErrServer,
}

// classify passes domain errors through and wraps everything else in
// ErrServer, tagged with the step that failed.
func classify(step string, err error) error {
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrServer, step, err)
}

// httpError maps domain errors onto responses. Server errors get a generic
// message; their cause rides along as the internal error for the request log.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, ErrUnauthorized.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoSuchTransition),
		errors.Is(err, ErrPrescriptionExists),
		errors.Is(err, ErrDoubleBooked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
