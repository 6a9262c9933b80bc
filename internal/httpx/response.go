// Package httpx holds the pieces every HTTP handler shares: the JSON envelope
// for errors, request decoding and validation, and router middleware.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"librarydesk/internal/apperr"
	"librarydesk/internal/lib/sl"
)

const (
	StatusOK    = "OK"
	StatusError = "Error"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// Message is a body carrying only a human readable message.
type Message struct {
	Message string `json:"message"`
}

// StatusFor maps an error to the HTTP status it is reported with.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrMalformedBody):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrOutOfStock),
		errors.Is(err, apperr.ErrAlreadyBorrowed),
		errors.Is(err, apperr.ErrAlreadyReturned),
		errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as an ErrorResponse. Internal errors are logged and hidden
// from the client.
func Error(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			sl.Err(err),
		)
		msg = "internal server error"
	} else {
		log.Debug("request rejected",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Int("status", status),
			sl.Err(err),
		)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{
		Status: StatusError,
		Code:   apperr.Code(err),
		Error:  msg,
	})
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}
