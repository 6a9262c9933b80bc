package review

import (
	"fmt"
	"log/slog"
	"net/http"

	"librarydesk/internal/apperr"
	"librarydesk/internal/auth"
	"librarydesk/internal/httpx"
)

type Handler struct {
	log     *slog.Logger
	service *Service
}

func NewHandler(log *slog.Logger, service *Service) *Handler {
	return &Handler{log: log.With(slog.String("handler", "review")), service: service}
}

// List serves GET /books/{id}/reviews.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}

	reviews, err := h.service.ListReviews(r.Context(), bookID)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, reviews)
}

type createRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// Create serves POST /books/{id}/reviews.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.Error(w, r, h.log, fmt.Errorf("%w: no identity", apperr.ErrUnauthorized))
		return
	}
	bookID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}

	var req createRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}

	rev, err := h.service.AddReview(r.Context(), bookID, caller.UserID, req.Rating, req.Comment)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.JSON(w, r, http.StatusCreated, rev)
}
