// internal/membership/handler.go
package membership

import (
	"log/slog"
	"net/http"

	"librarydesk/internal/httpx"
)

// Handler serves user administration.
type Handler struct {
	log     *slog.Logger
	service Service
}

func NewHandler(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log.With(slog.String("handler", "membership")),
		service: service,
	}
}

// ListUsers serves GET /users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, users)
}

// GetUser serves GET /users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, user)
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=member user librarian admin"`
}

// ChangeRole serves PUT /users/{id}/role.
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}

	var req changeRoleRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}

	user, err := h.service.ChangeRole(r.Context(), id, role)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}

	h.log.Info("role changed", slog.String("user_id", id.String()), slog.String("role", string(role)))
	httpx.JSON(w, r, http.StatusOK, user)
}
