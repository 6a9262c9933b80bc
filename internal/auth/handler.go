package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"librarydesk/internal/apperr"
	"librarydesk/internal/httpx"
	"librarydesk/internal/lib/sl"
	"librarydesk/internal/membership"
)

// Handler serves signup, login and the caller's profile.
type Handler struct {
	log     *slog.Logger
	members membership.Service
	maker   Maker
}

func NewHandler(log *slog.Logger, members membership.Service, maker Maker) *Handler {
	return &Handler{
		log:     log.With(slog.String("handler", "auth")),
		members: members,
		maker:   maker,
	}
}

// TokenResponse is returned by signup and login.
type TokenResponse struct {
	Message string           `json:"message"`
	Token   string           `json:"token"`
	User    *membership.User `json:"user"`
}

type signupRequest struct {
	Name     string `json:"name" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// Signup serves POST /auth/signup. Self-registered accounts are always members.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	const op = "auth.Signup"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req signupRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	user, err := h.members.Register(r.Context(), membership.Registration{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     membership.RoleMember,
	})
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	token, err := h.maker.GenerateToken(user)
	if err != nil {
		log.Error("failed to issue token", sl.Err(err))
		httpx.Error(w, r, log, err)
		return
	}

	log.Info("user registered", slog.String("user_id", user.ID.String()))
	httpx.JSON(w, r, http.StatusCreated, TokenResponse{
		Message: "User created successfully",
		Token:   token,
		User:    user,
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login serves POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	const op = "auth.Login"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req loginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	user, err := h.members.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	token, err := h.maker.GenerateToken(user)
	if err != nil {
		log.Error("failed to issue token", sl.Err(err))
		httpx.Error(w, r, log, err)
		return
	}

	httpx.JSON(w, r, http.StatusOK, TokenResponse{
		Message: "Login successful",
		Token:   token,
		User:    user,
	})
}

// MeResponse is the caller's own profile.
type MeResponse struct {
	User *membership.User `json:"user"`
}

// Me serves GET /auth/me. It must run behind Middleware.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	const op = "auth.Me"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, ok := FromContext(r.Context())
	if !ok {
		httpx.Error(w, r, log, fmt.Errorf("%w: no identity", apperr.ErrUnauthorized))
		return
	}

	user, err := h.members.GetUser(r.Context(), id.UserID)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, MeResponse{User: user})
}
