// internal/circulation/handler.go
package circulation

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"librarydesk/internal/apperr"
	"librarydesk/internal/auth"
	"librarydesk/internal/fine"
	"librarydesk/internal/httpx"
)

// Handler serves the borrow endpoints.
type Handler struct {
	log     *slog.Logger
	service Service
}

func NewHandler(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log.With(slog.String("handler", "circulation")),
		service: service,
	}
}

func (h *Handler) requestLog(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func identity(r *http.Request) (auth.Identity, error) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Identity{}, fmt.Errorf("%w: no identity", apperr.ErrUnauthorized)
	}
	return id, nil
}

type borrowRequest struct {
	BookID string `json:"bookId" validate:"required"`
}

// BorrowResponse is returned by a successful borrow.
type BorrowResponse struct {
	Message string    `json:"message"`
	DueDate time.Time `json:"dueDate"`
	Borrow  *Borrow   `json:"borrow"`
}

// Borrow serves POST /borrows/borrow.
func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "circulation.Borrow")

	caller, err := identity(r)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	var req borrowRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	bookID, err := httpx.ParseUUID("bookId", req.BookID)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	borrow, err := h.service.BorrowBook(r.Context(), caller.UserID, bookID)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	log.Info("book borrowed",
		slog.String("borrow_id", borrow.ID.String()),
		slog.String("book_id", bookID.String()),
		slog.String("user_id", caller.UserID.String()),
	)
	httpx.JSON(w, r, http.StatusCreated, BorrowResponse{
		Message: "Book borrowed successfully",
		DueDate: borrow.DueDate,
		Borrow:  borrow,
	})
}

type returnRequest struct {
	BorrowID string `json:"borrowId" validate:"required"`
}

// ReturnResponse is returned by a successful return.
type ReturnResponse struct {
	Message string      `json:"message"`
	Fine    fine.Amount `json:"fine"`
	Borrow  *Borrow     `json:"borrow"`
}

// Return serves POST /borrows/return.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "circulation.Return")

	caller, err := identity(r)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	var req returnRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	borrowID, err := httpx.ParseUUID("borrowId", req.BorrowID)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	borrow, err := h.service.ReturnBook(r.Context(), borrowID, Requester{UserID: caller.UserID, Role: caller.Role})
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	msg := "Book returned successfully"
	if borrow.Fine > 0 {
		msg = fmt.Sprintf("Book returned %d day(s) late", fine.DaysLate(borrow.DueDate, *borrow.ReturnDate))
	}
	log.Info("book returned",
		slog.String("borrow_id", borrow.ID.String()),
		slog.Int64("fine", int64(borrow.Fine)),
	)
	httpx.JSON(w, r, http.StatusOK, ReturnResponse{
		Message: msg,
		Fine:    borrow.Fine,
		Borrow:  borrow,
	})
}

// Mine serves GET /borrows/user.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "circulation.Mine")

	caller, err := identity(r)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	views, err := h.service.UserBorrows(r.Context(), caller.UserID)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, views)
}

// Fees serves GET /borrows/fees.
func (h *Handler) Fees(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "circulation.Fees")

	caller, err := identity(r)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	summary, err := h.service.FeeSummary(r.Context(), caller.UserID)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, summary)
}

// All serves GET /borrows.
func (h *Handler) All(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "circulation.All")

	views, err := h.service.AllBorrows(r.Context())
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, views)
}

// Stats serves GET /borrows/stats?limit=N.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "circulation.Stats")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpx.Error(w, r, log, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	stats, err := h.service.Stats(r.Context(), limit)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, stats)
}

// Events serves GET /borrows/{id}/events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "circulation.Events")

	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	events, err := h.service.BorrowHistory(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, events)
}

// Audit serves GET /borrows/audit.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "circulation.Audit")

	report, err := h.service.Audit(r.Context())
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	if !report.Healthy {
		log.Warn("inventory audit found violations",
			slog.Int("negative_stock", len(report.NegativeStock)),
			slog.Int("over_stock", len(report.OverStock)),
			slog.Int("ledger_mismatches", len(report.LedgerMismatches)),
			slog.Int("duplicate_active", len(report.DuplicateActive)),
			slog.Int("mirror_mismatches", len(report.MirrorMismatches)),
		)
	}
	httpx.JSON(w, r, http.StatusOK, report)
}

// Dashboard serves GET /dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "circulation.Dashboard")

	caller, err := identity(r)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	dash, err := h.service.Dashboard(r.Context(), caller.UserID)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, dash)
}
