// internal/catalog/handler.go
package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"librarydesk/internal/apperr"
	"librarydesk/internal/httpx"
)

// Handler serves the book endpoints.
type Handler struct {
	log     *slog.Logger
	service Service
}

func NewHandler(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log.With(slog.String("handler", "catalog")),
		service: service,
	}
}

func (h *Handler) requestLog(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// List serves GET /books?q=&genre=&available=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "catalog.List")

	q := r.URL.Query()
	f := Filter{Query: q.Get("q"), Genre: q.Get("genre")}
	if raw := q.Get("available"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.Error(w, r, log, apperr.Validation("available must be true or false"))
			return
		}
		f.AvailableOnly = v
	}

	books, err := h.service.ListBooks(r.Context(), f)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, books)
}

// Get serves GET /books/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "catalog.Get")

	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, book)
}

type createBookRequest struct {
	Title    string `json:"title" validate:"required"`
	Author   string `json:"author" validate:"required"`
	Genre    string `json:"genre" validate:"required"`
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
	Copies   *int   `json:"copies" validate:"omitempty,min=0"`
}

// Create serves POST /books.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "catalog.Create")

	var req createBookRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), NewBook{
		Title:    req.Title,
		Author:   req.Author,
		Genre:    req.Genre,
		ImageURL: req.ImageURL,
		Copies:   req.Copies,
	})
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	log.Info("book added", slog.String("book_id", book.ID.String()), slog.Int("copies", book.TotalCopies))
	httpx.JSON(w, r, http.StatusCreated, book)
}

type updateBookRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1"`
	Author      *string `json:"author" validate:"omitempty,min=1"`
	Genre       *string `json:"genre" validate:"omitempty,min=1"`
	ImageURL    *string `json:"imageUrl" validate:"omitempty,url"`
	TotalCopies *int    `json:"totalCopies" validate:"omitempty,min=0"`
}

// Update serves PUT /books/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "catalog.Update")

	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	var req updateBookRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, BookUpdate{
		Title:       req.Title,
		Author:      req.Author,
		Genre:       req.Genre,
		ImageURL:    req.ImageURL,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, book)
}

// Delete serves DELETE /books/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "catalog.Delete")

	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		httpx.Error(w, r, log, err)
		return
	}

	log.Info("book retired", slog.String("book_id", id.String()))
	httpx.JSON(w, r, http.StatusOK, httpx.Message{Message: "Book deleted successfully"})
}
