package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarydesk/internal/apperr"
	"librarydesk/internal/lib/sl"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrNotFound, http.StatusNotFound},
		{apperr.ErrOutOfStock, http.StatusConflict},
		{apperr.ErrAlreadyBorrowed, http.StatusConflict},
		{apperr.ErrAlreadyReturned, http.StatusConflict},
		{apperr.ErrConflict, http.StatusConflict},
		{apperr.ErrDuplicate, http.StatusConflict},
		{apperr.ErrForbidden, http.StatusForbidden},
		{apperr.ErrUnauthorized, http.StatusUnauthorized},
		{apperr.ErrRateLimited, http.StatusTooManyRequests},
		{apperr.Validation("bad"), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: eof", ErrMalformedBody), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestError_Body(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	w := httptest.NewRecorder()
	Error(w, req, sl.Discard(), fmt.Errorf("borrow: %w", apperr.ErrOutOfStock))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"status":"Error","code":"out_of_stock","error":"borrow: book is out of stock"}`, w.Body.String())

	w = httptest.NewRecorder()
	Error(w, req, sl.Discard(), fmt.Errorf("dial tcp: refused"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"status":"Error","code":"internal","error":"internal server error"}`, w.Body.String())
}

type createRequest struct {
	Title  string `json:"title" validate:"required"`
	Copies int    `json:"copies" validate:"min=0"`
	Email  string `json:"email" validate:"omitempty,email"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   error
		wantInMsg string
	}{
		{name: "valid", body: `{"title":"Clean Code","copies":3}`},
		{name: "malformed", body: `{"title":`, wantErr: ErrMalformedBody},
		{name: "empty body", body: ``, wantErr: ErrMalformedBody},
		{name: "missing title", body: `{"copies":1}`, wantErr: apperr.ErrValidation, wantInMsg: "field title is required"},
		{name: "negative copies", body: `{"title":"x","copies":-1}`, wantErr: apperr.ErrValidation, wantInMsg: "field copies must be at least 0"},
		{name: "bad email", body: `{"title":"x","email":"nope"}`, wantErr: apperr.ErrValidation, wantInMsg: "field email must be a valid email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst createRequest
			err := Decode(req, &dst)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, "Clean Code", dst.Title)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantInMsg != "" {
				assert.Contains(t, err.Error(), tt.wantInMsg)
			}
		})
	}
}

func TestUUIDParam(t *testing.T) {
	r := chi.NewRouter()
	var gotErr error
	r.Get("/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, gotErr = UUIDParam(r, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/books/not-a-uuid", nil))
	assert.ErrorIs(t, gotErr, apperr.ErrValidation)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/books/5b0f6b8e-8a0a-4a8e-9d59-2a4a1f0f6c11", nil))
	assert.NoError(t, gotErr)
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/books/42", nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/books/{id}", "418"))
	assert.Equal(t, 3.0, got)
}
