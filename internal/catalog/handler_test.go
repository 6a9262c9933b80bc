package catalog_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/lib/sl"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) AddBook(ctx context.Context, nb catalog.NewBook) (*catalog.Book, error) {
	args := m.Called(ctx, nb)
	b, _ := args.Get(0).(*catalog.Book)
	return b, args.Error(1)
}

func (m *mockService) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*catalog.Book)
	return b, args.Error(1)
}

func (m *mockService) ListBooks(ctx context.Context, f catalog.Filter) ([]*catalog.Book, error) {
	args := m.Called(ctx, f)
	b, _ := args.Get(0).([]*catalog.Book)
	return b, args.Error(1)
}

func (m *mockService) UpdateBook(ctx context.Context, id uuid.UUID, u catalog.BookUpdate) (*catalog.Book, error) {
	args := m.Called(ctx, id, u)
	b, _ := args.Get(0).(*catalog.Book)
	return b, args.Error(1)
}

func (m *mockService) DeleteBook(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func newRouter(svc catalog.Service) http.Handler {
	h := catalog.NewHandler(sl.Discard(), svc)
	r := chi.NewRouter()
	r.Get("/books", h.List)
	r.Post("/books", h.Create)
	r.Get("/books/{id}", h.Get)
	r.Put("/books/{id}", h.Update)
	r.Delete("/books/{id}", h.Delete)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandler_List(t *testing.T) {
	svc := new(mockService)
	svc.On("ListBooks", mock.Anything, catalog.Filter{Query: "orwell", Genre: "Dystopian", AvailableOnly: true}).
		Return([]*catalog.Book{{Title: "1984", TotalCopies: 1, AvailableCount: 1}}, nil).Once()
	router := newRouter(svc)

	w := do(router, http.MethodGet, "/books?q=orwell&genre=Dystopian&available=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isAvailable":true`)

	w = do(router, http.MethodGet, "/books?available=maybe", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	svc.AssertExpectations(t)
}

func TestHandler_Create(t *testing.T) {
	svc := new(mockService)
	svc.On("AddBook", mock.Anything, catalog.NewBook{Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction"}).
		Return(&catalog.Book{ID: uuid.New(), Title: "Dune", TotalCopies: 10, AvailableCount: 10}, nil).Once()
	router := newRouter(svc)

	w := do(router, http.MethodPost, "/books", `{"title":"Dune","author":"Frank Herbert","genre":"Science Fiction"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"totalCopies":10`)

	w = do(router, http.MethodPost, "/books", `{"title":"Dune","genre":"Science Fiction"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "field author is required")

	w = do(router, http.MethodPost, "/books", `{"title":"Dune","author":"F","genre":"G","copies":-1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	svc.AssertExpectations(t)
}

func TestHandler_GetMissing(t *testing.T) {
	id := uuid.New()
	svc := new(mockService)
	svc.On("GetBook", mock.Anything, id).Return(nil, fmt.Errorf("get: %w", apperr.ErrNotFound)).Once()

	w := do(newRouter(svc), http.MethodGet, "/books/"+id.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"not_found"`)
	svc.AssertExpectations(t)
}

func TestHandler_Delete(t *testing.T) {
	id := uuid.New()
	svc := new(mockService)
	svc.On("DeleteBook", mock.Anything, id).Return(nil).Once()

	w := do(newRouter(svc), http.MethodDelete, "/books/"+id.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Book deleted successfully"}`, w.Body.String())
	svc.AssertExpectations(t)
}

func TestHandler_UpdateShrinkConflict(t *testing.T) {
	id := uuid.New()
	two := 2
	svc := new(mockService)
	svc.On("UpdateBook", mock.Anything, id, catalog.BookUpdate{TotalCopies: &two}).
		Return(nil, fmt.Errorf("update: %w", apperr.ErrConflict)).Once()

	w := do(newRouter(svc), http.MethodPut, "/books/"+id.String(), `{"totalCopies":2}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	svc.AssertExpectations(t)
}
