// Package client is a typed HTTP client for the library REST API. Failed
// requests return *APIError, which unwraps to the matching apperr sentinel so
// callers can use errors.Is exactly as the server does.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"librarydesk/internal/apperr"
	"librarydesk/internal/auth"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/membership"
	"librarydesk/internal/review"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the response code back to its sentinel.
func (e *APIError) Unwrap() error {
	return apperr.FromCode(e.Code)
}

// Client talks to one server. A Client is safe for concurrent use; WithToken
// returns a copy bound to another identity.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

type Option func(*Client)

// WithHTTPClient replaces the default client with a 10s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a client sending token as its bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: apperr.CodeInternal}
		var e struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil {
			apiErr.Code, apiErr.Message = e.Code, e.Error
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Health reports the server's /healthz status.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out.Status, err
}

// Me returns the profile of the client's token holder.
func (c *Client) Me(ctx context.Context) (*membership.User, error) {
	var out auth.MeResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) Signup(ctx context.Context, name, email, password string) (*auth.TokenResponse, error) {
	var out auth.TokenResponse
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*auth.TokenResponse, error) {
	var out auth.TokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListBooks(ctx context.Context, f catalog.Filter) ([]*catalog.Book, error) {
	q := url.Values{}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	if f.Genre != "" {
		q.Set("genre", f.Genre)
	}
	if f.AvailableOnly {
		q.Set("available", "true")
	}
	path := "/api/books"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []*catalog.Book
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var out catalog.Book
	if err := c.do(ctx, http.MethodGet, "/api/books/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewBook is the body of CreateBook.
type NewBook struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Genre    string `json:"genre"`
	ImageURL string `json:"imageUrl,omitempty"`
	Copies   *int   `json:"copies,omitempty"`
}

func (c *Client) CreateBook(ctx context.Context, nb NewBook) (*catalog.Book, error) {
	var out catalog.Book
	if err := c.do(ctx, http.MethodPost, "/api/books", nb, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BookUpdate is the body of UpdateBook. Nil fields are left alone.
type BookUpdate struct {
	Title       *string `json:"title,omitempty"`
	Author      *string `json:"author,omitempty"`
	Genre       *string `json:"genre,omitempty"`
	ImageURL    *string `json:"imageUrl,omitempty"`
	TotalCopies *int    `json:"totalCopies,omitempty"`
}

func (c *Client) UpdateBook(ctx context.Context, id uuid.UUID, u BookUpdate) (*catalog.Book, error) {
	var out catalog.Book
	if err := c.do(ctx, http.MethodPut, "/api/books/"+id.String(), u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteBook(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/books/"+id.String(), nil, nil)
}

func (c *Client) ListReviews(ctx context.Context, bookID uuid.UUID) ([]*review.Review, error) {
	var out []*review.Review
	if err := c.do(ctx, http.MethodGet, "/api/books/"+bookID.String()+"/reviews", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddReview(ctx context.Context, bookID uuid.UUID, rating int, comment string) (*review.Review, error) {
	var out review.Review
	body := map[string]any{"rating": rating, "comment": comment}
	if err := c.do(ctx, http.MethodPost, "/api/books/"+bookID.String()+"/reviews", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Borrow(ctx context.Context, bookID uuid.UUID) (*circulation.BorrowResponse, error) {
	var out circulation.BorrowResponse
	body := map[string]string{"bookId": bookID.String()}
	if err := c.do(ctx, http.MethodPost, "/api/borrows/borrow", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Return(ctx context.Context, borrowID uuid.UUID) (*circulation.ReturnResponse, error) {
	var out circulation.ReturnResponse
	body := map[string]string{"borrowId": borrowID.String()}
	if err := c.do(ctx, http.MethodPost, "/api/borrows/return", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MyBorrows(ctx context.Context) ([]*circulation.BorrowView, error) {
	var out []*circulation.BorrowView
	if err := c.do(ctx, http.MethodGet, "/api/borrows/user", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Fees(ctx context.Context) (*circulation.FeeSummary, error) {
	var out circulation.FeeSummary
	if err := c.do(ctx, http.MethodGet, "/api/borrows/fees", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AllBorrows(ctx context.Context) ([]*circulation.BorrowView, error) {
	var out []*circulation.BorrowView
	if err := c.do(ctx, http.MethodGet, "/api/borrows", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats fetches the library report. A limit of 0 uses the server default.
func (c *Client) Stats(ctx context.Context, limit int) (*circulation.Stats, error) {
	path := "/api/borrows/stats"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out circulation.Stats
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Audit(ctx context.Context) (*circulation.AuditReport, error) {
	var out circulation.AuditReport
	if err := c.do(ctx, http.MethodGet, "/api/borrows/audit", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BorrowEvents(ctx context.Context, borrowID uuid.UUID) ([]circulation.Event, error) {
	var out []circulation.Event
	if err := c.do(ctx, http.MethodGet, "/api/borrows/"+borrowID.String()+"/events", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Dashboard(ctx context.Context) (*circulation.Dashboard, error) {
	var out circulation.Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]*membership.User, error) {
	var out []*membership.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ChangeRole(ctx context.Context, id uuid.UUID, role membership.Role) (*membership.User, error) {
	var out membership.User
	body := map[string]string{"role": string(role)}
	if err := c.do(ctx, http.MethodPut, "/api/users/"+id.String()+"/role", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
