package app_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"librarydesk/internal/app"
	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/client"
	"librarydesk/internal/config"
	"librarydesk/internal/fine"
	"librarydesk/internal/lib/sl"
	"librarydesk/internal/membership"
	"librarydesk/internal/storage/memstore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	srv   *httptest.Server
	api   *client.Client
	svc   *app.Services
	clock *clock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := &clock{now: time.Now().UTC()}
	store := memstore.New()
	svc := app.NewServices(store, config.Auth{
		JWTSecret:         "test-secret",
		TokenTTL:          time.Hour,
		Issuer:            "librarydesk",
		AttemptsPerMinute: 60,
		AttemptBurst:      10,
	},
		circulation.WithClock(clk.Now),
		circulation.WithMeterProvider(noop.NewMeterProvider()),
	)

	srv := httptest.NewServer(app.NewRouter(sl.Discard(), svc, store, prometheus.NewRegistry()))
	t.Cleanup(srv.Close)

	return &env{srv: srv, api: client.New(srv.URL), svc: svc, clock: clk}
}

// staff registers a privileged account directly and logs it in.
func (e *env) staff(t *testing.T, role membership.Role) *client.Client {
	t.Helper()
	ctx := context.Background()
	email := uuid.NewString() + "@example.com"
	_, err := e.svc.Members.Register(ctx, membership.Registration{
		Name: "Staff " + string(role), Email: email, Password: "password123", Role: role,
	})
	require.NoError(t, err)
	tok, err := e.api.Login(ctx, email, "password123")
	require.NoError(t, err)
	return e.api.WithToken(tok.Token)
}

func (e *env) reader(t *testing.T, name string) (*client.Client, *membership.User) {
	t.Helper()
	tok, err := e.api.Signup(context.Background(), name, uuid.NewString()+"@example.com", "password123")
	require.NoError(t, err)
	return e.api.WithToken(tok.Token), tok.User
}

func TestBorrowReturnLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	admin := e.staff(t, membership.RoleAdmin)
	alice, aliceUser := e.reader(t, "Alice")
	bob, _ := e.reader(t, "Bob")
	assert.Equal(t, membership.RoleMember, aliceUser.Role)

	one := 1
	book, err := admin.CreateBook(ctx, client.NewBook{Title: "Clean Code", Author: "Robert C. Martin", Genre: "Programming", Copies: &one})
	require.NoError(t, err)
	assert.Equal(t, 1, book.AvailableCount)

	borrowed, err := alice.Borrow(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Book borrowed successfully", borrowed.Message)
	assert.WithinDuration(t, borrowed.Borrow.BorrowedDate.Add(circulation.LoanPeriod), borrowed.DueDate, time.Second)

	_, err = alice.Borrow(ctx, book.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyBorrowed)
	_, err = bob.Borrow(ctx, book.ID)
	assert.ErrorIs(t, err, apperr.ErrOutOfStock)

	got, err := e.api.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Zero(t, got.AvailableCount)

	// three days past due
	e.clock.Advance(circulation.LoanPeriod + 3*24*time.Hour)

	fees, err := alice.Fees(ctx)
	require.NoError(t, err)
	assert.Equal(t, fine.Amount(30), fees.CurrentLateFees)

	_, err = bob.Return(ctx, borrowed.Borrow.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	returned, err := alice.Return(ctx, borrowed.Borrow.ID)
	require.NoError(t, err)
	assert.Equal(t, fine.Amount(30), returned.Fine)
	assert.Equal(t, "Book returned 3 day(s) late", returned.Message)

	_, err = alice.Return(ctx, borrowed.Borrow.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyReturned)

	fees, err = alice.Fees(ctx)
	require.NoError(t, err)
	assert.Equal(t, fine.Amount(30), fees.TotalPaidFines)
	assert.Equal(t, fine.Amount(30), fees.TotalFines)

	mine, err := alice.MyBorrows(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, circulation.BorrowStatusReturned, mine[0].Status)
	assert.Equal(t, "Clean Code", mine[0].Book.Title)

	stats, err := admin.Stats(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalBorrows)
	assert.Equal(t, fine.Amount(30), stats.TotalFees)
	require.Len(t, stats.TopBooks, 1)

	events, err := admin.BorrowEvents(ctx, borrowed.Borrow.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, circulation.EventBookReturned, events[1].Type)

	report, err := admin.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)

	dash, err := alice.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, aliceUser.ID, dash.User.ID)
	assert.Empty(t, dash.BorrowedBooks)

	_, err = bob.Borrow(ctx, book.ID)
	require.NoError(t, err)
}

func TestAccessControl(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, _ := e.reader(t, "Alice")
	librarian := e.staff(t, membership.RoleLibrarian)

	_, err := e.api.MyBorrows(ctx)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = e.api.WithToken("not-a-token").MyBorrows(ctx)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = alice.CreateBook(ctx, client.NewBook{Title: "x", Author: "y", Genre: "z"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = alice.ListUsers(ctx)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = librarian.AllBorrows(ctx)
	assert.NoError(t, err)

	// reports are admin only
	_, err = librarian.Stats(ctx, 0)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestSignupAndLoginErrors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.api.Signup(ctx, "Al", "al@example.com", "password123")
	require.NoError(t, err)

	_, err = e.api.Signup(ctx, "Al", "al@example.com", "password123")
	assert.ErrorIs(t, err, apperr.ErrDuplicate)

	_, err = e.api.Signup(ctx, "Al", "not-an-email", "password123")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.api.Login(ctx, "al@example.com", "wrong")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, aliceUser := e.reader(t, "Alice")

	me, err := alice.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, aliceUser.ID, me.ID)
	assert.Equal(t, membership.RoleMember, me.Role)

	_, err = e.api.Me(ctx)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestCatalogAndReviews(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	librarian := e.staff(t, membership.RoleLibrarian)
	alice, _ := e.reader(t, "Alice")

	book, err := librarian.CreateBook(ctx, client.NewBook{Title: "Refactoring", Author: "Martin Fowler", Genre: "Programming"})
	require.NoError(t, err)
	assert.Equal(t, 10, book.TotalCopies)

	title := "Refactoring (2nd ed.)"
	updated, err := librarian.UpdateBook(ctx, book.ID, client.BookUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)

	books, err := e.api.ListBooks(ctx, catalog.Filter{Query: "fowler"})
	require.NoError(t, err)
	require.Len(t, books, 1)

	_, err = alice.AddReview(ctx, book.ID, 5, "Essential.")
	require.NoError(t, err)
	_, err = alice.AddReview(ctx, book.ID, 9, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	reviews, err := e.api.ListReviews(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "Alice", reviews[0].ReviewerName)

	require.NoError(t, librarian.DeleteBook(ctx, book.ID))
	_, err = e.api.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)

	status, err := e.api.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OK", status)

	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "librarydesk_http_requests_total")
}
