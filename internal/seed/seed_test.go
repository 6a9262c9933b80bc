package seed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"librarydesk/internal/app"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/config"
	"librarydesk/internal/lib/sl"
	"librarydesk/internal/seed"
	"librarydesk/internal/storage/memstore"
)

func newSeeder(t *testing.T) (*seed.Seeder, *app.Services) {
	t.Helper()
	svc := app.NewServices(memstore.New(), config.Auth{
		JWTSecret:         "seed-secret",
		TokenTTL:          time.Hour,
		Issuer:            "librarydesk",
		AttemptsPerMinute: 60,
		AttemptBurst:      10,
	}, circulation.WithMeterProvider(noop.NewMeterProvider()))
	return seed.New(sl.Discard(), svc.Catalog, svc.Members, svc.Circulation), svc
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, svc := newSeeder(t)

	report, err := s.Run(ctx, seed.Options{})
	require.NoError(t, err)
	assert.Equal(t, len(seed.Catalog), report.Added)
	assert.False(t, report.UserMade)

	books, err := svc.Catalog.ListBooks(ctx, catalog.Filter{})
	require.NoError(t, err)
	require.Len(t, books, len(seed.Catalog))
	for _, b := range books {
		assert.Equal(t, seed.DefaultCopies, b.TotalCopies, b.Title)
		assert.Equal(t, seed.DefaultCopies, b.AvailableCount, b.Title)
	}

	report, err = s.Run(ctx, seed.Options{})
	require.NoError(t, err)
	assert.Zero(t, report.Added)
	assert.Equal(t, len(seed.Catalog), report.Skipped)
}

func TestTestUserAndSampleBorrow(t *testing.T) {
	ctx := context.Background()
	s, svc := newSeeder(t)

	report, err := s.Run(ctx, seed.Options{WithTestUser: true, SampleBorrow: true})
	require.NoError(t, err)
	assert.True(t, report.UserMade)
	assert.Equal(t, seed.Catalog[0].Title, report.Borrowed)

	u, err := svc.Members.Authenticate(ctx, seed.TestUserEmail, seed.TestUserPassword)
	require.NoError(t, err)
	assert.Equal(t, seed.TestUserName, u.Name)
	assert.Len(t, u.BorrowedBooks, 1)

	report, err = s.Run(ctx, seed.Options{WithTestUser: true, SampleBorrow: true})
	require.NoError(t, err)
	assert.False(t, report.UserMade)

	audit, err := svc.Circulation.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, audit.Healthy)
	assert.Equal(t, 1, audit.ActiveBorrows)
}

func TestResetKeepsBooksOnLoan(t *testing.T) {
	ctx := context.Background()
	s, svc := newSeeder(t)

	_, err := s.Run(ctx, seed.Options{SampleBorrow: true})
	require.NoError(t, err)

	report, err := s.Run(ctx, seed.Options{Reset: true})
	require.NoError(t, err)
	assert.Equal(t, len(seed.Catalog)-1, report.Retired)
	assert.Equal(t, len(seed.Catalog)-1, report.Added)
	assert.Equal(t, 1, report.Skipped)

	books, err := svc.Catalog.ListBooks(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Len(t, books, len(seed.Catalog))
}
