package drill_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.opentelemetry.io/otel/metric/noop"

	"librarydesk/internal/app"
	"librarydesk/internal/circulation"
	"librarydesk/internal/client"
	"librarydesk/internal/config"
	"librarydesk/internal/drill"
	"librarydesk/internal/lib/sl"
	"librarydesk/internal/membership"
	"librarydesk/internal/storage/memstore"
)

func newTarget(t *testing.T, concurrency int) *drill.Target {
	return newTargetOn(t, memstore.New(), concurrency)
}

func newTargetOn(t *testing.T, store app.Store, concurrency int) *drill.Target {
	t.Helper()
	ctx := context.Background()
	svc := app.NewServices(store, config.Auth{
		JWTSecret:         "drill-secret",
		TokenTTL:          time.Hour,
		Issuer:            "librarydesk",
		AttemptsPerMinute: 600,
		AttemptBurst:      100,
	}, circulation.WithMeterProvider(noop.NewMeterProvider()))

	srv := httptest.NewServer(app.NewRouter(sl.Discard(), svc, store, prometheus.NewRegistry()))
	t.Cleanup(srv.Close)

	_, err := svc.Members.Register(ctx, membership.Registration{
		Name: "Drill Admin", Email: "admin@example.com", Password: "password123", Role: membership.RoleAdmin,
	})
	require.NoError(t, err)

	target, err := drill.Connect(ctx, client.New(srv.URL), "admin@example.com", "password123", concurrency)
	require.NoError(t, err)
	return target
}

func newEngine() *drill.Engine {
	return drill.NewEngine(sl.Discard(), drill.WithObservation(30*time.Millisecond, 10*time.Millisecond))
}

func TestExperimentsHoldAgainstServer(t *testing.T) {
	target := newTarget(t, 8)
	engine := newEngine()
	target.Register(engine)
	require.Len(t, engine.Experiments(), 3)

	var out bytes.Buffer
	results, err := engine.RunAll(context.Background(), &out)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, res := range results {
		assert.True(t, res.SteadyStateValid, res.Experiment)
		assert.True(t, res.HypothesisHeld, "%s failed: %v errors: %v", res.Experiment, res.Failed, res.Errors)
		assert.Empty(t, res.Violations, res.Experiment)
	}
	assert.Contains(t, out.String(), "PASS hypothesis held")
	assert.Len(t, engine.Results(), 3)
}

func runAll(t *testing.T, target *drill.Target) {
	t.Helper()
	engine := newEngine()
	target.Register(engine)
	results, err := engine.RunAll(context.Background(), io.Discard)
	require.NoError(t, err)
	for _, res := range results {
		assert.True(t, res.HypothesisHeld, "%s failed: %v errors: %v", res.Experiment, res.Failed, res.Errors)
		assert.Empty(t, res.Violations, res.Experiment)
	}
}

func TestExperimentsAgainstSQLite(t *testing.T) {
	store, err := app.OpenStore(context.Background(), config.Storage{
		Driver:         config.DriverSQLite,
		DSN:            "file:" + filepath.Join(t.TempDir(), "drill.db") + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=1",
		TxTimeout:      5 * time.Second,
		MigrateOnStart: true,
	}, sl.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runAll(t, newTargetOn(t, store, 6))
}

func TestExperimentsAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres container skipped in short mode")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("library"),
		postgres.WithUsername("library"),
		postgres.WithPassword("library"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := app.OpenStore(ctx, config.Storage{
		Driver:         config.DriverPostgres,
		DSN:            dsn,
		TxTimeout:      5 * time.Second,
		MaxOpenConns:   25,
		MigrateOnStart: true,
	}, sl.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runAll(t, newTargetOn(t, store, 10))
}

func TestSingleCopyRaceCounts(t *testing.T) {
	target := newTarget(t, 6)
	res, err := newEngine().Run(context.Background(), target.SingleCopyRace())
	require.NoError(t, err)

	last := func(name string) float64 {
		obs := res.Observations[name]
		require.NotEmpty(t, obs, name)
		return obs[len(obs)-1].Value
	}
	assert.Equal(t, float64(1), last("successes"))
	assert.Equal(t, float64(0), last("available"))
	assert.Equal(t, float64(0), last("ledger_violations"))
}

func TestSteadyStateAbort(t *testing.T) {
	rolledBack := false
	exp := drill.Experiment{
		Name: "broken precondition",
		SteadyState: []drill.Probe{{
			Name:      "always failing",
			Query:     func(context.Context) (float64, error) { return 0, errors.New("down") },
			Threshold: drill.Threshold{Op: "==", Value: 1},
		}},
		Method:   []drill.Action{{Name: "never", Execute: func(context.Context) error { t.Fatal("method ran"); return nil }}},
		Rollback: []drill.Action{{Name: "never", Execute: func(context.Context) error { rolledBack = true; return nil }}},
	}

	res, err := newEngine().Run(context.Background(), exp)
	require.ErrorIs(t, err, drill.ErrSteadyState)
	assert.False(t, res.SteadyStateValid)
	assert.False(t, rolledBack)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, float64(-1), res.Violations[0].Actual)
}

func TestValidationFailureIsReported(t *testing.T) {
	value := 0.0
	exp := drill.Experiment{
		Name:     "counter",
		Measures: []drill.Probe{{Name: "value", Query: func(context.Context) (float64, error) { return value, nil }}},
		Method: []drill.Action{
			{Name: "bump", Execute: func(context.Context) error { value = 2; return nil }},
			{Name: "fail", Execute: func(context.Context) error { return errors.New("boom") }},
		},
		Validation: []drill.Assertion{
			{Probe: "value", Condition: func(v float64) bool { return v == 1 }, Message: "value is one"},
			{Probe: "missing", Condition: func(float64) bool { return true }, Message: "missing probe"},
		},
	}

	var out bytes.Buffer
	engine := newEngine()
	engine.Register(exp)
	results, err := engine.RunAll(context.Background(), &out)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.False(t, res.HypothesisHeld)
	assert.Equal(t, []string{"value is one", "missing probe (no observations)"}, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "fail", res.Errors[0].Source)
	assert.Contains(t, out.String(), "FAIL hypothesis violated")
}
