// Package app assembles the library service from configuration: it opens the
// store, builds the services and serves the HTTP API until the context ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"librarydesk/internal/auth"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/config"
	"librarydesk/internal/lib/sl"
	"librarydesk/internal/membership"
	"librarydesk/internal/review"
	"librarydesk/internal/storage/memstore"
	"librarydesk/internal/storage/sqlstore"
)

// Store is everything the services persist through.
type Store interface {
	catalog.Store
	membership.Store
	circulation.Store
	review.Store
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*memstore.Store)(nil)
	_ Store = (*sqlstore.Store)(nil)
)

// OpenStore opens the configured backend and, for SQL backends with
// migrate_on_start, brings the schema up to date.
func OpenStore(ctx context.Context, cfg config.Storage, log *slog.Logger) (Store, error) {
	const op = "app.OpenStore"

	if cfg.Driver == config.DriverMemory {
		log.Warn("using the in-memory store; data is lost on exit")
		return memstore.New(), nil
	}

	s, err := OpenSQL(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.MigrateOnStart {
		if err := s.MigrateUp(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		version, _, err := s.MigrationVersion()
		if err == nil {
			log.Info("schema up to date", slog.Uint64("version", uint64(version)))
		}
	}
	return s, nil
}

// OpenSQL opens a SQL backend without touching its schema.
func OpenSQL(ctx context.Context, cfg config.Storage) (*sqlstore.Store, error) {
	var driver string
	switch cfg.Driver {
	case config.DriverPostgres:
		driver = sqlstore.DriverPostgres
	case config.DriverSQLite:
		driver = sqlstore.DriverSQLite
	default:
		return nil, fmt.Errorf("driver %q has no SQL schema", cfg.Driver)
	}

	return sqlstore.Open(ctx, driver, cfg.DSN,
		sqlstore.WithTxTimeout(cfg.TxTimeout),
		sqlstore.WithMaxOpenConns(cfg.MaxOpenConns),
	)
}

// Services are the domain services behind the API.
type Services struct {
	Catalog     catalog.Service
	Members     membership.Service
	Circulation circulation.Service
	Reviews     *review.Service
	Tokens      auth.Maker
}

// NewServices wires the services to store.
func NewServices(store Store, cfg config.Auth, opts ...circulation.Option) *Services {
	books := catalog.NewService(store)
	members := membership.NewService(store,
		membership.WithAttemptLimit(cfg.AttemptInterval(), cfg.AttemptBurst),
	)
	return &Services{
		Catalog:     books,
		Members:     members,
		Circulation: circulation.NewService(store, members, opts...),
		Reviews:     review.NewService(store, books, members),
		Tokens:      auth.NewJWTMaker(cfg.JWTSecret, cfg.TokenTTL, cfg.Issuer),
	}
}

// App is the running HTTP service.
type App struct {
	server          *http.Server
	log             *slog.Logger
	store           Store
	shutdownTimeout time.Duration
}

// New opens the store and builds the HTTP server. The caller owns the
// returned App and must Run it to release the store.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := NewServices(store, cfg.Auth)
	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      NewRouter(log, svc, store, reg),
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	return &App{
		server:          srv,
		log:             log,
		store:           store,
		shutdownTimeout: cfg.HTTPServer.ShutdownTimeout,
	}, nil
}

// Run serves until ctx is done, then shuts the server down gracefully and
// closes the store.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.store.Close(); err != nil {
			a.log.Error("failed to close store", sl.Err(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server starting", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		a.log.Info("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	}
}
