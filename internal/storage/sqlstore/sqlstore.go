// Package sqlstore keeps the library in PostgreSQL or SQLite. Queries are
// built with goqu for the configured dialect and run through sqlx. Every
// ledger change runs in one database transaction; PostgreSQL transactions are
// serializable and lock the book row, SQLite ones take the write lock up
// front. A transaction the database aborts is reported as a conflict and is
// not retried here.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/membership"
	"librarydesk/internal/review"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DefaultTxTimeout bounds a single transaction.
const DefaultTxTimeout = 5 * time.Second

// errTxAborted marks transactions the database rolled back because of a
// concurrent writer.
var errTxAborted = fmt.Errorf("%w: transaction aborted by a concurrent update", apperr.ErrConflict)

var (
	_ catalog.Store     = (*Store)(nil)
	_ membership.Store  = (*Store)(nil)
	_ circulation.Store = (*Store)(nil)
	_ review.Store      = (*Store)(nil)
)

// Store implements every store interface on top of a SQL database.
type Store struct {
	db      *sqlx.DB
	driver  string
	dsn     string
	sq      goqu.DialectWrapper
	tracer  trace.Tracer
	journal *journal

	txTimeout    time.Duration
	maxOpenConns int
}

// Option configures a Store.
type Option func(*Store)

// WithTxTimeout bounds every transaction. Zero disables the bound.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) { s.txTimeout = d }
}

// WithMaxOpenConns caps the connection pool. SQLite ignores it, and so does
// Open for n <= 0.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}

// Open connects to the database. Migrations are not applied; call MigrateUp.
// A SQLite DSN gets immediate write transactions, a 5s busy timeout and
// foreign keys unless it sets them itself.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	const op = "sqlstore.Open"

	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("%s: unsupported driver %q", op, driver)
	}

	if driver == DriverSQLite {
		dsn = SQLiteDSN(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Store{
		db:           db,
		driver:       driver,
		dsn:          dsn,
		sq:           goqu.Dialect(driver),
		tracer:       otel.Tracer("librarydesk/sqlstore"),
		txTimeout:    DefaultTxTimeout,
		maxOpenConns: 25,
	}
	for _, opt := range opts {
		opt(s)
	}

	if driver == DriverSQLite {
		// one writer at a time; readers share the file
		db.SetMaxOpenConns(4)
	} else {
		db.SetMaxOpenConns(s.maxOpenConns)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	s.journal = newJournal(s)
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the database/sql driver name the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) from(table any) *goqu.SelectDataset {
	return s.sq.From(table).Prepared(true)
}

func (s *Store) insert(table string) *goqu.InsertDataset {
	return s.sq.Insert(table).Prepared(true)
}

func (s *Store) update(table string) *goqu.UpdateDataset {
	return s.sq.Update(table).Prepared(true)
}

func (s *Store) delete(table string) *goqu.DeleteDataset {
	return s.sq.Delete(table).Prepared(true)
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func (s *Store) get(ctx context.Context, q sqlx.QueryerContext, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func (s *Store) selectAll(ctx context.Context, q sqlx.QueryerContext, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

func (s *Store) exec(ctx context.Context, e sqlx.ExecerContext, b sqlBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return e.ExecContext(ctx, query, args...)
}

// forUpdate locks the selected rows until the transaction ends. SQLite
// already holds the database write lock.
func (s *Store) forUpdate(ds *goqu.SelectDataset) *goqu.SelectDataset {
	if s.driver == DriverPostgres {
		return ds.ForUpdate(exp.Wait)
	}
	return ds
}

func (s *Store) txOptions() *sql.TxOptions {
	if s.driver == DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

// withTx runs fn in one transaction bounded by the store's transaction
// timeout. Aborted transactions surface as apperr.ErrConflict for the caller
// to retry.
func (s *Store) withTx(ctx context.Context, name string, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "sqlstore."+name)
	defer span.End()

	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	err := s.tryTx(ctx, fn)
	if errors.Is(err, errTxAborted) {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
	}
	return err
}

func (s *Store) tryTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, s.txOptions())
	if err != nil {
		return mapError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError("commit transaction", err)
	}
	return nil
}

// mapError translates driver errors into the apperr taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %s", op, apperr.ErrConflict, err.Error())
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%s: %w", op, errTxAborted)
		case "23505":
			return fmt.Errorf("%s: %w: %s", op, apperr.ErrDuplicate, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%s: %w: %s", op, apperr.ErrNotFound, pqErr.Constraint)
		case "23514":
			return fmt.Errorf("%s: %w: %s", op, apperr.ErrInvariant, pqErr.Constraint)
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.Code == sqlite3.ErrBusy, liteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w", op, errTxAborted)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w: %s", op, apperr.ErrDuplicate, liteErr.Error())
		case liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w: %s", op, apperr.ErrNotFound, liteErr.Error())
		case liteErr.ExtendedCode == sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%s: %w: %s", op, apperr.ErrInvariant, liteErr.Error())
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
