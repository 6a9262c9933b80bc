package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"librarydesk/internal/circulation"
)

// journal is the append-only log of borrow events. Entries are written in the
// ledger transaction that caused them and read back in id order.
type journal struct {
	s      *Store
	tracer trace.Tracer
}

func newJournal(s *Store) *journal {
	return &journal{s: s, tracer: otel.Tracer("librarydesk/journal")}
}

type eventRow struct {
	ID        int64     `db:"id"`
	BorrowID  uuid.UUID `db:"borrow_id"`
	Type      string    `db:"event_type"`
	Data      []byte    `db:"event_data"`
	CreatedAt time.Time `db:"created_at"`
}

func (j *journal) append(ctx context.Context, tx *sqlx.Tx, e *circulation.Event) error {
	ctx, span := j.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("borrow.id", e.BorrowID.String()),
			attribute.String("event.type", e.Type),
		),
	)
	defer span.End()

	ins := j.s.insert("borrow_events").Rows(goqu.Record{
		"borrow_id":  e.BorrowID,
		"event_type": e.Type,
		"event_data": string(e.Data),
		"created_at": e.CreatedAt,
	})

	var id int64
	if j.s.driver == DriverPostgres {
		query, args, err := ins.Returning("id").ToSQL()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		if err := tx.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return mapError("append event", err)
		}
	} else {
		res, err := j.s.exec(ctx, tx, ins)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return mapError("append event", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}

	e.ID = id
	span.AddEvent("event.appended", trace.WithAttributes(attribute.Int64("event.id", id)))
	return nil
}

func (j *journal) load(ctx context.Context, borrowID uuid.UUID) ([]circulation.Event, error) {
	ctx, span := j.tracer.Start(ctx, "journal.load",
		trace.WithAttributes(attribute.String("borrow.id", borrowID.String())),
	)
	defer span.End()

	var rows []eventRow
	ds := j.s.from("borrow_events").
		Select("id", "borrow_id", "event_type", "event_data", "created_at").
		Where(goqu.C("borrow_id").Eq(borrowID)).
		Order(goqu.C("id").Asc())
	if err := j.s.selectAll(ctx, j.s.db, &rows, ds); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, mapError("load events", err)
	}

	events := make([]circulation.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, circulation.Event{
			ID:        r.ID,
			BorrowID:  r.BorrowID,
			Type:      r.Type,
			Data:      r.Data,
			CreatedAt: r.CreatedAt,
		})
	}
	span.SetAttributes(attribute.Int("event.count", len(events)))
	return events, nil
}
