package sqlstore

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"librarydesk/internal/review"
)

func (s *Store) CreateReview(ctx context.Context, r *review.Review) error {
	_, err := s.exec(ctx, s.db, s.insert("reviews").Rows(goqu.Record{
		"id":            r.ID,
		"book_id":       r.BookID,
		"user_id":       r.UserID,
		"rating":        r.Rating,
		"comment":       r.Comment,
		"reviewer_name": r.ReviewerName,
		"created_at":    r.CreatedAt,
	}))
	if err != nil {
		return mapError("insert review", err)
	}
	return nil
}

// ListReviews returns a book's reviews newest first.
func (s *Store) ListReviews(ctx context.Context, bookID uuid.UUID) ([]*review.Review, error) {
	reviews := []*review.Review{}
	ds := s.from("reviews").
		Select("id", "book_id", "user_id", "rating", "comment", "reviewer_name", "created_at").
		Where(goqu.C("book_id").Eq(bookID)).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc())
	if err := s.selectAll(ctx, s.db, &reviews, ds); err != nil {
		return nil, mapError("select reviews", err)
	}
	return reviews, nil
}
