package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drivehub/ugc/internal/errs"
	"github.com/drivehub/ugc/internal/telemetry"
)

// Storer is the persistence contract the service depends on.
type Storer interface {
	Create(ctx context.Context, in CreateInput, authorID uuid.UUID) (Review, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Review, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateInput) (Review, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Moderate(ctx context.Context, id uuid.UUID, status ModerationStatus) (Review, error)
	List(ctx context.Context, filter *Filter, limit, offset int) ([]Review, int, error)
	ListAfterCursor(ctx context.Context, filter *Filter, cursorTime time.Time, cursorID uuid.UUID, limit int) ([]Review, error)
	GetOfferRating(ctx context.Context, offerID uuid.UUID) (*OfferRating, error)
	UpsertOfferRating(ctx context.Context, offerID uuid.UUID) (OfferRating, error)
	GetManyByIDs(ctx context.Context, ids []uuid.UUID) ([]*Review, error)
	GetRatingsByOfferIDs(ctx context.Context, offerIDs []uuid.UUID) ([]*OfferRating, error)
	GetReviewsByOfferIDs(ctx context.Context, offerIDs []uuid.UUID) ([][]Review, error)
	GetReviewsByAuthorIDs(ctx context.Context, authorIDs []uuid.UUID) ([][]Review, error)
	CountByStatus(ctx context.Context) (map[ModerationStatus]int, error)
}

// Store provides PostgreSQL persistence for reviews and rating aggregates.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a review Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// reviewColumns is the shared column list for review queries.
const reviewColumns = `id, offer_id, author_id, rating, text, created_at, updated_at, is_moderated, moderation_status`

func scanReview(row pgx.Row) (Review, error) {
	var r Review
	var status string
	err := row.Scan(
		&r.ID, &r.OfferID, &r.AuthorID, &r.Rating, &r.Text,
		&r.CreatedAt, &r.UpdatedAt, &r.IsModerated, &status,
	)
	if err != nil {
		return Review{}, err
	}
	r.Status = ModerationStatus(status)
	return r, nil
}

func scanReviews(rows pgx.Rows) ([]Review, error) {
	defer rows.Close()
	var items []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning review row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating review rows: %w", err)
	}
	return items, nil
}

// observe records query telemetry and classifies database failures.
func (s *Store) observe(operation string, start time.Time, err error) error {
	telemetry.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	telemetry.DBErrorsTotal.WithLabelValues(operation).Inc()
	return errs.Database(fmt.Errorf("%s: %w", operation, err))
}

// Create persists a new review with status pending.
func (s *Store) Create(ctx context.Context, in CreateInput, authorID uuid.UUID) (Review, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO reviews (offer_id, author_id, rating, text, created_at, updated_at, is_moderated, moderation_status)
		VALUES ($1, $2, $3, $4, now(), now(), false, 'pending')
		RETURNING `+reviewColumns,
		in.OfferID, authorID, in.Rating, strings.TrimSpace(in.Text),
	)
	r, err := scanReview(row)
	if err := s.observe("create_review", start, err); err != nil {
		return Review{}, err
	}
	return r, nil
}

// GetByID returns the review or nil when absent.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Review, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id)
	r, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = s.observe("get_review_by_id", start, nil)
		return nil, nil
	}
	if err := s.observe("get_review_by_id", start, err); err != nil {
		return nil, err
	}
	return &r, nil
}

// Update applies the non-nil fields of the patch and bumps updated_at.
// Fails NotFound when the review is absent.
func (s *Store) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (Review, error) {
	start := time.Now()
	var text *string
	if in.Text != nil {
		trimmed := strings.TrimSpace(*in.Text)
		text = &trimmed
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE reviews
		SET rating = COALESCE($2, rating),
		    text = COALESCE($3, text),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+reviewColumns,
		id, in.Rating, text,
	)
	r, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = s.observe("update_review", start, nil)
		return Review{}, errs.NotFound(id)
	}
	if err := s.observe("update_review", start, err); err != nil {
		return Review{}, err
	}
	return r, nil
}

// Delete removes the review. Fails NotFound when absent.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err := s.observe("delete_review", start, err); err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound(id)
	}
	return nil
}

// Moderate sets the moderation status. Approval also sets the append-only
// is_moderated bit; other transitions preserve it.
func (s *Store) Moderate(ctx context.Context, id uuid.UUID, status ModerationStatus) (Review, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE reviews
		SET moderation_status = $2,
		    is_moderated = CASE WHEN $2 = 'approved' THEN true ELSE is_moderated END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+reviewColumns,
		id, string(status),
	)
	r, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = s.observe("moderate_review", start, nil)
		return Review{}, errs.NotFound(id)
	}
	if err := s.observe("moderate_review", start, err); err != nil {
		return Review{}, err
	}
	return r, nil
}

// buildFilter appends WHERE predicates for the filter, returning the SQL
// fragment and the bind arguments starting at $<argOffset+1>.
func buildFilter(filter *Filter, argOffset int) (string, []any) {
	if filter == nil {
		return "", nil
	}
	var sb strings.Builder
	var args []any
	bind := func() string {
		return fmt.Sprintf("$%d", argOffset+len(args))
	}
	if filter.OfferID != nil {
		args = append(args, *filter.OfferID)
		sb.WriteString(" AND offer_id = " + bind())
	}
	if filter.AuthorID != nil {
		args = append(args, *filter.AuthorID)
		sb.WriteString(" AND author_id = " + bind())
	}
	if filter.MinRating != nil {
		args = append(args, *filter.MinRating)
		sb.WriteString(" AND rating >= " + bind())
	}
	if filter.MaxRating != nil {
		args = append(args, *filter.MaxRating)
		sb.WriteString(" AND rating <= " + bind())
	}
	if filter.ModeratedOnly != nil && *filter.ModeratedOnly {
		sb.WriteString(" AND is_moderated = true")
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		sb.WriteString(" AND moderation_status = " + bind())
	}
	return sb.String(), args
}

// List returns a page of reviews in (created_at DESC, id DESC) order plus
// the total count for the filter.
func (s *Store) List(ctx context.Context, filter *Filter, limit, offset int) ([]Review, int, error) {
	start := time.Now()

	where, args := buildFilter(filter, 0)
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE 1=1` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, s.observe("list_reviews", start, err)
	}
	items, err := scanReviews(rows)
	if err := s.observe("list_reviews", start, err); err != nil {
		return nil, 0, err
	}

	countStart := time.Now()
	countWhere, countArgs := buildFilter(filter, 0)
	var total int
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reviews WHERE 1=1`+countWhere, countArgs...).Scan(&total)
	if err := s.observe("count_reviews", countStart, err); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// ListAfterCursor returns reviews strictly after the (cursorTime, cursorID)
// position using the tuple comparator, so pagination is stable under
// concurrent inserts.
func (s *Store) ListAfterCursor(ctx context.Context, filter *Filter, cursorTime time.Time, cursorID uuid.UUID, limit int) ([]Review, error) {
	start := time.Now()

	where, args := buildFilter(filter, 2)
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE (created_at, id) < ($1, $2)` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)+3)
	all := append([]any{cursorTime, cursorID}, args...)
	all = append(all, limit)

	rows, err := s.pool.Query(ctx, query, all...)
	if err != nil {
		return nil, s.observe("list_reviews_after_cursor", start, err)
	}
	items, err := scanReviews(rows)
	if err := s.observe("list_reviews_after_cursor", start, err); err != nil {
		return nil, err
	}
	return items, nil
}

func scanOfferRating(row pgx.Row) (OfferRating, error) {
	var r OfferRating
	var dist []byte
	err := row.Scan(&r.OfferID, &r.AverageRating, &r.ReviewsCount, &dist, &r.UpdatedAt)
	if err != nil {
		return OfferRating{}, err
	}
	if err := json.Unmarshal(dist, &r.Distribution); err != nil {
		return OfferRating{}, fmt.Errorf("decoding rating distribution: %w", err)
	}
	return r, nil
}

const ratingColumns = `offer_id, average_rating::float8, reviews_count, rating_distribution, updated_at`

// GetOfferRating returns the aggregate or nil when no aggregate exists yet.
func (s *Store) GetOfferRating(ctx context.Context, offerID uuid.UUID) (*OfferRating, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+ratingColumns+` FROM offer_ratings WHERE offer_id = $1`, offerID)
	r, err := scanOfferRating(row)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = s.observe("get_offer_rating", start, nil)
		return nil, nil
	}
	if err := s.observe("get_offer_rating", start, err); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertOfferRating recomputes the aggregate from approved reviews and
// upserts it in one transaction. Concurrent writers racing to recompute the
// same offer serialise on the upserted row; the final state reflects the
// snapshot at commit time.
func (s *Store) UpsertOfferRating(ctx context.Context, offerID uuid.UUID) (OfferRating, error) {
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return OfferRating{}, s.observe("upsert_offer_rating", start, err)
	}
	defer tx.Rollback(ctx)

	var count int
	var average float64
	dist := map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0}
	var r1, r2, r3, r4, r5 int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(ROUND(AVG(rating)::numeric, 1), 0)::float8,
		       COUNT(*) FILTER (WHERE rating = 1),
		       COUNT(*) FILTER (WHERE rating = 2),
		       COUNT(*) FILTER (WHERE rating = 3),
		       COUNT(*) FILTER (WHERE rating = 4),
		       COUNT(*) FILTER (WHERE rating = 5)
		FROM reviews
		WHERE offer_id = $1 AND is_moderated = true AND moderation_status = 'approved'`,
		offerID,
	).Scan(&count, &average, &r1, &r2, &r3, &r4, &r5)
	if err != nil {
		return OfferRating{}, s.observe("upsert_offer_rating", start, err)
	}
	dist["1"], dist["2"], dist["3"], dist["4"], dist["5"] = r1, r2, r3, r4, r5

	distJSON, err := json.Marshal(dist)
	if err != nil {
		return OfferRating{}, s.observe("upsert_offer_rating", start, err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO offer_ratings (offer_id, average_rating, reviews_count, rating_distribution, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (offer_id)
		DO UPDATE SET
			average_rating = EXCLUDED.average_rating,
			reviews_count = EXCLUDED.reviews_count,
			rating_distribution = EXCLUDED.rating_distribution,
			updated_at = now()
		RETURNING `+ratingColumns,
		offerID, average, count, distJSON,
	)
	rating, err := scanOfferRating(row)
	if err != nil {
		return OfferRating{}, s.observe("upsert_offer_rating", start, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return OfferRating{}, s.observe("upsert_offer_rating", start, err)
	}
	_ = s.observe("upsert_offer_rating", start, nil)
	return rating, nil
}

func idsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// GetManyByIDs returns reviews aligned to the input order; missing ids yield
// nil entries.
func (s *Store) GetManyByIDs(ctx context.Context, ids []uuid.UUID) ([]*Review, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()

	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE id = ANY($1::uuid[])`,
		idsToStrings(ids),
	)
	if err != nil {
		return nil, s.observe("get_reviews_by_ids", start, err)
	}
	items, err := scanReviews(rows)
	if err := s.observe("get_reviews_by_ids", start, err); err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]Review, len(items))
	for _, r := range items {
		byID[r.ID] = r
	}
	out := make([]*Review, len(ids))
	for i, id := range ids {
		if r, ok := byID[id]; ok {
			c := r
			out[i] = &c
		}
	}
	return out, nil
}

// GetRatingsByOfferIDs returns rating aggregates aligned to the input order.
func (s *Store) GetRatingsByOfferIDs(ctx context.Context, offerIDs []uuid.UUID) ([]*OfferRating, error) {
	if len(offerIDs) == 0 {
		return nil, nil
	}
	start := time.Now()

	rows, err := s.pool.Query(ctx,
		`SELECT `+ratingColumns+` FROM offer_ratings WHERE offer_id = ANY($1::uuid[])`,
		idsToStrings(offerIDs),
	)
	if err != nil {
		return nil, s.observe("get_offer_ratings_by_ids", start, err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]OfferRating, len(offerIDs))
	for rows.Next() {
		r, err := scanOfferRating(rows)
		if err != nil {
			return nil, s.observe("get_offer_ratings_by_ids", start, err)
		}
		byID[r.OfferID] = r
	}
	if err := s.observe("get_offer_ratings_by_ids", start, rows.Err()); err != nil {
		return nil, err
	}

	out := make([]*OfferRating, len(offerIDs))
	for i, id := range offerIDs {
		if r, ok := byID[id]; ok {
			c := r
			out[i] = &c
		}
	}
	return out, nil
}

// GetReviewsByOfferIDs returns moderated reviews grouped per offer, aligned
// to the input order.
func (s *Store) GetReviewsByOfferIDs(ctx context.Context, offerIDs []uuid.UUID) ([][]Review, error) {
	return s.groupedReviews(ctx, "get_reviews_by_offer_ids", "offer_id", offerIDs)
}

// GetReviewsByAuthorIDs returns moderated reviews grouped per author,
// aligned to the input order.
func (s *Store) GetReviewsByAuthorIDs(ctx context.Context, authorIDs []uuid.UUID) ([][]Review, error) {
	return s.groupedReviews(ctx, "get_reviews_by_author_ids", "author_id", authorIDs)
}

func (s *Store) groupedReviews(ctx context.Context, operation, column string, ids []uuid.UUID) ([][]Review, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()

	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE `+column+` = ANY($1::uuid[]) AND is_moderated = true ORDER BY created_at DESC`,
		idsToStrings(ids),
	)
	if err != nil {
		return nil, s.observe(operation, start, err)
	}
	items, err := scanReviews(rows)
	if err := s.observe(operation, start, err); err != nil {
		return nil, err
	}

	grouped := make(map[uuid.UUID][]Review)
	for _, r := range items {
		key := r.OfferID
		if column == "author_id" {
			key = r.AuthorID
		}
		grouped[key] = append(grouped[key], r)
	}
	out := make([][]Review, len(ids))
	for i, id := range ids {
		out[i] = grouped[id]
	}
	return out, nil
}

// CountByStatus returns review counts grouped by moderation status. Used by
// the business-metric refresh loop.
func (s *Store) CountByStatus(ctx context.Context) (map[ModerationStatus]int, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT moderation_status, COUNT(*) FROM reviews GROUP BY moderation_status`)
	if err != nil {
		return nil, s.observe("count_by_status", start, err)
	}
	defer rows.Close()

	out := make(map[ModerationStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, s.observe("count_by_status", start, err)
		}
		out[ModerationStatus(status)] = count
	}
	if err := s.observe("count_by_status", start, rows.Err()); err != nil {
		return nil, err
	}
	return out, nil
}
