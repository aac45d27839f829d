package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/drivehub/ugc/internal/auth"
	"github.com/drivehub/ugc/internal/cache"
	"github.com/drivehub/ugc/internal/errs"
	"github.com/drivehub/ugc/internal/telemetry"
)

// Service orchestrates the review domain: persistence, aggregate
// recomputation, cache and loader invalidation, and business events.
// Post-persist steps are best-effort; their failures are logged, never
// surfaced.
type Service struct {
	store  Storer
	cache  *cache.Keyed // may be nil
	events *telemetry.Events
	logger *slog.Logger
}

// NewService creates a review Service. The cache is optional.
func NewService(store Storer, keyed *cache.Keyed, events *telemetry.Events, logger *slog.Logger) *Service {
	return &Service{store: store, cache: keyed, events: events, logger: logger}
}

// clampLimit bounds page sizes to [1, 100].
func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 100 {
		return 100
	}
	return limit
}

// Create validates and persists a new review, then recomputes the offer's
// aggregate, populates the review cache, and invalidates offer-scoped state.
func (s *Service) Create(ctx context.Context, in CreateInput, author uuid.UUID) (Review, error) {
	if err := in.Validate(); err != nil {
		return Review{}, errs.Validation(err.Error())
	}

	r, err := s.store.Create(ctx, in, author)
	if err != nil {
		return Review{}, fmt.Errorf("creating review: %w", err)
	}

	s.recomputeRating(ctx, r.OfferID)

	if s.cache != nil {
		s.cache.Set(cache.ReviewKey(r.ID), r, cache.ReviewTTL)
		s.cache.InvalidateOffer(r.OfferID)
	}
	if l := LoadersFromContext(ctx); l != nil {
		l.InvalidateReview(ctx, r)
	}

	s.events.ReviewCreated(r.ID, r.OfferID, r.AuthorID, r.Rating)
	return r, nil
}

// Get returns the review by id, consulting the cache, then the per-request
// loader, then the store. Store hits populate the cache.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Review, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(cache.ReviewKey(id)); ok {
			r := v.(Review)
			return &r, nil
		}
	}

	if l := LoadersFromContext(ctx); l != nil {
		r, err := l.ReviewByID.Load(ctx, id)()
		if err == nil {
			if r != nil && s.cache != nil {
				s.cache.Set(cache.ReviewKey(r.ID), *r, cache.ReviewTTL)
			}
			return r, nil
		}
		s.logger.Warn("loader lookup failed, falling back to store", "review_id", id, "error", err)
	}

	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting review: %w", err)
	}
	if r != nil && s.cache != nil {
		s.cache.Set(cache.ReviewKey(r.ID), *r, cache.ReviewTTL)
	}
	return r, nil
}

// Update applies a patch to a review. The ownership-or-admin guard decides
// who may: the failure projects as Unauthorized per the REST contract.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput, actor uuid.UUID) (Review, error) {
	if err := in.Validate(); err != nil {
		return Review{}, errs.Validation(err.Error())
	}

	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Review{}, fmt.Errorf("loading review for update: %w", err)
	}
	if existing == nil {
		return Review{}, errs.NotFound(id)
	}
	if err := auth.RequireOwnershipOrAdmin(ctx, existing.AuthorID); err != nil {
		s.logger.Warn("unauthorized review update attempt", "review_id", id, "actor_id", actor)
		return Review{}, errs.Unauthorized(actor, id)
	}
	oldRating := existing.Rating

	r, err := s.store.Update(ctx, id, in)
	if err != nil {
		return Review{}, fmt.Errorf("updating review: %w", err)
	}

	s.recomputeRating(ctx, r.OfferID)
	s.invalidate(ctx, r)
	s.events.ReviewUpdated(r.ID, r.AuthorID, oldRating, r.Rating)

	return r, nil
}

// Delete removes a review under the same ownership-or-admin guard as Update
// and recomputes the offer aggregate.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor uuid.UUID) error {
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("loading review for delete: %w", err)
	}
	if existing == nil {
		return errs.NotFound(id)
	}
	if err := auth.RequireOwnershipOrAdmin(ctx, existing.AuthorID); err != nil {
		s.logger.Warn("unauthorized review deletion attempt", "review_id", id, "actor_id", actor)
		return errs.Unauthorized(actor, id)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting review: %w", err)
	}

	s.recomputeRating(ctx, existing.OfferID)
	s.invalidate(ctx, *existing)
	s.events.ReviewDeleted(id, actor)

	return nil
}

// Moderate sets the review's moderation status. Role gating happens at the
// boundary. The offer aggregate is recomputed when the status crosses into
// or out of approved.
func (s *Service) Moderate(ctx context.Context, id uuid.UUID, status ModerationStatus, moderator uuid.UUID) (Review, error) {
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Review{}, fmt.Errorf("loading review for moderation: %w", err)
	}
	if existing == nil {
		return Review{}, errs.NotFound(id)
	}
	wasApproved := existing.Status == StatusApproved

	r, err := s.store.Moderate(ctx, id, status)
	if err != nil {
		return Review{}, fmt.Errorf("moderating review: %w", err)
	}

	if wasApproved != (status == StatusApproved) {
		s.recomputeRating(ctx, r.OfferID)
	}
	s.invalidate(ctx, r)
	s.events.ReviewModerated(r.ID, moderator, string(status))

	return r, nil
}

// BulkModerate applies one status to many reviews, returning those that were
// updated. Missing ids are skipped.
func (s *Service) BulkModerate(ctx context.Context, ids []uuid.UUID, status ModerationStatus, moderator uuid.UUID) ([]Review, error) {
	out := make([]Review, 0, len(ids))
	for _, id := range ids {
		r, err := s.Moderate(ctx, id, status, moderator)
		if err != nil {
			if e, ok := errs.As(err); ok && e.Kind == errs.KindNotFound {
				s.logger.Info("skipping missing review in bulk moderation", "review_id", id)
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// List returns a page of reviews plus the total count. Limit is clamped.
func (s *Service) List(ctx context.Context, filter *Filter, limit, offset int) ([]Review, int, error) {
	return s.store.List(ctx, filter, clampLimit(limit), offset)
}

// ListAfterCursor returns reviews after the cursor position. Limit is
// clamped.
func (s *Service) ListAfterCursor(ctx context.Context, filter *Filter, cursorTime time.Time, cursorID uuid.UUID, limit int) ([]Review, error) {
	return s.store.ListAfterCursor(ctx, filter, cursorTime, cursorID, clampLimit(limit))
}

// GetOfferRating returns the aggregate, consulting cache then loader then
// store.
func (s *Service) GetOfferRating(ctx context.Context, offerID uuid.UUID) (*OfferRating, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(cache.OfferRatingKey(offerID)); ok {
			r := v.(OfferRating)
			return &r, nil
		}
	}

	if l := LoadersFromContext(ctx); l != nil {
		r, err := l.RatingByOffer.Load(ctx, offerID)()
		if err == nil {
			if r != nil && s.cache != nil {
				s.cache.Set(cache.OfferRatingKey(offerID), *r, cache.OfferRatingTTL)
			}
			return r, nil
		}
		s.logger.Warn("rating loader failed, falling back to store", "offer_id", offerID, "error", err)
	}

	r, err := s.store.GetOfferRating(ctx, offerID)
	if err != nil {
		return nil, fmt.Errorf("getting offer rating: %w", err)
	}
	if r != nil && s.cache != nil {
		s.cache.Set(cache.OfferRatingKey(offerID), *r, cache.OfferRatingTTL)
	}
	return r, nil
}

// RefreshOfferRating recomputes the aggregate on demand. Admin-gated at the
// boundary.
func (s *Service) RefreshOfferRating(ctx context.Context, offerID uuid.UUID) (OfferRating, error) {
	rating, err := s.store.UpsertOfferRating(ctx, offerID)
	if err != nil {
		return OfferRating{}, fmt.Errorf("refreshing offer rating: %w", err)
	}
	if s.cache != nil {
		s.cache.InvalidateOffer(offerID)
	}
	if l := LoadersFromContext(ctx); l != nil {
		l.InvalidateOffer(ctx, offerID)
	}
	return rating, nil
}

// GetReviewsForOffer returns the offer's moderated reviews, via the loader
// when present, else the store (hard cap 100).
func (s *Service) GetReviewsForOffer(ctx context.Context, offerID uuid.UUID) ([]Review, error) {
	if l := LoadersFromContext(ctx); l != nil {
		reviews, err := l.ReviewsByOffer.Load(ctx, offerID)()
		if err == nil {
			return reviews, nil
		}
		s.logger.Warn("offer reviews loader failed, falling back to store", "offer_id", offerID, "error", err)
	}

	moderated := true
	reviews, _, err := s.store.List(ctx, &Filter{OfferID: &offerID, ModeratedOnly: &moderated}, 100, 0)
	return reviews, err
}

// GetReviewsForAuthor returns the author's moderated reviews, via the loader
// when present, else the store (hard cap 100).
func (s *Service) GetReviewsForAuthor(ctx context.Context, authorID uuid.UUID) ([]Review, error) {
	if l := LoadersFromContext(ctx); l != nil {
		reviews, err := l.ReviewsByAuthor.Load(ctx, authorID)()
		if err == nil {
			return reviews, nil
		}
		s.logger.Warn("author reviews loader failed, falling back to store", "author_id", authorID, "error", err)
	}

	moderated := true
	reviews, _, err := s.store.List(ctx, &Filter{AuthorID: &authorID, ModeratedOnly: &moderated}, 100, 0)
	return reviews, err
}

// GetManyByIDs batch-loads reviews aligned to the input order.
func (s *Service) GetManyByIDs(ctx context.Context, ids []uuid.UUID) ([]*Review, error) {
	if l := LoadersFromContext(ctx); l != nil {
		thunk := l.ReviewByID.LoadMany(ctx, ids)
		values, errors := thunk()
		for _, err := range errors {
			if err != nil {
				return nil, err
			}
		}
		return values, nil
	}
	return s.store.GetManyByIDs(ctx, ids)
}

// GetRatingsByIDs batch-loads rating aggregates aligned to the input order.
func (s *Service) GetRatingsByIDs(ctx context.Context, offerIDs []uuid.UUID) ([]*OfferRating, error) {
	if l := LoadersFromContext(ctx); l != nil {
		thunk := l.RatingByOffer.LoadMany(ctx, offerIDs)
		values, errors := thunk()
		for _, err := range errors {
			if err != nil {
				return nil, err
			}
		}
		return values, nil
	}
	return s.store.GetRatingsByOfferIDs(ctx, offerIDs)
}

// CountByStatus exposes review totals for the business-metric refresh loop.
func (s *Service) CountByStatus(ctx context.Context) (map[ModerationStatus]int, error) {
	return s.store.CountByStatus(ctx)
}

// recomputeRating is the best-effort post-write aggregate refresh.
func (s *Service) recomputeRating(ctx context.Context, offerID uuid.UUID) {
	if _, err := s.store.UpsertOfferRating(ctx, offerID); err != nil {
		s.logger.Warn("failed to update offer rating", "offer_id", offerID, "error", err)
	}
}

// invalidate drops cache and loader state derived from the review.
func (s *Service) invalidate(ctx context.Context, r Review) {
	if s.cache != nil {
		s.cache.InvalidateReview(r.ID, r.OfferID)
	}
	if l := LoadersFromContext(ctx); l != nil {
		l.InvalidateReview(ctx, r)
	}
}

// RunBusinessMetricsLoop refreshes review-by-status gauges periodically
// until ctx is cancelled.
func (s *Service) RunBusinessMetricsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := s.CountByStatus(ctx)
			if err != nil {
				s.logger.Warn("business metric refresh failed", "error", err)
				continue
			}
			for _, status := range []ModerationStatus{StatusPending, StatusApproved, StatusRejected, StatusFlagged} {
				telemetry.ReviewsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
			}
		}
	}
}
