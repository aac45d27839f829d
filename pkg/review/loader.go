package review

import (
	"context"

	"github.com/google/uuid"
	dataloader "github.com/graph-gophers/dataloader/v7"
)

// Batch sizes: single-entity loaders batch wider than list-returning ones.
const (
	singleBatchSize = 50
	listBatchSize   = 20
)

// Loaders is the per-request bundle of batch loaders. Each loader coalesces
// the single-key lookups issued during one resolution step into one batched
// store call and memoises resolved keys for the request's lifetime. Loaders
// must not be shared across requests.
type Loaders struct {
	ReviewByID      *dataloader.Loader[uuid.UUID, *Review]
	RatingByOffer   *dataloader.Loader[uuid.UUID, *OfferRating]
	ReviewsByOffer  *dataloader.Loader[uuid.UUID, []Review]
	ReviewsByAuthor *dataloader.Loader[uuid.UUID, []Review]
}

// NewLoaders creates a loader bundle over the store's batch operations.
func NewLoaders(store Storer) *Loaders {
	return &Loaders{
		ReviewByID: dataloader.NewBatchedLoader(
			func(ctx context.Context, ids []uuid.UUID) []*dataloader.Result[*Review] {
				reviews, err := store.GetManyByIDs(ctx, ids)
				return alignResults(ids, reviews, err)
			},
			dataloader.WithBatchCapacity[uuid.UUID, *Review](singleBatchSize),
		),
		RatingByOffer: dataloader.NewBatchedLoader(
			func(ctx context.Context, ids []uuid.UUID) []*dataloader.Result[*OfferRating] {
				ratings, err := store.GetRatingsByOfferIDs(ctx, ids)
				return alignResults(ids, ratings, err)
			},
			dataloader.WithBatchCapacity[uuid.UUID, *OfferRating](singleBatchSize),
		),
		ReviewsByOffer: dataloader.NewBatchedLoader(
			func(ctx context.Context, ids []uuid.UUID) []*dataloader.Result[[]Review] {
				groups, err := store.GetReviewsByOfferIDs(ctx, ids)
				return alignResults(ids, groups, err)
			},
			dataloader.WithBatchCapacity[uuid.UUID, []Review](listBatchSize),
		),
		ReviewsByAuthor: dataloader.NewBatchedLoader(
			func(ctx context.Context, ids []uuid.UUID) []*dataloader.Result[[]Review] {
				groups, err := store.GetReviewsByAuthorIDs(ctx, ids)
				return alignResults(ids, groups, err)
			},
			dataloader.WithBatchCapacity[uuid.UUID, []Review](listBatchSize),
		),
	}
}

// alignResults spreads a batch outcome over per-key results. The store
// returns values aligned to the input order; a batch-level error fails every
// key in the batch.
func alignResults[V any](ids []uuid.UUID, values []V, err error) []*dataloader.Result[V] {
	results := make([]*dataloader.Result[V], len(ids))
	for i := range ids {
		if err != nil {
			results[i] = &dataloader.Result[V]{Error: err}
			continue
		}
		results[i] = &dataloader.Result[V]{Data: values[i]}
	}
	return results
}

// InvalidateReview drops every loader entry derived from the review.
func (l *Loaders) InvalidateReview(ctx context.Context, r Review) {
	l.ReviewByID.Clear(ctx, r.ID)
	l.InvalidateOffer(ctx, r.OfferID)
	l.InvalidateAuthor(ctx, r.AuthorID)
}

// InvalidateOffer drops offer-scoped loader entries.
func (l *Loaders) InvalidateOffer(ctx context.Context, offerID uuid.UUID) {
	l.RatingByOffer.Clear(ctx, offerID)
	l.ReviewsByOffer.Clear(ctx, offerID)
}

// InvalidateAuthor drops author-scoped loader entries.
func (l *Loaders) InvalidateAuthor(ctx context.Context, authorID uuid.UUID) {
	l.ReviewsByAuthor.Clear(ctx, authorID)
}

// ClearAll drops every memoised entry. Intended for tests.
func (l *Loaders) ClearAll() {
	l.ReviewByID.ClearAll()
	l.RatingByOffer.ClearAll()
	l.ReviewsByOffer.ClearAll()
	l.ReviewsByAuthor.ClearAll()
}

type loadersKey struct{}

// WithLoaders attaches a per-request loader bundle to the context.
func WithLoaders(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey{}, l)
}

// LoadersFromContext returns the request's loader bundle, or nil outside a
// GraphQL request.
func LoadersFromContext(ctx context.Context) *Loaders {
	if l, ok := ctx.Value(loadersKey{}).(*Loaders); ok {
		return l
	}
	return nil
}
