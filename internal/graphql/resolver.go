package graphql

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	graphql "github.com/graph-gophers/graphql-go"

	"github.com/drivehub/ugc/internal/auth"
	"github.com/drivehub/ugc/internal/errs"
	"github.com/drivehub/ugc/internal/extclient"
	"github.com/drivehub/ugc/internal/httpserver"
	"github.com/drivehub/ugc/pkg/review"
)

// Resolver is the root resolver for Query and Mutation.
type Resolver struct {
	reviews *review.Service
	ext     *extclient.Client
	logger  *slog.Logger
}

// NewResolver creates the root resolver.
func NewResolver(reviews *review.Service, ext *extclient.Client, logger *slog.Logger) *Resolver {
	return &Resolver{reviews: reviews, ext: ext, logger: logger}
}

// asGraphQLError surfaces the taxonomy error (with its extensions) instead
// of the wrapped chain.
func asGraphQLError(err error) error {
	if e, ok := errs.As(err); ok {
		return e
	}
	return err
}

func parseID(id graphql.ID, what string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(string(id))
	if err != nil {
		return uuid.Nil, errs.Validation("invalid " + what + " id")
	}
	return parsed, nil
}

func statusToEnum(s review.ModerationStatus) string {
	return strings.ToUpper(string(s))
}

func enumToStatus(s string) (review.ModerationStatus, error) {
	status, err := review.ParseModerationStatus(s)
	if err != nil {
		return "", errs.Validation(err.Error())
	}
	return status, nil
}

// reviewsFilterInput mirrors ReviewsFilterInput.
type reviewsFilterInput struct {
	OfferID          *graphql.ID
	AuthorID         *graphql.ID
	MinRating        *int32
	MaxRating        *int32
	ModeratedOnly    *bool
	ModerationStatus *string
}

func (in *reviewsFilterInput) toFilter() (*review.Filter, error) {
	if in == nil {
		return nil, nil
	}
	f := &review.Filter{}
	if in.OfferID != nil {
		id, err := parseID(*in.OfferID, "offer")
		if err != nil {
			return nil, err
		}
		f.OfferID = &id
	}
	if in.AuthorID != nil {
		id, err := parseID(*in.AuthorID, "author")
		if err != nil {
			return nil, err
		}
		f.AuthorID = &id
	}
	if in.MinRating != nil {
		v := int(*in.MinRating)
		f.MinRating = &v
	}
	if in.MaxRating != nil {
		v := int(*in.MaxRating)
		f.MaxRating = &v
	}
	f.ModeratedOnly = in.ModeratedOnly
	if in.ModerationStatus != nil {
		status, err := enumToStatus(*in.ModerationStatus)
		if err != nil {
			return nil, err
		}
		f.Status = &status
	}
	return f, nil
}

// --- Query ---

func (r *Resolver) Review(ctx context.Context, args struct{ ID graphql.ID }) (*reviewResolver, error) {
	id, err := parseID(args.ID, "review")
	if err != nil {
		return nil, err
	}
	rev, err := r.reviews.Get(ctx, id)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	if rev == nil {
		return nil, nil
	}
	return &reviewResolver{r: *rev, root: r}, nil
}

func (r *Resolver) Reviews(ctx context.Context, args struct {
	Filter *reviewsFilterInput
	Limit  *int32
	Offset *int32
}) ([]*reviewResolver, error) {
	filter, err := args.Filter.toFilter()
	if err != nil {
		return nil, err
	}

	limit := 20
	if args.Limit != nil {
		limit = int(*args.Limit)
	}
	offset := 0
	if args.Offset != nil {
		offset = int(*args.Offset)
	}

	items, _, err := r.reviews.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	return r.wrapReviews(items), nil
}

func (r *Resolver) ReviewsConnection(ctx context.Context, args struct {
	First  *int32
	After  *string
	Filter *reviewsFilterInput
}) (*connectionResolver, error) {
	filter, err := args.Filter.toFilter()
	if err != nil {
		return nil, err
	}

	first := 20
	if args.First != nil {
		first = int(*args.First)
	}
	if first < 1 {
		first = 1
	}
	if first > 100 {
		first = 100
	}

	// The total always comes from a counted list query; the page itself is
	// fetched with one extra row to detect a next page.
	_, total, err := r.reviews.List(ctx, filter, 1, 0)
	if err != nil {
		return nil, asGraphQLError(err)
	}

	var items []review.Review
	hasPrevious := false
	if args.After != nil && *args.After != "" {
		cursor, err := httpserver.DecodeCursor(*args.After)
		if err != nil {
			return nil, errs.Validation("invalid cursor")
		}
		hasPrevious = true
		items, err = r.reviews.ListAfterCursor(ctx, filter, cursor.CreatedAt, cursor.ID, first+1)
		if err != nil {
			return nil, asGraphQLError(err)
		}
	} else {
		items, _, err = r.reviews.List(ctx, filter, first+1, 0)
		if err != nil {
			return nil, asGraphQLError(err)
		}
	}

	hasNext := len(items) > first
	if hasNext {
		items = items[:first]
	}

	return &connectionResolver{
		items:       r.wrapReviews(items),
		totalCount:  int32(total),
		hasNext:     hasNext,
		hasPrevious: hasPrevious,
	}, nil
}

func (r *Resolver) OfferRating(ctx context.Context, args struct{ OfferID graphql.ID }) (*ratingResolver, error) {
	offerID, err := parseID(args.OfferID, "offer")
	if err != nil {
		return nil, err
	}
	rating, err := r.reviews.GetOfferRating(ctx, offerID)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	if rating == nil {
		return nil, nil
	}
	return &ratingResolver{r: *rating}, nil
}

func (r *Resolver) wrapReviews(items []review.Review) []*reviewResolver {
	out := make([]*reviewResolver, len(items))
	for i, item := range items {
		out[i] = &reviewResolver{r: item, root: r}
	}
	return out
}

// --- Mutation ---

type createReviewInput struct {
	OfferID graphql.ID
	Rating  int32
	Text    string
}

func (r *Resolver) CreateReview(ctx context.Context, args struct{ Input createReviewInput }) (*reviewResolver, error) {
	if err := auth.RequireAuth(ctx); err != nil {
		return nil, err
	}
	offerID, err := parseID(args.Input.OfferID, "offer")
	if err != nil {
		return nil, err
	}

	actor := auth.FromContext(ctx)
	rev, err := r.reviews.Create(ctx, review.CreateInput{
		OfferID: offerID,
		Rating:  int(args.Input.Rating),
		Text:    args.Input.Text,
	}, actor.UserID)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	return &reviewResolver{r: rev, root: r}, nil
}

type updateReviewInput struct {
	Rating *int32
	Text   *string
}

func (r *Resolver) UpdateReview(ctx context.Context, args struct {
	ID    graphql.ID
	Input updateReviewInput
}) (*reviewResolver, error) {
	if err := auth.RequireAuth(ctx); err != nil {
		return nil, err
	}
	id, err := parseID(args.ID, "review")
	if err != nil {
		return nil, err
	}

	patch := review.UpdateInput{Text: args.Input.Text}
	if args.Input.Rating != nil {
		v := int(*args.Input.Rating)
		patch.Rating = &v
	}

	actor := auth.FromContext(ctx)
	rev, err := r.reviews.Update(ctx, id, patch, actor.UserID)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	return &reviewResolver{r: rev, root: r}, nil
}

func (r *Resolver) DeleteReview(ctx context.Context, args struct{ ID graphql.ID }) (bool, error) {
	if err := auth.RequireAuth(ctx); err != nil {
		return false, err
	}
	id, err := parseID(args.ID, "review")
	if err != nil {
		return false, err
	}

	actor := auth.FromContext(ctx)
	if err := r.reviews.Delete(ctx, id, actor.UserID); err != nil {
		return false, asGraphQLError(err)
	}
	return true, nil
}

func (r *Resolver) ModerateReview(ctx context.Context, args struct {
	ID     graphql.ID
	Status string
}) (*reviewResolver, error) {
	if err := auth.RequireModerator(ctx); err != nil {
		return nil, err
	}
	id, err := parseID(args.ID, "review")
	if err != nil {
		return nil, err
	}
	status, err := enumToStatus(args.Status)
	if err != nil {
		return nil, err
	}

	actor := auth.FromContext(ctx)
	rev, err := r.reviews.Moderate(ctx, id, status, actor.UserID)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	return &reviewResolver{r: rev, root: r}, nil
}

func (r *Resolver) BulkApproveReviews(ctx context.Context, args struct{ IDs []graphql.ID }) ([]*reviewResolver, error) {
	return r.bulkModerate(ctx, args.IDs, review.StatusApproved)
}

func (r *Resolver) BulkRejectReviews(ctx context.Context, args struct{ IDs []graphql.ID }) ([]*reviewResolver, error) {
	return r.bulkModerate(ctx, args.IDs, review.StatusRejected)
}

func (r *Resolver) bulkModerate(ctx context.Context, rawIDs []graphql.ID, status review.ModerationStatus) ([]*reviewResolver, error) {
	if err := auth.RequireModerator(ctx); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := parseID(raw, "review")
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	actor := auth.FromContext(ctx)
	updated, err := r.reviews.BulkModerate(ctx, ids, status, actor.UserID)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	return r.wrapReviews(updated), nil
}

func (r *Resolver) RefreshOfferRating(ctx context.Context, args struct{ OfferID graphql.ID }) (*ratingResolver, error) {
	if err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	offerID, err := parseID(args.OfferID, "offer")
	if err != nil {
		return nil, err
	}

	rating, err := r.reviews.RefreshOfferRating(ctx, offerID)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	return &ratingResolver{r: rating}, nil
}

// --- type resolvers ---

type reviewResolver struct {
	r    review.Review
	root *Resolver
}

func (r *reviewResolver) ID() graphql.ID       { return graphql.ID(r.r.ID.String()) }
func (r *reviewResolver) OfferID() graphql.ID  { return graphql.ID(r.r.OfferID.String()) }
func (r *reviewResolver) AuthorID() graphql.ID { return graphql.ID(r.r.AuthorID.String()) }
func (r *reviewResolver) Rating() int32        { return int32(r.r.Rating) }
func (r *reviewResolver) Text() string         { return r.r.Text }
func (r *reviewResolver) CreatedAt() graphql.Time {
	return graphql.Time{Time: r.r.CreatedAt}
}
func (r *reviewResolver) UpdatedAt() graphql.Time {
	return graphql.Time{Time: r.r.UpdatedAt}
}
func (r *reviewResolver) IsModerated() bool        { return r.r.IsModerated }
func (r *reviewResolver) ModerationStatus() string { return statusToEnum(r.r.Status) }

// Offer degrades to a cached or synthetic snapshot when the offers subgraph
// is unavailable.
func (r *reviewResolver) Offer(ctx context.Context) *offerResolver {
	offer := r.root.ext.GetOfferWithFallback(ctx, r.r.OfferID)
	return &offerResolver{o: offer, root: r.root}
}

// Author degrades the same way against the users subgraph.
func (r *reviewResolver) Author(ctx context.Context) *userResolver {
	user := r.root.ext.GetUserWithFallback(ctx, r.r.AuthorID)
	return &userResolver{u: user, root: r.root}
}

type ratingResolver struct {
	r review.OfferRating
}

func (r *ratingResolver) OfferID() graphql.ID    { return graphql.ID(r.r.OfferID.String()) }
func (r *ratingResolver) AverageRating() float64 { return r.r.AverageRating }
func (r *ratingResolver) ReviewsCount() int32    { return int32(r.r.ReviewsCount) }

func (r *ratingResolver) RatingDistribution() []*bucketResolver {
	keys := make([]string, 0, len(r.r.Distribution))
	for k := range r.r.Distribution {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*bucketResolver, 0, len(keys))
	for _, k := range keys {
		rating := int32(k[0] - '0')
		out = append(out, &bucketResolver{rating: rating, count: int32(r.r.Distribution[k])})
	}
	return out
}

type bucketResolver struct {
	rating int32
	count  int32
}

func (b *bucketResolver) Rating() int32 { return b.rating }
func (b *bucketResolver) Count() int32  { return b.count }

type userResolver struct {
	u    extclient.ExternalUser
	root *Resolver
}

func (u *userResolver) ID() graphql.ID { return graphql.ID(u.u.ID.String()) }
func (u *userResolver) Name() string   { return u.u.Name }
func (u *userResolver) Email() *string { return u.u.Email }

func (u *userResolver) Reviews(ctx context.Context) ([]*reviewResolver, error) {
	items, err := u.root.reviews.GetReviewsForAuthor(ctx, u.u.ID)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	return u.root.wrapReviews(items), nil
}

type offerResolver struct {
	o    extclient.ExternalOffer
	root *Resolver
}

func (o *offerResolver) ID() graphql.ID { return graphql.ID(o.o.ID.String()) }
func (o *offerResolver) Title() string  { return o.o.Title }

func (o *offerResolver) Price() *int32 {
	if o.o.Price == nil {
		return nil
	}
	v := int32(*o.o.Price)
	return &v
}

func (o *offerResolver) Reviews(ctx context.Context) ([]*reviewResolver, error) {
	items, err := o.root.reviews.GetReviewsForOffer(ctx, o.o.ID)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	return o.root.wrapReviews(items), nil
}

func (o *offerResolver) AverageRating(ctx context.Context) (float64, error) {
	rating, err := o.root.reviews.GetOfferRating(ctx, o.o.ID)
	if err != nil {
		return 0, asGraphQLError(err)
	}
	if rating == nil {
		return 0, nil
	}
	return rating.AverageRating, nil
}

func (o *offerResolver) ReviewsCount(ctx context.Context) (int32, error) {
	rating, err := o.root.reviews.GetOfferRating(ctx, o.o.ID)
	if err != nil {
		return 0, asGraphQLError(err)
	}
	if rating == nil {
		return 0, nil
	}
	return int32(rating.ReviewsCount), nil
}

type connectionResolver struct {
	items       []*reviewResolver
	totalCount  int32
	hasNext     bool
	hasPrevious bool
}

func (c *connectionResolver) Edges() []*edgeResolver {
	out := make([]*edgeResolver, len(c.items))
	for i, item := range c.items {
		out[i] = &edgeResolver{node: item}
	}
	return out
}

func (c *connectionResolver) PageInfo() *pageInfoResolver {
	info := &pageInfoResolver{hasNext: c.hasNext, hasPrevious: c.hasPrevious}
	if len(c.items) > 0 {
		start := c.items[0].cursor()
		end := c.items[len(c.items)-1].cursor()
		info.startCursor = &start
		info.endCursor = &end
	}
	return info
}

func (c *connectionResolver) TotalCount() int32 { return c.totalCount }

type edgeResolver struct {
	node *reviewResolver
}

func (e *edgeResolver) Node() *reviewResolver { return e.node }
func (e *edgeResolver) Cursor() string        { return e.node.cursor() }

func (r *reviewResolver) cursor() string {
	return httpserver.EncodeCursor(httpserver.Cursor{CreatedAt: r.r.CreatedAt, ID: r.r.ID})
}

type pageInfoResolver struct {
	hasNext     bool
	hasPrevious bool
	startCursor *string
	endCursor   *string
}

func (p *pageInfoResolver) HasNextPage() bool     { return p.hasNext }
func (p *pageInfoResolver) HasPreviousPage() bool { return p.hasPrevious }
func (p *pageInfoResolver) StartCursor() *string  { return p.startCursor }
func (p *pageInfoResolver) EndCursor() *string    { return p.endCursor }
