package review

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/drivehub/ugc/internal/auth"
	"github.com/drivehub/ugc/internal/cache"
	"github.com/drivehub/ugc/internal/errs"
	"github.com/drivehub/ugc/internal/telemetry"
)

// fakeStore is an in-memory Storer for service tests.
type fakeStore struct {
	mu         sync.Mutex
	reviews    map[uuid.UUID]Review
	ratings    map[uuid.UUID]OfferRating
	upserts    []uuid.UUID
	failNext   error
	failUpsert error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reviews: make(map[uuid.UUID]Review),
		ratings: make(map[uuid.UUID]OfferRating),
	}
}

func (f *fakeStore) takeErr() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeStore) Create(_ context.Context, in CreateInput, authorID uuid.UUID) (Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return Review{}, err
	}
	now := time.Now().UTC()
	r := Review{
		ID:        uuid.New(),
		OfferID:   in.OfferID,
		AuthorID:  authorID,
		Rating:    in.Rating,
		Text:      strings.TrimSpace(in.Text),
		CreatedAt: now,
		UpdatedAt: now,
		Status:    StatusPending,
	}
	f.reviews[r.ID] = r
	return r, nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	if r, ok := f.reviews[id]; ok {
		c := r
		return &c, nil
	}
	return nil, nil
}

func (f *fakeStore) Update(_ context.Context, id uuid.UUID, in UpdateInput) (Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[id]
	if !ok {
		return Review{}, errs.NotFound(id)
	}
	if in.Rating != nil {
		r.Rating = *in.Rating
	}
	if in.Text != nil {
		r.Text = strings.TrimSpace(*in.Text)
	}
	r.UpdatedAt = time.Now().UTC()
	f.reviews[id] = r
	return r, nil
}

func (f *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reviews[id]; !ok {
		return errs.NotFound(id)
	}
	delete(f.reviews, id)
	return nil
}

func (f *fakeStore) Moderate(_ context.Context, id uuid.UUID, status ModerationStatus) (Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[id]
	if !ok {
		return Review{}, errs.NotFound(id)
	}
	r.Status = status
	if status == StatusApproved {
		r.IsModerated = true
	}
	r.UpdatedAt = time.Now().UTC()
	f.reviews[id] = r
	return r, nil
}

func (f *fakeStore) List(_ context.Context, filter *Filter, limit, offset int) ([]Review, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Review
	for _, r := range f.reviews {
		if filter != nil {
			if filter.OfferID != nil && r.OfferID != *filter.OfferID {
				continue
			}
			if filter.AuthorID != nil && r.AuthorID != *filter.AuthorID {
				continue
			}
			if filter.ModeratedOnly != nil && *filter.ModeratedOnly && !r.IsModerated {
				continue
			}
		}
		out = append(out, r)
	}
	total := len(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (f *fakeStore) ListAfterCursor(_ context.Context, _ *Filter, _ time.Time, _ uuid.UUID, _ int) ([]Review, error) {
	return nil, nil
}

func (f *fakeStore) GetOfferRating(_ context.Context, offerID uuid.UUID) (*OfferRating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	if r, ok := f.ratings[offerID]; ok {
		c := r
		return &c, nil
	}
	return nil, nil
}

// UpsertOfferRating recomputes the aggregate from approved reviews the same
// way the real store does.
func (f *fakeStore) UpsertOfferRating(_ context.Context, offerID uuid.UUID) (OfferRating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert != nil {
		err := f.failUpsert
		f.failUpsert = nil
		return OfferRating{}, err
	}
	f.upserts = append(f.upserts, offerID)

	dist := map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0}
	count := 0
	sum := 0
	for _, r := range f.reviews {
		if r.OfferID != offerID || r.Status != StatusApproved {
			continue
		}
		count++
		sum += r.Rating
		dist[string(rune('0'+r.Rating))]++
	}

	avg := 0.0
	if count > 0 {
		avg = float64(int(float64(sum)/float64(count)*10+0.5)) / 10
	}
	rating := OfferRating{
		OfferID:       offerID,
		AverageRating: avg,
		ReviewsCount:  count,
		Distribution:  dist,
		UpdatedAt:     time.Now().UTC(),
	}
	f.ratings[offerID] = rating
	return rating, nil
}

func (f *fakeStore) GetManyByIDs(_ context.Context, ids []uuid.UUID) ([]*Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Review, len(ids))
	for i, id := range ids {
		if r, ok := f.reviews[id]; ok {
			c := r
			out[i] = &c
		}
	}
	return out, nil
}

func (f *fakeStore) GetRatingsByOfferIDs(_ context.Context, offerIDs []uuid.UUID) ([]*OfferRating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*OfferRating, len(offerIDs))
	for i, id := range offerIDs {
		if r, ok := f.ratings[id]; ok {
			c := r
			out[i] = &c
		}
	}
	return out, nil
}

func (f *fakeStore) GetReviewsByOfferIDs(_ context.Context, offerIDs []uuid.UUID) ([][]Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Review, len(offerIDs))
	for i, id := range offerIDs {
		for _, r := range f.reviews {
			if r.OfferID == id && r.IsModerated {
				out[i] = append(out[i], r)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetReviewsByAuthorIDs(_ context.Context, authorIDs []uuid.UUID) ([][]Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Review, len(authorIDs))
	for i, id := range authorIDs {
		for _, r := range f.reviews {
			if r.AuthorID == id && r.IsModerated {
				out[i] = append(out[i], r)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) CountByStatus(_ context.Context) (map[ModerationStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[ModerationStatus]int)
	for _, r := range f.reviews {
		out[r.Status]++
	}
	return out, nil
}

func newTestService(store *fakeStore) *Service {
	logger := slog.New(slog.DiscardHandler)
	return NewService(store, cache.NewKeyed("test", cache.ReviewTTL), telemetry.NewEvents(logger), logger)
}

// actorCtx carries the actor's identity so the ownership guard sees the same
// caller the service is invoked for.
func actorCtx(actor uuid.UUID, roles ...string) context.Context {
	return auth.WithContext(context.Background(), auth.UserContext{
		UserID:        actor,
		Roles:         roles,
		Authenticated: true,
	})
}

func TestCreateValidReview(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	offerID := uuid.New()
	author := uuid.New()

	r, err := svc.Create(ctx, CreateInput{OfferID: offerID, Rating: 5, Text: "Great"}, author)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Rating != 5 || r.Text != "Great" || r.AuthorID != author {
		t.Errorf("review = %+v", r)
	}
	if r.IsModerated || r.Status != StatusPending {
		t.Errorf("new review not pending/unmoderated: %+v", r)
	}

	// The aggregate was recomputed, but the pending review contributes nothing.
	if len(store.upserts) != 1 {
		t.Fatalf("upserts = %v, want one recompute", store.upserts)
	}
	rating := store.ratings[offerID]
	if rating.ReviewsCount != 0 {
		t.Errorf("pending review counted in aggregate: %+v", rating)
	}

	// Create → immediate Get round-trips.
	got, err := svc.Get(ctx, r.ID)
	if err != nil || got == nil || got.ID != r.ID {
		t.Fatalf("Get after Create = %+v, %v", got, err)
	}
}

func TestCreateRejectsInvalidRating(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	_, err := svc.Create(context.Background(), CreateInput{OfferID: uuid.New(), Rating: 6, Text: "x"}, uuid.New())
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindValidation {
		t.Fatalf("err = %v, want Validation", err)
	}
	if !strings.Contains(err.Error(), "rating must be between 1 and 5") {
		t.Errorf("message = %q", err.Error())
	}
	if len(store.reviews) != 0 {
		t.Error("row written despite validation failure")
	}
	if len(store.upserts) != 0 {
		t.Error("aggregate recomputed despite validation failure")
	}
}

func TestUpdateRequiresOwnership(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	owner := uuid.New()
	intruder := uuid.New()

	r, err := svc.Create(ctx, CreateInput{OfferID: uuid.New(), Rating: 4, Text: "mine"}, owner)
	if err != nil {
		t.Fatal(err)
	}

	one := 1
	_, err = svc.Update(actorCtx(intruder, "user"), r.ID, UpdateInput{Rating: &one}, intruder)
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindUnauthorized {
		t.Fatalf("err = %v, want Unauthorized", err)
	}

	// The review is unchanged.
	stored := store.reviews[r.ID]
	if stored.Rating != 4 {
		t.Errorf("rating changed to %d by unauthorized update", stored.Rating)
	}

	// The owner may update.
	updated, err := svc.Update(actorCtx(owner, "user"), r.ID, UpdateInput{Rating: &one}, owner)
	if err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if updated.Rating != 1 {
		t.Errorf("rating = %d, want 1", updated.Rating)
	}

	// Admins pass the ownership guard for other users' reviews.
	admin := uuid.New()
	two := 2
	if _, err := svc.Update(actorCtx(admin, "admin"), r.ID, UpdateInput{Rating: &two}, admin); err != nil {
		t.Fatalf("admin update: %v", err)
	}
}

func TestUpdateMissingReview(t *testing.T) {
	svc := newTestService(newFakeStore())

	one := 1
	_, err := svc.Update(context.Background(), uuid.New(), UpdateInput{Rating: &one}, uuid.New())
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindNotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestDeleteRequiresOwnershipAndRecomputes(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	owner := uuid.New()
	offerID := uuid.New()

	r, err := svc.Create(ctx, CreateInput{OfferID: offerID, Rating: 5, Text: "to be removed"}, owner)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Moderate(ctx, r.ID, StatusApproved, uuid.New()); err != nil {
		t.Fatal(err)
	}
	if store.ratings[offerID].ReviewsCount != 1 {
		t.Fatalf("aggregate = %+v before delete", store.ratings[offerID])
	}

	intruder := uuid.New()
	if err := svc.Delete(actorCtx(intruder, "user"), r.ID, intruder); err == nil {
		t.Fatal("delete by non-owner accepted")
	}

	if err := svc.Delete(actorCtx(owner, "user"), r.ID, owner); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := svc.Get(ctx, r.ID)
	if err != nil || got != nil {
		t.Fatalf("Get after Delete = %+v, %v, want nil", got, err)
	}
	if store.ratings[offerID].ReviewsCount != 0 {
		t.Errorf("aggregate after delete = %+v, want count 0", store.ratings[offerID])
	}
}

func TestModerateApprovalUpdatesAggregate(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	offerID := uuid.New()
	moderator := uuid.New()

	// Two approved reviews (ratings 4, 5) and one pending (rating 3).
	for _, rating := range []int{4, 5} {
		r, err := svc.Create(ctx, CreateInput{OfferID: offerID, Rating: rating, Text: "ok"}, uuid.New())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Moderate(ctx, r.ID, StatusApproved, moderator); err != nil {
			t.Fatal(err)
		}
	}
	pending, err := svc.Create(ctx, CreateInput{OfferID: offerID, Rating: 3, Text: "meh"}, uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	rating := store.ratings[offerID]
	if rating.ReviewsCount != 2 {
		t.Fatalf("pre-moderation aggregate = %+v", rating)
	}

	// Approving the pending review brings the aggregate to 3 reviews, avg 4.0.
	if _, err := svc.Moderate(ctx, pending.ID, StatusApproved, moderator); err != nil {
		t.Fatal(err)
	}
	rating = store.ratings[offerID]
	if rating.ReviewsCount != 3 {
		t.Errorf("count = %d, want 3", rating.ReviewsCount)
	}
	if rating.AverageRating != 4.0 {
		t.Errorf("average = %.1f, want 4.0", rating.AverageRating)
	}
	if rating.Distribution["3"] != 1 || rating.Distribution["4"] != 1 || rating.Distribution["5"] != 1 {
		t.Errorf("distribution = %v", rating.Distribution)
	}
}

func TestModerateRejectionAfterApprovalRecomputes(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	offerID := uuid.New()
	moderator := uuid.New()

	r, err := svc.Create(ctx, CreateInput{OfferID: offerID, Rating: 5, Text: "spam"}, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Moderate(ctx, r.ID, StatusApproved, moderator); err != nil {
		t.Fatal(err)
	}
	upsertsAfterApproval := len(store.upserts)

	rejected, err := svc.Moderate(ctx, r.ID, StatusRejected, moderator)
	if err != nil {
		t.Fatal(err)
	}
	if len(store.upserts) != upsertsAfterApproval+1 {
		t.Error("rejection out of approved did not recompute the aggregate")
	}
	if store.ratings[offerID].ReviewsCount != 0 {
		t.Errorf("aggregate = %+v after rejection", store.ratings[offerID])
	}
	// The moderated bit is append-only.
	if !rejected.IsModerated {
		t.Error("is_moderated cleared by rejection")
	}

	// Flagging a rejected review does not cross approved; no recompute.
	before := len(store.upserts)
	if _, err := svc.Moderate(ctx, r.ID, StatusFlagged, moderator); err != nil {
		t.Fatal(err)
	}
	if len(store.upserts) != before {
		t.Error("non-approval transition recomputed the aggregate")
	}
}

func TestBulkModerateSkipsMissing(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	r, err := svc.Create(ctx, CreateInput{OfferID: uuid.New(), Rating: 4, Text: "ok"}, uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	updated, err := svc.BulkModerate(ctx, []uuid.UUID{r.ID, uuid.New()}, StatusApproved, uuid.New())
	if err != nil {
		t.Fatalf("BulkModerate: %v", err)
	}
	if len(updated) != 1 || updated[0].Status != StatusApproved {
		t.Errorf("updated = %+v", updated)
	}
}

func TestGetUsesCache(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	r, err := svc.Create(ctx, CreateInput{OfferID: uuid.New(), Rating: 4, Text: "cached"}, uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	// Create populated the cache; a store failure is invisible to Get.
	store.failNext = errs.Database(context.DeadlineExceeded)
	got, err := svc.Get(ctx, r.ID)
	if err != nil || got == nil || got.ID != r.ID {
		t.Fatalf("cached Get = %+v, %v", got, err)
	}
}

func TestRecomputeFailureIsNotSurfaced(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	store.failUpsert = errs.Database(context.DeadlineExceeded)
	created, err := svc.Create(ctx, CreateInput{OfferID: uuid.New(), Rating: 4, Text: "fine"}, uuid.New())
	if err != nil {
		t.Fatalf("Create surfaced a recompute failure: %v", err)
	}
	if _, ok := store.reviews[created.ID]; !ok {
		t.Error("persisted row missing after failed recompute")
	}
}

func TestListClampsLimit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, CreateInput{OfferID: uuid.New(), Rating: 3, Text: "x"}, uuid.New()); err != nil {
			t.Fatal(err)
		}
	}

	items, total, err := svc.List(ctx, nil, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || total != 3 {
		t.Errorf("limit 0 clamped to 1: got %d items, total %d", len(items), total)
	}
}
