package review

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// countingStore wraps fakeStore and counts batch calls.
type countingStore struct {
	*fakeStore
	mu         sync.Mutex
	batchCalls map[string]int
	batchSizes map[string][]int
}

func newCountingStore() *countingStore {
	return &countingStore{
		fakeStore:  newFakeStore(),
		batchCalls: make(map[string]int),
		batchSizes: make(map[string][]int),
	}
}

func (c *countingStore) record(op string, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchCalls[op]++
	c.batchSizes[op] = append(c.batchSizes[op], size)
}

func (c *countingStore) GetManyByIDs(ctx context.Context, ids []uuid.UUID) ([]*Review, error) {
	c.record("get_many", len(ids))
	return c.fakeStore.GetManyByIDs(ctx, ids)
}

func (c *countingStore) GetRatingsByOfferIDs(ctx context.Context, ids []uuid.UUID) ([]*OfferRating, error) {
	c.record("get_ratings", len(ids))
	return c.fakeStore.GetRatingsByOfferIDs(ctx, ids)
}

func (c *countingStore) GetReviewsByOfferIDs(ctx context.Context, ids []uuid.UUID) ([][]Review, error) {
	c.record("by_offer", len(ids))
	return c.fakeStore.GetReviewsByOfferIDs(ctx, ids)
}

func seedReviews(t *testing.T, store *countingStore, n int) []Review {
	t.Helper()
	out := make([]Review, n)
	for i := range out {
		r := Review{
			ID:          uuid.New(),
			OfferID:     uuid.New(),
			AuthorID:    uuid.New(),
			Rating:      5,
			Text:        "seeded",
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
			IsModerated: true,
			Status:      StatusApproved,
		}
		store.reviews[r.ID] = r
		out[i] = r
	}
	return out
}

func TestLoaderCoalescesLookups(t *testing.T) {
	store := newCountingStore()
	seeded := seedReviews(t, store, 5)
	loaders := NewLoaders(store)
	ctx := context.Background()

	// Issue all loads before resolving any thunk so they land in one batch.
	thunks := make([]func() (*Review, error), len(seeded))
	for i, r := range seeded {
		thunks[i] = loaders.ReviewByID.Load(ctx, r.ID)
	}
	for i, thunk := range thunks {
		got, err := thunk()
		if err != nil {
			t.Fatalf("thunk %d: %v", i, err)
		}
		if got == nil || got.ID != seeded[i].ID {
			t.Fatalf("thunk %d = %+v, want %s", i, got, seeded[i].ID)
		}
	}

	store.mu.Lock()
	calls := store.batchCalls["get_many"]
	store.mu.Unlock()
	if calls != 1 {
		t.Errorf("batch calls = %d, want 1", calls)
	}
}

func TestLoaderMemoisesResolvedKeys(t *testing.T) {
	store := newCountingStore()
	seeded := seedReviews(t, store, 1)
	loaders := NewLoaders(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := loaders.ReviewByID.Load(ctx, seeded[0].ID)()
		if err != nil || got == nil {
			t.Fatalf("load %d = %+v, %v", i, got, err)
		}
	}

	store.mu.Lock()
	calls := store.batchCalls["get_many"]
	store.mu.Unlock()
	if calls != 1 {
		t.Errorf("batch calls = %d, want 1 (memoised)", calls)
	}
}

func TestLoaderMissingKeysYieldNil(t *testing.T) {
	store := newCountingStore()
	seeded := seedReviews(t, store, 1)
	loaders := NewLoaders(store)
	ctx := context.Background()

	missing := uuid.New()
	values, errors := loaders.ReviewByID.LoadMany(ctx, []uuid.UUID{seeded[0].ID, missing})()
	for _, err := range errors {
		if err != nil {
			t.Fatalf("LoadMany error: %v", err)
		}
	}
	if len(values) != 2 {
		t.Fatalf("values = %d entries", len(values))
	}
	if values[0] == nil || values[0].ID != seeded[0].ID {
		t.Errorf("values[0] = %+v", values[0])
	}
	if values[1] != nil {
		t.Errorf("values[1] = %+v, want nil for missing id", values[1])
	}
}

func TestLoaderInvalidation(t *testing.T) {
	store := newCountingStore()
	seeded := seedReviews(t, store, 1)
	loaders := NewLoaders(store)
	ctx := context.Background()

	if _, err := loaders.ReviewByID.Load(ctx, seeded[0].ID)(); err != nil {
		t.Fatal(err)
	}

	loaders.InvalidateReview(ctx, seeded[0])

	if _, err := loaders.ReviewByID.Load(ctx, seeded[0].ID)(); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	calls := store.batchCalls["get_many"]
	store.mu.Unlock()
	if calls != 2 {
		t.Errorf("batch calls = %d, want 2 after invalidation", calls)
	}
}

func TestLoaderGroupedResults(t *testing.T) {
	store := newCountingStore()
	loaders := NewLoaders(store)
	ctx := context.Background()

	offerID := uuid.New()
	for i := 0; i < 3; i++ {
		r := Review{
			ID: uuid.New(), OfferID: offerID, AuthorID: uuid.New(),
			Rating: 4, Text: "x", IsModerated: true, Status: StatusApproved,
		}
		store.reviews[r.ID] = r
	}
	// One unmoderated review must be filtered out.
	hidden := Review{ID: uuid.New(), OfferID: offerID, AuthorID: uuid.New(), Rating: 1, Text: "hidden", Status: StatusPending}
	store.reviews[hidden.ID] = hidden

	reviews, err := loaders.ReviewsByOffer.Load(ctx, offerID)()
	if err != nil {
		t.Fatal(err)
	}
	if len(reviews) != 3 {
		t.Errorf("reviews = %d, want 3 moderated", len(reviews))
	}

	empty, err := loaders.ReviewsByOffer.Load(ctx, uuid.New())()
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown offer reviews = %d, want 0", len(empty))
	}
}

func TestLoadersFromContext(t *testing.T) {
	if LoadersFromContext(context.Background()) != nil {
		t.Error("expected nil outside a request")
	}

	loaders := NewLoaders(newCountingStore())
	ctx := WithLoaders(context.Background(), loaders)
	if LoadersFromContext(ctx) != loaders {
		t.Error("loaders not round-tripped through context")
	}
}
