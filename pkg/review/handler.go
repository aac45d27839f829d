package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/drivehub/ugc/internal/auth"
	"github.com/drivehub/ugc/internal/errs"
	"github.com/drivehub/ugc/internal/httpserver"
	"github.com/drivehub/ugc/internal/telemetry"
	"github.com/drivehub/ugc/pkg/migration"
)

// Executor runs a GraphQL query in-process on behalf of the REST adapter.
type Executor interface {
	Execute(ctx context.Context, query string, variables map[string]any) ([]byte, error)
}

// Handler serves the legacy /api/v1 REST surface. Every request consults the
// traffic router: GraphQL-routed requests execute against the schema
// in-process, legacy-routed requests call the service directly. Both produce
// the same envelope.
type Handler struct {
	service  *Service
	executor Executor
	router   *migration.TrafficRouter
	flags    *migration.Flags
	breaker  *migration.ErrorRateBreaker
	logger   *slog.Logger
}

// NewHandler creates the REST adapter.
func NewHandler(service *Service, executor Executor, router *migration.TrafficRouter, flags *migration.Flags, breaker *migration.ErrorRateBreaker, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		executor: executor,
		router:   router,
		flags:    flags,
		breaker:  breaker,
		logger:   logger,
	}
}

// Routes returns the /api/v1 router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/reviews", h.handleList)
	r.Post("/reviews", h.handleCreate)
	r.Route("/reviews/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
	})
	r.Get("/offers/{offerID}/reviews", h.handleOfferReviews)
	r.Get("/users/{userID}/reviews", h.handleUserReviews)
	r.Get("/offers/{offerID}/rating", h.handleOfferRating)
	return r
}

// Envelope is the legacy REST response shape.
type Envelope[T any] struct {
	Success bool    `json:"success"`
	Data    *T      `json:"data,omitempty"`
	Error   *string `json:"error,omitempty"`
}

func ok[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: &data}
}

// begin resolves the routing decision for the request and stamps the
// deprecation header when configured.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, endpoint string) (migration.RoutingDecision, auth.UserContext) {
	user := auth.FromContext(r.Context())
	userID := user.UserID.String()

	if h.flags.IsEnabled(r.Context(), "rest_api_deprecation_warning", userID) {
		w.Header().Set("Deprecation", "true")
		w.Header().Set("Link", "</graphql>; rel=\"successor-version\"")
	}

	return h.router.Route(r.Context(), endpoint, r.Method, userID), user
}

// observe records backend latency and errors for the migration monitor.
func (h *Handler) observe(decision migration.RoutingDecision, endpoint string, start time.Time, err error) {
	backend := decision.String()
	telemetry.MigrationResponseTime.WithLabelValues(backend, endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		code := "request_failed"
		if e, okErr := errs.As(err); okErr {
			code = e.Code()
		}
		telemetry.MigrationErrorsTotal.WithLabelValues(backend, endpoint, code).Inc()
	}
	if decision == migration.RouteGraphQL {
		h.breaker.Record(endpoint, err == nil)
	}
}

// reviewNode is the camelCase shape GraphQL returns.
type reviewNode struct {
	ID               uuid.UUID `json:"id"`
	OfferID          uuid.UUID `json:"offerId"`
	AuthorID         uuid.UUID `json:"authorId"`
	Rating           int       `json:"rating"`
	Text             string    `json:"text"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	IsModerated      bool      `json:"isModerated"`
	ModerationStatus string    `json:"moderationStatus"`
}

func (n reviewNode) toReview() Review {
	status, err := ParseModerationStatus(n.ModerationStatus)
	if err != nil {
		status = StatusPending
	}
	return Review{
		ID:          n.ID,
		OfferID:     n.OfferID,
		AuthorID:    n.AuthorID,
		Rating:      n.Rating,
		Text:        n.Text,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
		IsModerated: n.IsModerated,
		Status:      status,
	}
}

const reviewFields = `id offerId authorId rating text createdAt updatedAt isModerated moderationStatus`

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/reviews"
	decision, _ := h.begin(w, r, endpoint)
	start := time.Now()

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, errs.Validation(err.Error()))
		return
	}

	var items []Review
	if decision == migration.RouteGraphQL {
		var payload struct {
			Reviews []reviewNode `json:"reviews"`
		}
		err = h.execute(r.Context(), fmt.Sprintf(
			`query($limit: Int, $offset: Int) { reviews(limit: $limit, offset: $offset) { %s } }`, reviewFields),
			map[string]any{"limit": params.Limit, "offset": params.Offset},
			&payload,
		)
		if err == nil {
			items = make([]Review, len(payload.Reviews))
			for i, n := range payload.Reviews {
				items[i] = n.toReview()
			}
		}
	} else {
		items, _, err = h.service.List(r.Context(), nil, params.Limit, params.Offset)
	}

	h.observe(decision, endpoint, start, err)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []Review{}
	}
	httpserver.Respond(w, http.StatusOK, ok(items))
}

// CreateRequest is the legacy create payload.
type CreateRequest struct {
	OfferID string `json:"offer_id" validate:"required,uuid"`
	Rating  int    `json:"rating" validate:"required,gte=1,lte=5"`
	Text    string `json:"text" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/reviews"
	decision, user := h.begin(w, r, endpoint)
	start := time.Now()

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, h.logger, &req) {
		return
	}
	offerID, err := uuid.Parse(req.OfferID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, errs.Validation("invalid offer id"))
		return
	}

	var created Review
	if decision == migration.RouteGraphQL {
		var payload struct {
			CreateReview reviewNode `json:"createReview"`
		}
		err = h.execute(r.Context(), fmt.Sprintf(
			`mutation($input: CreateReviewInput!) { createReview(input: $input) { %s } }`, reviewFields),
			map[string]any{"input": map[string]any{
				"offerId": req.OfferID,
				"rating":  req.Rating,
				"text":    req.Text,
			}},
			&payload,
		)
		created = payload.CreateReview.toReview()
	} else {
		created, err = h.service.Create(r.Context(), CreateInput{
			OfferID: offerID,
			Rating:  req.Rating,
			Text:    req.Text,
		}, user.UserID)
	}

	h.observe(decision, endpoint, start, err)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, ok(created))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/reviews/{id}"
	decision, _ := h.begin(w, r, endpoint)
	start := time.Now()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAppError(w, h.logger, errs.Validation("invalid review id"))
		return
	}

	var found *Review
	if decision == migration.RouteGraphQL {
		var payload struct {
			Review *reviewNode `json:"review"`
		}
		err = h.execute(r.Context(), fmt.Sprintf(
			`query($id: ID!) { review(id: $id) { %s } }`, reviewFields),
			map[string]any{"id": id.String()},
			&payload,
		)
		if err == nil && payload.Review != nil {
			rev := payload.Review.toReview()
			found = &rev
		}
	} else {
		found, err = h.service.Get(r.Context(), id)
	}

	h.observe(decision, endpoint, start, err)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	if found == nil {
		httpserver.RespondAppError(w, h.logger, errs.NotFound(id))
		return
	}
	httpserver.Respond(w, http.StatusOK, ok(*found))
}

// UpdateRequest is the legacy update payload.
type UpdateRequest struct {
	Rating *int    `json:"rating" validate:"omitempty,gte=1,lte=5"`
	Text   *string `json:"text"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/reviews/{id}"
	decision, user := h.begin(w, r, endpoint)
	start := time.Now()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAppError(w, h.logger, errs.Validation("invalid review id"))
		return
	}
	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, h.logger, &req) {
		return
	}

	var updated Review
	if decision == migration.RouteGraphQL {
		input := map[string]any{}
		if req.Rating != nil {
			input["rating"] = *req.Rating
		}
		if req.Text != nil {
			input["text"] = *req.Text
		}
		var payload struct {
			UpdateReview reviewNode `json:"updateReview"`
		}
		err = h.execute(r.Context(), fmt.Sprintf(
			`mutation($id: ID!, $input: UpdateReviewInput!) { updateReview(id: $id, input: $input) { %s } }`, reviewFields),
			map[string]any{"id": id.String(), "input": input},
			&payload,
		)
		updated = payload.UpdateReview.toReview()
	} else {
		updated, err = h.service.Update(r.Context(), id, UpdateInput{Rating: req.Rating, Text: req.Text}, user.UserID)
	}

	h.observe(decision, endpoint, start, err)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, ok(updated))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/reviews/{id}"
	decision, user := h.begin(w, r, endpoint)
	start := time.Now()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAppError(w, h.logger, errs.Validation("invalid review id"))
		return
	}

	if decision == migration.RouteGraphQL {
		var payload struct {
			DeleteReview bool `json:"deleteReview"`
		}
		err = h.execute(r.Context(),
			`mutation($id: ID!) { deleteReview(id: $id) }`,
			map[string]any{"id": id.String()},
			&payload,
		)
	} else {
		err = h.service.Delete(r.Context(), id, user.UserID)
	}

	h.observe(decision, endpoint, start, err)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, ok(map[string]bool{"deleted": true}))
}

func (h *Handler) handleOfferReviews(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/offers/{id}/reviews"
	decision, _ := h.begin(w, r, endpoint)
	start := time.Now()

	offerID, err := uuid.Parse(chi.URLParam(r, "offerID"))
	if err != nil {
		httpserver.RespondAppError(w, h.logger, errs.Validation("invalid offer id"))
		return
	}

	var items []Review
	if decision == migration.RouteGraphQL {
		var payload struct {
			Reviews []reviewNode `json:"reviews"`
		}
		err = h.execute(r.Context(), fmt.Sprintf(
			`query($filter: ReviewsFilterInput) { reviews(filter: $filter, limit: 100) { %s } }`, reviewFields),
			map[string]any{"filter": map[string]any{"offerId": offerID.String(), "moderatedOnly": true}},
			&payload,
		)
		if err == nil {
			items = make([]Review, len(payload.Reviews))
			for i, n := range payload.Reviews {
				items[i] = n.toReview()
			}
		}
	} else {
		items, err = h.service.GetReviewsForOffer(r.Context(), offerID)
	}

	h.observe(decision, endpoint, start, err)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []Review{}
	}
	httpserver.Respond(w, http.StatusOK, ok(items))
}

func (h *Handler) handleUserReviews(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/users/{id}/reviews"
	decision, _ := h.begin(w, r, endpoint)
	start := time.Now()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpserver.RespondAppError(w, h.logger, errs.Validation("invalid user id"))
		return
	}

	var items []Review
	if decision == migration.RouteGraphQL {
		var payload struct {
			Reviews []reviewNode `json:"reviews"`
		}
		err = h.execute(r.Context(), fmt.Sprintf(
			`query($filter: ReviewsFilterInput) { reviews(filter: $filter, limit: 100) { %s } }`, reviewFields),
			map[string]any{"filter": map[string]any{"authorId": userID.String(), "moderatedOnly": true}},
			&payload,
		)
		if err == nil {
			items = make([]Review, len(payload.Reviews))
			for i, n := range payload.Reviews {
				items[i] = n.toReview()
			}
		}
	} else {
		items, err = h.service.GetReviewsForAuthor(r.Context(), userID)
	}

	h.observe(decision, endpoint, start, err)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []Review{}
	}
	httpserver.Respond(w, http.StatusOK, ok(items))
}

func (h *Handler) handleOfferRating(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/offers/{id}/rating"
	decision, _ := h.begin(w, r, endpoint)
	start := time.Now()

	offerID, err := uuid.Parse(chi.URLParam(r, "offerID"))
	if err != nil {
		httpserver.RespondAppError(w, h.logger, errs.Validation("invalid offer id"))
		return
	}

	var rating *OfferRating
	if decision == migration.RouteGraphQL {
		var payload struct {
			OfferRating *struct {
				OfferID       uuid.UUID `json:"offerId"`
				AverageRating float64   `json:"averageRating"`
				ReviewsCount  int       `json:"reviewsCount"`
				Distribution  []struct {
					Rating int `json:"rating"`
					Count  int `json:"count"`
				} `json:"ratingDistribution"`
			} `json:"offerRating"`
		}
		err = h.execute(r.Context(),
			`query($offerId: ID!) { offerRating(offerId: $offerId) { offerId averageRating reviewsCount ratingDistribution { rating count } } }`,
			map[string]any{"offerId": offerID.String()},
			&payload,
		)
		if err == nil && payload.OfferRating != nil {
			dist := make(map[string]int, len(payload.OfferRating.Distribution))
			for _, b := range payload.OfferRating.Distribution {
				dist[fmt.Sprintf("%d", b.Rating)] = b.Count
			}
			rating = &OfferRating{
				OfferID:       payload.OfferRating.OfferID,
				AverageRating: payload.OfferRating.AverageRating,
				ReviewsCount:  payload.OfferRating.ReviewsCount,
				Distribution:  dist,
			}
		}
	} else {
		rating, err = h.service.GetOfferRating(r.Context(), offerID)
	}

	h.observe(decision, endpoint, start, err)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	if rating == nil {
		// No approved reviews yet: an empty aggregate, not an error.
		rating = &OfferRating{
			OfferID:      offerID,
			Distribution: map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0},
		}
	}
	httpserver.Respond(w, http.StatusOK, ok(*rating))
}

// execute runs a GraphQL query and unmarshals the data payload into out.
func (h *Handler) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	data, err := h.executor.Execute(ctx, query, variables)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errs.Internal(fmt.Sprintf("decoding graphql payload: %v", err))
	}
	return nil
}
