package graphql

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	graphqlgo "github.com/graph-gophers/graphql-go"

	"github.com/drivehub/ugc/internal/auth"
	"github.com/drivehub/ugc/internal/errs"
	"github.com/drivehub/ugc/internal/telemetry"
	"github.com/drivehub/ugc/pkg/review"
)

// Handler serves POST /graphql: rate limiting, governance, per-request
// loaders, then execution.
type Handler struct {
	schema     *graphqlgo.Schema
	governance *Governance
	limiter    *RateLimiter
	store      review.Storer
	logger     *slog.Logger
}

// NewHandler parses the schema against the resolver and wires the
// pre-execution checks.
func NewHandler(resolver *Resolver, governance *Governance, limiter *RateLimiter, store review.Storer, logger *slog.Logger) *Handler {
	schema := graphqlgo.MustParseSchema(schemaSDL, resolver, graphqlgo.MaxParallelism(10))
	return &Handler{
		schema:     schema,
		governance: governance,
		limiter:    limiter,
		store:      store,
		logger:     logger,
	}
}

// request is the standard GraphQL POST body.
type request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGraphQLError(w, h.logger, errs.Validation("invalid request body"))
		return
	}

	ctx := r.Context()

	// Rate limit before any work. Anonymous callers share one bucket.
	user := auth.FromContext(ctx)
	limitKey := "anonymous"
	if user.Authenticated {
		limitKey = user.UserID.String()
	}
	if !h.limiter.Allow(limitKey) {
		telemetry.GraphQLRateLimitRejections.Inc()
		writeGraphQLError(w, h.logger, errs.RateLimited(limitKey))
		return
	}

	// Depth and complexity analysis rejects before execution begins.
	if err := h.governance.Check(req.Query, req.Variables); err != nil {
		writeGraphQLError(w, h.logger, err)
		return
	}

	start := time.Now()
	resp := h.exec(ctx, req.Query, req.OperationName, req.Variables)
	telemetry.GraphQLRequestDuration.WithLabelValues(operationLabel(req.OperationName)).
		Observe(time.Since(start).Seconds())

	for _, qerr := range resp.Errors {
		code := "INTERNAL_ERROR"
		if ext, ok := qerr.Extensions["code"].(string); ok {
			code = ext
		}
		telemetry.GraphQLErrorsTotal.WithLabelValues(code).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encoding graphql response", "error", err)
	}
}

// exec runs the query with a fresh loader bundle in the context.
func (h *Handler) exec(ctx context.Context, query, operationName string, variables map[string]any) *graphqlgo.Response {
	ctx = review.WithLoaders(ctx, review.NewLoaders(h.store))
	if variables == nil {
		variables = map[string]any{}
	}
	return h.schema.Exec(ctx, query, operationName, variables)
}

// Execute runs a query on behalf of the legacy REST adapter and returns the
// data payload, or the first execution error.
func (h *Handler) Execute(ctx context.Context, query string, variables map[string]any) ([]byte, error) {
	resp := h.exec(ctx, query, "", variables)
	if len(resp.Errors) > 0 {
		qerr := resp.Errors[0]
		if qerr.ResolverError != nil {
			if e, ok := errs.As(qerr.ResolverError); ok {
				return nil, e
			}
		}
		return nil, errs.Internal(qerr.Message)
	}
	return resp.Data, nil
}

func operationLabel(operationName string) string {
	if operationName == "" {
		return "anonymous"
	}
	return operationName
}

// writeGraphQLError responds with a single GraphQL-shaped error carrying the
// taxonomy extensions. Used for failures that happen before execution.
func writeGraphQLError(w http.ResponseWriter, logger *slog.Logger, err error) {
	body := map[string]any{
		"errors": []map[string]any{{"message": err.Error()}},
	}
	if e, ok := errs.As(err); ok {
		e.Log(logger)
		body["errors"].([]map[string]any)[0]["extensions"] = e.Extensions()
		telemetry.GraphQLErrorsTotal.WithLabelValues(e.Code()).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	if encodeErr := json.NewEncoder(w).Encode(body); encodeErr != nil {
		logger.Error("encoding graphql error response", "error", encodeErr)
	}
}
