// Package errs defines the closed error taxonomy used across the service.
// Every failure that crosses a package boundary is classified into one of
// these kinds; mapping from underlying causes to kinds happens at the edge
// that observes the cause.
package errs

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Category separates caller mistakes from service-side failures.
type Category string

const (
	CategoryClient Category = "CLIENT_ERROR"
	CategoryServer Category = "SERVER_ERROR"
)

// Kind enumerates the closed set of error kinds.
type Kind int

const (
	KindNotFound Kind = iota
	KindUnauthorized
	KindForbidden
	KindValidation
	KindAuthentication
	KindRateLimited
	KindDatabase
	KindExternalService
	KindCircuitOpen
	KindServiceTimeout
	KindCache
	KindPoolExhausted
	KindConfig
	KindInternal
)

// kindInfo fixes the projection of each kind: machine code, category,
// retryability, and HTTP status.
type kindInfo struct {
	code      string
	category  Category
	retryable bool
	status    int
}

var kinds = map[Kind]kindInfo{
	KindNotFound:        {"REVIEW_NOT_FOUND", CategoryClient, false, http.StatusNotFound},
	KindUnauthorized:    {"UNAUTHORIZED", CategoryClient, false, http.StatusUnauthorized},
	KindForbidden:       {"FORBIDDEN", CategoryClient, false, http.StatusForbidden},
	KindValidation:      {"VALIDATION_ERROR", CategoryClient, false, http.StatusBadRequest},
	KindAuthentication:  {"AUTHENTICATION_ERROR", CategoryClient, false, http.StatusUnauthorized},
	KindRateLimited:     {"RATE_LIMIT_EXCEEDED", CategoryClient, true, http.StatusTooManyRequests},
	KindDatabase:        {"DATABASE_ERROR", CategoryServer, true, http.StatusInternalServerError},
	KindExternalService: {"EXTERNAL_SERVICE_ERROR", CategoryServer, true, http.StatusServiceUnavailable},
	KindCircuitOpen:     {"CIRCUIT_BREAKER_OPEN", CategoryServer, true, http.StatusServiceUnavailable},
	KindServiceTimeout:  {"SERVICE_TIMEOUT", CategoryServer, true, http.StatusGatewayTimeout},
	KindCache:           {"CACHE_ERROR", CategoryServer, true, http.StatusInternalServerError},
	KindPoolExhausted:   {"CONNECTION_POOL_EXHAUSTED", CategoryServer, true, http.StatusServiceUnavailable},
	KindConfig:          {"CONFIG_ERROR", CategoryServer, false, http.StatusInternalServerError},
	KindInternal:        {"INTERNAL_ERROR", CategoryServer, false, http.StatusInternalServerError},
}

// Error is a classified error value. Fields carries kind-specific details
// that end up in the GraphQL extensions map.
type Error struct {
	Kind   Kind
	msg    string
	code   string // overrides the kind's default code when non-empty
	cause  error
	Fields map[string]any
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) info() kindInfo { return kinds[e.Kind] }

// Code returns the stable machine-readable code.
func (e *Error) Code() string {
	if e.code != "" {
		return e.code
	}
	return e.info().code
}

// Category returns CLIENT_ERROR or SERVER_ERROR.
func (e *Error) Category() Category { return e.info().category }

// Retryable reports whether the caller may retry the operation.
func (e *Error) Retryable() bool { return e.info().retryable }

// HTTPStatus returns the REST projection of the error.
func (e *Error) HTTPStatus() int { return e.info().status }

// WithCode overrides the default code for this kind. Used by the auth layer
// to distinguish TOKEN_EXPIRED from INVALID_TOKEN.
func (e *Error) WithCode(code string) *Error {
	e.code = code
	return e
}

// Extensions returns the GraphQL extensions map. graph-gophers picks this
// up from resolver errors automatically.
func (e *Error) Extensions() map[string]any {
	ext := map[string]any{
		"code":      e.Code(),
		"category":  string(e.Category()),
		"retryable": e.Retryable(),
	}
	for k, v := range e.Fields {
		ext[k] = v
	}
	return ext
}

// Log emits the error at its kind-specific level: expected client errors at
// info, auth and availability issues at warn, everything else at error.
func (e *Error) Log(logger *slog.Logger) {
	attrs := []any{"error_code", e.Code()}
	for k, v := range e.Fields {
		attrs = append(attrs, k, v)
	}
	if e.cause != nil {
		attrs = append(attrs, "cause", e.cause.Error())
	}
	switch e.Kind {
	case KindNotFound, KindValidation:
		logger.Info(e.msg, attrs...)
	case KindUnauthorized, KindForbidden, KindAuthentication, KindRateLimited, KindCircuitOpen, KindCache:
		logger.Warn(e.msg, attrs...)
	default:
		logger.Error(e.msg, attrs...)
	}
}

// NotFound reports a missing review.
func NotFound(id uuid.UUID) *Error {
	return &Error{
		Kind:   KindNotFound,
		msg:    fmt.Sprintf("review not found: %s", id),
		Fields: map[string]any{"reviewId": id.String()},
	}
}

// Unauthorized reports an actor touching a review they do not own.
func Unauthorized(actorID, reviewID uuid.UUID) *Error {
	return &Error{
		Kind:   KindUnauthorized,
		msg:    fmt.Sprintf("unauthorized: user %s cannot access review %s", actorID, reviewID),
		Fields: map[string]any{"userId": actorID.String(), "reviewId": reviewID.String()},
	}
}

// Forbidden reports insufficient permissions.
func Forbidden() *Error {
	return &Error{Kind: KindForbidden, msg: "forbidden: insufficient permissions"}
}

// ForbiddenReason reports insufficient permissions with a specific message,
// e.g. naming the missing role.
func ForbiddenReason(msg string) *Error {
	return &Error{Kind: KindForbidden, msg: msg}
}

// Validation reports invalid input.
func Validation(msg string) *Error {
	return &Error{
		Kind:   KindValidation,
		msg:    fmt.Sprintf("validation error: %s", msg),
		Fields: map[string]any{"message": msg},
	}
}

// Authentication reports a failed authentication attempt.
func Authentication(reason string) *Error {
	return &Error{Kind: KindAuthentication, msg: fmt.Sprintf("authentication error: %s", reason)}
}

// RateLimited reports that the actor exceeded their request budget.
func RateLimited(actorID string) *Error {
	return &Error{
		Kind:   KindRateLimited,
		msg:    fmt.Sprintf("rate limit exceeded for user: %s", actorID),
		Fields: map[string]any{"userId": actorID},
	}
}

// Database wraps a store failure.
func Database(cause error) *Error {
	return &Error{Kind: KindDatabase, msg: fmt.Sprintf("database error: %v", cause), cause: cause}
}

// ExternalService reports a failure calling a sibling subgraph.
func ExternalService(service, detail string) *Error {
	return &Error{
		Kind:   KindExternalService,
		msg:    fmt.Sprintf("external service error: %s - %s", service, detail),
		Fields: map[string]any{"service": service, "message": detail},
	}
}

// CircuitOpen reports a short-circuited call.
func CircuitOpen(service string) *Error {
	return &Error{
		Kind:   KindCircuitOpen,
		msg:    fmt.Sprintf("circuit breaker open for service: %s", service),
		Fields: map[string]any{"service": service},
	}
}

// ServiceTimeout reports an outbound call that exceeded its deadline.
func ServiceTimeout(service string) *Error {
	return &Error{
		Kind:   KindServiceTimeout,
		msg:    fmt.Sprintf("service timeout: %s", service),
		Fields: map[string]any{"service": service},
	}
}

// Cache wraps a cache-tier failure. Never surfaced to callers directly.
func Cache(detail string) *Error {
	return &Error{Kind: KindCache, msg: fmt.Sprintf("cache error: %s", detail)}
}

// PoolExhausted reports that no store connection was available.
func PoolExhausted() *Error {
	return &Error{Kind: KindPoolExhausted, msg: "connection pool exhausted"}
}

// Config reports an invalid configuration.
func Config(detail string) *Error {
	return &Error{Kind: KindConfig, msg: fmt.Sprintf("configuration error: %s", detail)}
}

// Internal reports an unclassified server-side failure.
func Internal(detail string) *Error {
	return &Error{Kind: KindInternal, msg: fmt.Sprintf("internal server error: %s", detail)}
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Retryable reports whether err may be retried. Unclassified errors are not.
func Retryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}

// HTTPStatus returns the REST status for err, defaulting to 500 for
// unclassified errors.
func HTTPStatus(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// RESTBody is the JSON error envelope returned by the REST boundary.
type RESTBody struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	Retryable bool   `json:"retryable"`
	Category  string `json:"category"`
}

// ToRESTBody projects err into the REST error envelope.
func ToRESTBody(err error) RESTBody {
	if e, ok := As(err); ok {
		return RESTBody{
			Error:     e.Error(),
			Status:    e.HTTPStatus(),
			Retryable: e.Retryable(),
			Category:  string(e.Category()),
		}
	}
	return RESTBody{
		Error:     err.Error(),
		Status:    http.StatusInternalServerError,
		Retryable: false,
		Category:  string(CategoryServer),
	}
}
