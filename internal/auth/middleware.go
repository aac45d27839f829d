package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/drivehub/ugc/internal/errs"
)

// anonymousAllowed reports whether the path may be served without
// credentials. The GraphQL endpoint is
// public at the transport level; individual resolvers enforce their own
// guards.
func anonymousAllowed(path string) bool {
	switch path {
	case "/health", "/ready", "/metrics", "/graphql":
		return true
	}
	return false
}

// Middleware authenticates requests from the Authorization header and stores
// the resulting UserContext in the request context. Requests without valid
// credentials are downgraded to anonymous on allowlisted paths and rejected
// with 401 everywhere else.
func Middleware(validator *Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")

			var user UserContext
			if header == "" {
				user = Anonymous()
				if !anonymousAllowed(r.URL.Path) {
					writeAuthError(w, errs.Authentication("missing authorization header").WithCode("INVALID_TOKEN"))
					return
				}
			} else {
				var err error
				user, err = validator.ValidateAuthHeader(header)
				if err != nil {
					if e, ok := errs.As(err); ok {
						e.Log(logger)
					}
					if anonymousAllowed(r.URL.Path) {
						user = Anonymous()
					} else {
						writeAuthError(w, err)
						return
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), user)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errs.HTTPStatus(err))

	body := map[string]any{"error": err.Error()}
	if e, ok := errs.As(err); ok {
		body["code"] = e.Code()
	}
	_ = json.NewEncoder(w).Encode(body)
}
