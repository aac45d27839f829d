package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/drivehub/ugc/internal/errs"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope for transport-level
// failures that never reach the error taxonomy.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, err string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   err,
		Message: message,
	})
}

// RespondAppError projects a taxonomy error onto the REST boundary: status
// from the error kind, body {error, status, retryable, category}. The error
// is logged at its kind-specific level.
func RespondAppError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if e, ok := errs.As(err); ok {
		e.Log(logger)
		Respond(w, e.HTTPStatus(), errs.ToRESTBody(e))
		return
	}
	logger.Error("unclassified error at REST boundary", "error", err)
	Respond(w, http.StatusInternalServerError, errs.ToRESTBody(err))
}
