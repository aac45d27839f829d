package telemetry

import (
	"log/slog"

	"github.com/google/uuid"
)

// Events emits structured business-event log records. Each record carries an
// "event" field with a stable name so downstream pipelines can filter on it.
type Events struct {
	logger *slog.Logger
}

// NewEvents creates a business-event emitter over the given logger.
func NewEvents(logger *slog.Logger) *Events {
	return &Events{logger: logger}
}

func (e *Events) ReviewCreated(reviewID, offerID, authorID uuid.UUID, rating int) {
	e.logger.Info("review created",
		"event", "review.created",
		"review_id", reviewID,
		"offer_id", offerID,
		"author_id", authorID,
		"rating", rating,
	)
	ReviewsCreatedTotal.Inc()
}

func (e *Events) ReviewUpdated(reviewID, authorID uuid.UUID, oldRating, newRating int) {
	e.logger.Info("review updated",
		"event", "review.updated",
		"review_id", reviewID,
		"author_id", authorID,
		"old_rating", oldRating,
		"new_rating", newRating,
	)
	ReviewsUpdatedTotal.Inc()
}

func (e *Events) ReviewDeleted(reviewID, authorID uuid.UUID) {
	e.logger.Info("review deleted",
		"event", "review.deleted",
		"review_id", reviewID,
		"author_id", authorID,
	)
	ReviewsDeletedTotal.Inc()
}

func (e *Events) ReviewModerated(reviewID, moderatorID uuid.UUID, status string) {
	e.logger.Info("review moderated",
		"event", "review.moderated",
		"review_id", reviewID,
		"moderator_id", moderatorID,
		"status", status,
	)
	ReviewsModeratedTotal.WithLabelValues(status).Inc()
}

func (e *Events) AuthenticationFailed(reason string) {
	e.logger.Warn("authentication failed",
		"event", "auth.failed",
		"reason", reason,
	)
}

func (e *Events) ExternalServiceError(service, detail string, durationMs int64) {
	e.logger.Error("external service error",
		"event", "external.error",
		"service", service,
		"detail", detail,
		"duration_ms", durationMs,
	)
}

func (e *Events) CircuitBreakerOpened(service string) {
	e.logger.Warn("circuit breaker opened",
		"event", "circuit.opened",
		"service", service,
	)
	CircuitBreakerState.WithLabelValues(service).Set(1)
}

func (e *Events) CircuitBreakerClosed(service string) {
	e.logger.Info("circuit breaker closed",
		"event", "circuit.closed",
		"service", service,
	)
	CircuitBreakerState.WithLabelValues(service).Set(0)
}
