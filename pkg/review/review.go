// Package review implements the user-generated-content domain: reviews,
// per-offer rating aggregates, and the orchestration around them.
package review

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ModerationStatus is the editorial state of a review. Only approved reviews
// contribute to rating aggregates.
type ModerationStatus string

const (
	StatusPending  ModerationStatus = "pending"
	StatusApproved ModerationStatus = "approved"
	StatusRejected ModerationStatus = "rejected"
	StatusFlagged  ModerationStatus = "flagged"
)

// ParseModerationStatus converts a wire value into a ModerationStatus.
func ParseModerationStatus(s string) (ModerationStatus, error) {
	switch ModerationStatus(strings.ToLower(s)) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	case StatusFlagged:
		return StatusFlagged, nil
	}
	return "", fmt.Errorf("unknown moderation status %q", s)
}

// Review is the unit of user-generated content.
type Review struct {
	ID          uuid.UUID        `json:"id"`
	OfferID     uuid.UUID        `json:"offer_id"`
	AuthorID    uuid.UUID        `json:"author_id"`
	Rating      int              `json:"rating"`
	Text        string           `json:"text"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	IsModerated bool             `json:"is_moderated"`
	Status      ModerationStatus `json:"moderation_status"`
}

// OfferRating is the per-offer aggregate derived from approved reviews.
// Distribution maps rating value ("1".."5") to count.
type OfferRating struct {
	OfferID       uuid.UUID      `json:"offer_id"`
	AverageRating float64        `json:"average_rating"`
	ReviewsCount  int            `json:"reviews_count"`
	Distribution  map[string]int `json:"rating_distribution"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

const (
	minTextLen = 1
	maxTextLen = 5000
)

// CreateInput is the payload for creating a review.
type CreateInput struct {
	OfferID uuid.UUID
	Rating  int
	Text    string
}

// Validate enforces the review invariants on creation.
func (in CreateInput) Validate() error {
	if in.OfferID == uuid.Nil {
		return fmt.Errorf("offer id is required")
	}
	if in.Rating < 1 || in.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5")
	}
	trimmed := strings.TrimSpace(in.Text)
	if len(trimmed) < minTextLen {
		return fmt.Errorf("text must not be empty")
	}
	if len(trimmed) > maxTextLen {
		return fmt.Errorf("text must be at most %d characters", maxTextLen)
	}
	return nil
}

// UpdateInput is the patch applied to an existing review. Nil fields are
// left unchanged.
type UpdateInput struct {
	Rating *int
	Text   *string
}

// Validate enforces the review invariants on the patched fields.
func (in UpdateInput) Validate() error {
	if in.Rating != nil && (*in.Rating < 1 || *in.Rating > 5) {
		return fmt.Errorf("rating must be between 1 and 5")
	}
	if in.Text != nil {
		trimmed := strings.TrimSpace(*in.Text)
		if len(trimmed) < minTextLen {
			return fmt.Errorf("text must not be empty")
		}
		if len(trimmed) > maxTextLen {
			return fmt.Errorf("text must be at most %d characters", maxTextLen)
		}
	}
	return nil
}

// Filter is an optional conjunction of review predicates.
type Filter struct {
	OfferID       *uuid.UUID
	AuthorID      *uuid.UUID
	MinRating     *int
	MaxRating     *int
	ModeratedOnly *bool
	Status        *ModerationStatus
}
