package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drivehub/ugc/internal/httpserver"
)

// Handler exposes the migration management API.
type Handler struct {
	flags     *Flags
	abTests   *ABTests
	canary    *Canary
	rollbacks *Rollbacks
	monitor   *Monitor
	logger    *slog.Logger
}

// NewHandler creates the management handler.
func NewHandler(flags *Flags, abTests *ABTests, canary *Canary, rollbacks *Rollbacks, monitor *Monitor, logger *slog.Logger) *Handler {
	return &Handler{
		flags:     flags,
		abTests:   abTests,
		canary:    canary,
		rollbacks: rollbacks,
		monitor:   monitor,
		logger:    logger,
	}
}

// Routes returns the /api/migration router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/flags", h.handleListFlags)
	r.Post("/flags", h.handleCreateFlag)
	r.Route("/flags/{name}", func(r chi.Router) {
		r.Get("/", h.handleGetFlag)
		r.Put("/", h.handleUpdateFlag)
		r.Delete("/", h.handleDisableFlag)
		r.Post("/enable", h.handleEnableFlag)
		r.Post("/disable", h.handleDisableFlag)
		r.Put("/rollout", h.handleSetRollout)
		r.Post("/users/{userID}/enable", h.handleWhitelistUser)
		r.Post("/users/{userID}/disable", h.handleBlacklistUser)
	})

	r.Get("/ab-tests", h.handleListABTests)
	r.Post("/ab-tests", h.handleCreateABTest)
	r.Get("/ab-tests/{test}", h.handleGetABTest)
	r.Get("/ab-tests/{test}/assign/{userID}", h.handleAssignVariant)
	r.Post("/ab-tests/{test}/track", h.handleTrackConversion)

	r.Post("/canary/{name}/start", h.handleStartCanary)
	r.Post("/canary/{name}/promote", h.handlePromoteCanary)
	r.Post("/canary/{name}/rollback", h.handleRollbackCanary)

	r.Post("/emergency/rollback", h.handleEmergencyRollback)
	r.Post("/emergency/disable-all", h.handleDisableAll)

	r.Get("/status", h.handleStatus)
	r.Get("/metrics", h.handleMetrics)
	r.Get("/health", h.handleHealth)

	return r
}

func (h *Handler) handleListFlags(w http.ResponseWriter, r *http.Request) {
	flags := h.flags.List()
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"flags": flags,
		"total": len(flags),
	})
}

func (h *Handler) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	flag, ok := h.flags.Get(name)
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", fmt.Sprintf("feature flag %q not found", name))
		return
	}
	httpserver.Respond(w, http.StatusOK, flag)
}

// CreateFlagRequest is the payload for creating or replacing a flag.
type CreateFlagRequest struct {
	Name              string      `json:"name" validate:"required"`
	Enabled           bool        `json:"enabled"`
	RolloutPercentage float64     `json:"rollout_percentage" validate:"gte=0,lte=100"`
	Whitelist         []string    `json:"user_whitelist"`
	Blacklist         []string    `json:"user_blacklist"`
	Conditions        []Condition `json:"conditions"`
	Description       string      `json:"description"`
}

func (h *Handler) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var req CreateFlagRequest
	if !httpserver.DecodeAndValidate(w, r, h.logger, &req) {
		return
	}

	h.flags.Update(r.Context(), req.Name, Flag{
		Name:              req.Name,
		Enabled:           req.Enabled,
		RolloutPercentage: req.RolloutPercentage,
		Whitelist:         req.Whitelist,
		Blacklist:         req.Blacklist,
		Conditions:        req.Conditions,
		Description:       req.Description,
	})

	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": fmt.Sprintf("feature flag %q created", req.Name),
	})
}

func (h *Handler) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var flag Flag
	if !httpserver.DecodeAndValidate(w, r, h.logger, &flag) {
		return
	}

	h.flags.Update(r.Context(), name, flag)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("feature flag %q updated", name),
	})
}

func (h *Handler) handleEnableFlag(w http.ResponseWriter, r *http.Request) {
	h.toggleFlag(w, r, true)
}

// handleDisableFlag also serves DELETE: flags are disabled, never deleted.
func (h *Handler) handleDisableFlag(w http.ResponseWriter, r *http.Request) {
	h.toggleFlag(w, r, false)
}

func (h *Handler) toggleFlag(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := chi.URLParam(r, "name")
	if err := h.flags.SetEnabled(r.Context(), name, enabled); err != nil {
		h.respondFlagError(w, err)
		return
	}
	if !enabled {
		if err := h.flags.SetRollout(r.Context(), name, 0); err != nil {
			h.respondFlagError(w, err)
			return
		}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("feature flag %q enabled=%t", name, enabled),
	})
}

// RolloutRequest sets a flag's rollout percentage.
type RolloutRequest struct {
	Percentage float64 `json:"percentage" validate:"gte=0,lte=100"`
}

func (h *Handler) handleSetRollout(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req RolloutRequest
	if !httpserver.DecodeAndValidate(w, r, h.logger, &req) {
		return
	}

	if err := h.flags.SetRollout(r.Context(), name, req.Percentage); err != nil {
		h.respondFlagError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("rollout percentage set to %.1f%%", req.Percentage),
	})
}

func (h *Handler) handleWhitelistUser(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	userID := chi.URLParam(r, "userID")
	if err := h.flags.WhitelistUser(r.Context(), name, userID); err != nil {
		h.respondFlagError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("flag %q enabled for user %q", name, userID),
	})
}

func (h *Handler) handleBlacklistUser(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	userID := chi.URLParam(r, "userID")
	if err := h.flags.BlacklistUser(r.Context(), name, userID); err != nil {
		h.respondFlagError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("flag %q disabled for user %q", name, userID),
	})
}

func (h *Handler) handleListABTests(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]any{"tests": h.abTests.List()})
}

// CreateABTestRequest declares a new experiment.
type CreateABTestRequest struct {
	Name              string  `json:"name" validate:"required"`
	Description       string  `json:"description"`
	TrafficPercentage float64 `json:"traffic_percentage" validate:"gte=0,lte=100"`
}

func (h *Handler) handleCreateABTest(w http.ResponseWriter, r *http.Request) {
	var req CreateABTestRequest
	if !httpserver.DecodeAndValidate(w, r, h.logger, &req) {
		return
	}

	flagName := h.abTests.Create(r.Context(), req.Name, req.Description, req.TrafficPercentage)
	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"success":   true,
		"test_name": req.Name,
		"flag_name": flagName,
	})
}

func (h *Handler) handleGetABTest(w http.ResponseWriter, r *http.Request) {
	test := chi.URLParam(r, "test")
	flag, ok := h.flags.Get(abTestFlagName(test))
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", fmt.Sprintf("A/B test %q not found", test))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"test_name":          test,
		"flag_name":          flag.Name,
		"enabled":            flag.Enabled,
		"traffic_percentage": flag.RolloutPercentage,
		"description":        flag.Description,
	})
}

func (h *Handler) handleAssignVariant(w http.ResponseWriter, r *http.Request) {
	test := chi.URLParam(r, "test")
	userID := chi.URLParam(r, "userID")
	variant := h.abTests.AssignVariant(r.Context(), test, userID)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"test_name": test,
		"user_id":   userID,
		"variant":   variant,
	})
}

// TrackConversionRequest records a conversion event.
type TrackConversionRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Event  string `json:"event" validate:"required"`
}

func (h *Handler) handleTrackConversion(w http.ResponseWriter, r *http.Request) {
	test := chi.URLParam(r, "test")
	var req TrackConversionRequest
	if !httpserver.DecodeAndValidate(w, r, h.logger, &req) {
		return
	}

	h.abTests.TrackConversion(r.Context(), test, req.UserID, req.Event)
	httpserver.Respond(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleStartCanary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.canary.Start(r.Context(), name); err != nil {
		h.respondFlagError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("canary started for flag %q", name),
	})
}

// PromoteCanaryRequest raises a canary's rollout target.
type PromoteCanaryRequest struct {
	TargetPercentage float64 `json:"target_percentage" validate:"gt=0,lte=100"`
}

func (h *Handler) handlePromoteCanary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req PromoteCanaryRequest
	if !httpserver.DecodeAndValidate(w, r, h.logger, &req) {
		return
	}

	flag, ok := h.flags.Get(name)
	if !ok {
		h.respondFlagError(w, fmt.Errorf("%w: %s", ErrFlagNotFound, name))
		return
	}
	if req.TargetPercentage <= flag.RolloutPercentage {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request",
			fmt.Sprintf("target percentage must be higher than current %.1f%%", flag.RolloutPercentage))
		return
	}

	// Promotion dwells between steps; run it detached from the request.
	go func() {
		ctx := context.WithoutCancel(r.Context())
		if err := h.canary.Promote(ctx, name, req.TargetPercentage); err != nil {
			h.logger.Error("canary promotion failed", "flag", name, "error", err)
		}
	}()

	httpserver.Respond(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": fmt.Sprintf("canary promotion to %.1f%% started", req.TargetPercentage),
	})
}

func (h *Handler) handleRollbackCanary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.canary.Rollback(r.Context(), name); err != nil {
		h.respondFlagError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("canary rolled back for flag %q", name),
	})
}

// EmergencyRollbackRequest names the reason for the audit trail.
type EmergencyRollbackRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleEmergencyRollback(w http.ResponseWriter, r *http.Request) {
	var req EmergencyRollbackRequest
	if !httpserver.DecodeAndValidate(w, r, h.logger, &req) {
		return
	}

	affected := h.rollbacks.Emergency(r.Context(), req.Reason)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"success":        true,
		"disabled_flags": affected,
	})
}

func (h *Handler) handleDisableAll(w http.ResponseWriter, r *http.Request) {
	disabled := 0
	for _, flag := range h.flags.List() {
		if !flag.Enabled {
			continue
		}
		flag.Enabled = false
		flag.RolloutPercentage = 0
		h.flags.Update(r.Context(), flag.Name, flag)
		disabled++
	}

	h.logger.Warn("all feature flags disabled", "count", disabled)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"success":        true,
		"disabled_flags": disabled,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, h.monitor.Status())
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, h.monitor.Metrics(r.Context()))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := len(h.flags.List()) > 0
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	httpserver.Respond(w, code, map[string]any{"status": status})
}

func (h *Handler) respondFlagError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrFlagNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
}
