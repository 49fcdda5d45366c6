// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bandit

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers contains the HTTP handlers for the bandit service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the X-Request-ID header or generates one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// statusFor maps the service error taxonomy onto HTTP status and code.
//
// Validation failures are 4xx and permanent; only a store outage maps
// to 503, so clients can distinguish "retry later" from "fix the
// request".
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnknownExperiment):
		return http.StatusNotFound, "UNKNOWN_EXPERIMENT"
	case errors.Is(err, ErrExperimentConcluded):
		return http.StatusConflict, "EXPERIMENT_CONCLUDED"
	case errors.Is(err, ErrExperimentExists):
		return http.StatusConflict, "EXPERIMENT_EXISTS"
	case errors.Is(err, ErrUnknownArm):
		return http.StatusBadRequest, "UNKNOWN_ARM"
	case errors.Is(err, ErrDimensionMismatch):
		return http.StatusBadRequest, "DIMENSION_MISMATCH"
	case errors.Is(err, ErrMissingFeatures):
		return http.StatusBadRequest, "MISSING_FEATURES"
	case errors.Is(err, ErrTooFewArms):
		return http.StatusBadRequest, "TOO_FEW_ARMS"
	case errors.Is(err, ErrInvalidReward):
		return http.StatusUnprocessableEntity, "INVALID_REWARD"
	case errors.Is(err, ErrContextualStopping):
		return http.StatusUnprocessableEntity, "CONTEXTUAL_STOPPING"
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// HandleCreateExperiment handles POST /v1/bandit/experiments.
//
// Description:
//
//	Creates an experiment and seeds uniform priors for every arm.
//
// Request Body:
//
//	CreateExperimentRequest
//
// Response:
//
//	201 Created: ExperimentResponse
//	400 Bad Request: Validation error
//	409 Conflict: Experiment id already exists
//	503 Service Unavailable: Posterior store failure
func (h *Handlers) HandleCreateExperiment(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCreateExperiment")

	var req CreateExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.CreateExperiment(c.Request.Context(), req)
	if err != nil {
		logger.Warn("Create experiment failed", "experiment_id", req.ExperimentID, "error", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// HandleListExperiments handles GET /v1/bandit/experiments.
func (h *Handlers) HandleListExperiments(c *gin.Context) {
	resp, err := h.svc.ListExperiments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiments": resp})
}

// HandleGetExperiment handles GET /v1/bandit/experiments/:id.
func (h *Handlers) HandleGetExperiment(c *gin.Context) {
	resp, err := h.svc.GetExperiment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSelect handles POST /v1/bandit/select.
//
// Description:
//
//	Chooses an arm for one request. Read-only on posteriors; a failed
//	select returns an error, never a default arm, so the caller's own
//	fallback policy decides what to serve.
//
// Request Body:
//
//	SelectRequest
//
// Response:
//
//	200 OK: SelectResponse
//	400 Bad Request: Missing/mismatched features
//	404 Not Found: Unknown experiment
//	409 Conflict: Experiment concluded
//	503 Service Unavailable: Posterior store failure
func (h *Handlers) HandleSelect(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSelect")

	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.Select(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Debug("Arm selected",
		"experiment_id", resp.ExperimentID,
		"arm_id", resp.ArmID,
		"decision_id", resp.DecisionID)
	c.JSON(http.StatusOK, resp)
}

// HandleReward handles POST /v1/bandit/reward.
//
// Description:
//
//	Incorporates one observed outcome. Not idempotent: the caller must
//	deliver each outcome at most once.
//
// Request Body:
//
//	RewardRequest
//
// Response:
//
//	200 OK: {"status": "accepted"}
//	400 Bad Request: Unknown arm or feature mismatch
//	404 Not Found: Unknown experiment
//	409 Conflict: Experiment concluded
//	422 Unprocessable Entity: Reward outside expected domain
//	503 Service Unavailable: Posterior store failure
func (h *Handlers) HandleReward(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReward")

	var req RewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.svc.Reward(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// HandleEvaluate handles POST /v1/bandit/experiments/:id/evaluate.
//
// Description:
//
//	Runs the stopping rule. When the threshold is crossed the
//	experiment transitions to concluded in the same call.
//
// Response:
//
//	200 OK: StoppingEvaluation
//	404 Not Found: Unknown experiment
//	422 Unprocessable Entity: Contextual experiment
//	503 Service Unavailable: Posterior store failure
func (h *Handlers) HandleEvaluate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEvaluate")

	resp, err := h.svc.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if resp.Concluded {
		logger.Info("Stopping rule satisfied",
			"experiment_id", resp.ExperimentID,
			"winner_arm", resp.WinnerArm)
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePBest handles GET /v1/bandit/experiments/:id/p_best.
func (h *Handlers) HandlePBest(c *gin.Context) {
	resp, err := h.svc.PBest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSnapshot handles GET /v1/bandit/experiments/:id/snapshot.
func (h *Handlers) HandleSnapshot(c *gin.Context) {
	resp, err := h.svc.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/bandit/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: ServiceVersion})
}

// HandleReady handles GET /v1/bandit/ready.
//
// Readiness requires a reachable posterior store; a store outage
// returns 503 so load balancers stop routing decisions here.
func (h *Handlers) HandleReady(c *gin.Context) {
	count, err := h.svc.ExperimentCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Ready: false})
		return
	}
	c.JSON(http.StatusOK, ReadyResponse{Ready: true, Experiments: count})
}
