// Package http implements the REST API for the proctoring service.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/proctorhub/proctoring-service/internal/application/command"
	"github.com/proctorhub/proctoring-service/internal/application/query"
	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    "Proctoring Service API",
		"version": "v1",
		"endpoints": map[string]string{
			"health":        "/health",
			"attempts":      "/api/v1/attempts",
			"summary":       "/api/v1/attempts/{code}/summary",
			"prerequisites": "/api/v1/exams/{exam_id}/prerequisites",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	// Default health response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": s.Uptime().String(),
	})
}

// handleReady reports readiness. Unhealthy dependencies fail readiness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.handleHealth(w, r)
}

// handleLive reports liveness only.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": s.Uptime().String(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

type createAttemptRequest struct {
	ExamID            string `json:"exam_id"`
	UserID            string `json:"user_id"`
	TakingAsProctored bool   `json:"taking_as_proctored"`
}

// handleCreateAttempt opens the learner's attempt slot on an exam.
func (s *Server) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	var req createAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}

	result, err := s.deps.CreateAttemptHandler.Handle(r.Context(), command.CreateExamAttemptCommand{
		ExamID:            exam.ID(req.ExamID),
		UserID:            exam.UserID(req.UserID),
		TakingAsProctored: req.TakingAsProctored,
		CorrelationID:     getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"attempt_id":   result.AttemptID,
		"attempt_code": result.AttemptCode,
		"status":       result.Status.String(),
		"resumed_from": result.ResumedFrom,
	})
}

// handleGetSummary serves the status poll.
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.SummaryHandler.Handle(r.Context(), query.GetAttemptStatusSummaryQuery{
		AttemptCode: r.PathValue("code"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleStartAttempt starts the attempt clock. Keyed by attempt code:
// starting is the one transition the exam client itself drives.
func (s *Server) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, err := s.deps.AttemptActions.StartAttemptByCode(r.Context(), r.PathValue("code"), "client")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"attempt_id": attemptID})
}

// handleStopAttempt moves the attempt to ready_to_submit.
func (s *Server) handleStopAttempt(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, s.deps.AttemptActions.StopAttempt)
}

// handleSubmitAttempt submits the attempt.
func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, s.deps.AttemptActions.SubmitAttempt)
}

// handleMarkError marks the attempt's proctoring session as broken.
func (s *Server) handleMarkError(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, s.deps.AttemptActions.MarkError)
}

// handleAcknowledge records that the learner has seen a completed status.
func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.AttemptActions.AcknowledgeStatus(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

// handleCheckPrerequisites evaluates the prerequisites gate for an exam.
func (s *Server) handleCheckPrerequisites(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	result, err := s.deps.PrerequisitesHandler.Handle(r.Context(), query.CheckPrerequisitesQuery{
		ExamID: exam.ID(r.PathValue("exam_id")),
		UserID: exam.UserID(userID),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// STAFF ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

type updateStatusRequest struct {
	Status         string `json:"status"`
	AttributableTo string `json:"attributable_to"`
}

// handleUpdateStatus applies an arbitrary legal transition. Used by the
// vendor review callback plumbing and staff tooling.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}

	result, err := s.deps.StatusHandler.Handle(r.Context(), command.UpdateAttemptStatusCommand{
		AttemptID:      r.PathValue("id"),
		ToStatus:       attempt.Status(req.Status),
		CascadeEffects: true,
		AttributableTo: req.AttributableTo,
		CorrelationID:  getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attempt_id":    result.AttemptID,
		"from":          result.FromStatus.String(),
		"to":            result.ToStatus.String(),
		"applied":       result.Applied,
		"authoritative": result.Authoritative,
		"cascaded_to":   result.CascadedAttemptIDs,
	})
}

// handleReadyToResume clears an errored attempt for resumption.
func (s *Server) handleReadyToResume(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, s.deps.AttemptActions.MarkReadyToResume)
}

// handleRemoveAttempt hard-deletes an attempt and unwinds its side effects.
func (s *Server) handleRemoveAttempt(w http.ResponseWriter, r *http.Request) {
	err := s.deps.RemoveAttemptHandler.Handle(r.Context(), command.RemoveExamAttemptCommand{
		AttemptID:     r.PathValue("id"),
		RequestedBy:   "staff-api",
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

type resetPracticeRequest struct {
	UserID string `json:"user_id"`
}

// handleResetPractice wipes a learner's attempts on a practice exam.
func (s *Server) handleResetPractice(w http.ResponseWriter, r *http.Request) {
	var req resetPracticeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}

	removed, err := s.deps.ResetPracticeHandler.Handle(r.Context(), command.ResetPracticeExamCommand{
		ExamID:      exam.ID(r.PathValue("exam_id")),
		UserID:      exam.UserID(req.UserID),
		RequestedBy: "staff-api",
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleListActiveSessions lists the exams being taken right now.
func (s *Server) handleListActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Sessions.ListActive(r.Context())
	if err != nil {
		s.logger.Error("failed to list active sessions", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "failed to list active sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// runAction runs an AttemptActions method keyed by the path's attempt ID.
func (s *Server) runAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, attemptID, attributableTo string) error) {
	if err := action(r.Context(), r.PathValue("id"), "client"); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeDomainError maps domain errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsAlreadyExists(err):
		writeJSONError(w, http.StatusConflict, "already_exists", err.Error())
	case shared.IsIllegalTransition(err):
		writeJSONError(w, http.StatusConflict, "illegal_transition", err.Error())
	case shared.IsOptimisticLock(err):
		writeJSONError(w, http.StatusConflict, "concurrent_modification", err.Error())
	case shared.IsPermissionDenied(err):
		writeJSONError(w, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, shared.ErrPastDue):
		writeJSONError(w, http.StatusForbidden, "past_due", err.Error())
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	case shared.IsExternalService(err):
		writeJSONError(w, http.StatusBadGateway, "upstream_error", "an upstream dependency failed")
	default:
		s.logger.Error("unhandled error in http handler",
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
			logger.String("error", err.Error()),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
