package handler

import (
	"errors"
	"net/http"

	"github.com/coursiva/proctor-backend/internal/middleware"
	"github.com/coursiva/proctor-backend/internal/model"
	"github.com/coursiva/proctor-backend/internal/proctor"
	"github.com/coursiva/proctor-backend/internal/response"
	"github.com/coursiva/proctor-backend/internal/service"
	"github.com/coursiva/proctor-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SessionHandler drives proctored quiz sessions over HTTP. All state
// transitions delegate to the engine; this layer only translates errors.
type SessionHandler struct {
	proctorService *service.ProctorService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(proctorService *service.ProctorService) *SessionHandler {
	return &SessionHandler{proctorService: proctorService}
}

// Start godoc
// POST /api/v1/quizzes/:quiz_id/sessions
// Creates the user's single session for a quiz and enters setup.
func (h *SessionHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	quizID, err := uuid.Parse(c.Param("quiz_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	info, err := h.proctorService.StartSession(c.Request.Context(), claims.UserID, quizID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptExists):
			response.Fail(c, http.StatusConflict, response.ErrAttemptExists)
		case errors.Is(err, service.ErrSessionRunning):
			response.Fail(c, http.StatusConflict, response.ErrSessionRunning)
		case errors.Is(err, service.ErrQuizNotAvailable):
			response.Fail(c, http.StatusNotFound, response.ErrQuizNotAvailable)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": info})
}

// AdvanceGate godoc
// POST /api/v1/sessions/:session_id/gate/advance
// Drives one setup checkpoint: intro, permissions, ready, or start.
func (h *SessionHandler) AdvanceGate(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req service.GateStepRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	reasons, err := h.proctorService.AdvanceGate(sessionID, claims.UserID, req)
	if err != nil {
		h.failGate(c, err)
		return
	}

	state, err := h.proctorService.State(sessionID, claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"state":   state,
		"reasons": reasons,
	})
}

// CancelGate godoc
// POST /api/v1/sessions/:session_id/gate/cancel
// Abandons setup and releases the media stream.
func (h *SessionHandler) CancelGate(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	if err := h.proctorService.CancelGate(sessionID, claims.UserID); err != nil {
		h.failGate(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// State godoc
// GET /api/v1/sessions/:session_id/state
// Returns the live snapshot: gate step, trust score, remaining time.
func (h *SessionHandler) State(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	state, err := h.proctorService.State(sessionID, claims.UserID)
	if err != nil {
		h.failGate(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"state": state})
}

// SetAnswer godoc
// PUT /api/v1/sessions/:session_id/answers/:question_id
// Writes one answer; a rewrite replaces the previous value.
func (h *SessionHandler) SetAnswer(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.proctorService.SetAnswer(sessionID, claims.UserID, questionID, req.Answer); err != nil {
		h.failGate(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// Navigate godoc
// POST /api/v1/sessions/:session_id/navigate
// Moves the current question index.
func (h *SessionHandler) Navigate(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req struct {
		Target int `json:"target"`
	}
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.proctorService.Navigate(sessionID, claims.UserID, req.Target); err != nil {
		h.failGate(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// Submit godoc
// POST /api/v1/sessions/:session_id/submit
// Performs the single manual submission.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	if err := h.proctorService.Submit(sessionID, claims.UserID); err != nil {
		h.failGate(c, err)
		return
	}

	result, err := h.proctorService.Result(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// Result godoc
// GET /api/v1/sessions/:session_id/result
// Returns the final record; serves terminated and completed attempts
// alike, surviving restarts through the durable row.
func (h *SessionHandler) Result(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	result, err := h.proctorService.Result(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrResultNotReady):
			response.Fail(c, http.StatusConflict, response.ErrResultNotReady)
		case errors.Is(err, service.ErrSessionNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		case errors.Is(err, service.ErrNotSessionOwner):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// sessionParams extracts claims and the session ID, failing the request
// on either.
func (h *SessionHandler) sessionParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, sessionID, true
}

// failGate maps engine and registry errors onto API error codes.
func (h *SessionHandler) failGate(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrNotSessionOwner):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, proctor.ErrGateOrder), errors.Is(err, proctor.ErrNotInSetup), errors.Is(err, proctor.ErrAlreadyStarted):
		response.Fail(c, http.StatusConflict, response.ErrSetupOrder)
	case errors.Is(err, proctor.ErrGateFailed):
		response.Fail(c, http.StatusConflict, response.ErrSetupFailed)
	case errors.Is(err, proctor.ErrGateNotReady), errors.Is(err, proctor.ErrGateNoEnvCheck):
		response.Fail(c, http.StatusConflict, response.ErrSetupNotReady)
	case errors.Is(err, proctor.ErrSessionClosed), errors.Is(err, proctor.ErrAlreadySubmitted):
		response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
	case errors.Is(err, proctor.ErrNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
	case errors.Is(err, proctor.ErrUnknownQuestion):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownQuestion)
	case errors.Is(err, proctor.ErrIndexOutOfRange):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionOutOfRange)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
