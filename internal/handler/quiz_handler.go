package handler

import (
	"errors"
	"net/http"

	"github.com/coursiva/proctor-backend/internal/middleware"
	"github.com/coursiva/proctor-backend/internal/response"
	"github.com/coursiva/proctor-backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// QuizHandler serves the quiz lobby.
type QuizHandler struct {
	quizService *service.QuizService
}

// NewQuizHandler creates a new QuizHandler.
func NewQuizHandler(quizService *service.QuizService) *QuizHandler {
	return &QuizHandler{quizService: quizService}
}

// List godoc
// GET /api/v1/quizzes
// Returns all published quizzes with the caller's attempt state.
func (h *QuizHandler) List(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	quizzes, err := h.quizService.ListForUser(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"quizzes": quizzes})
}

// Paper godoc
// GET /api/v1/quizzes/:quiz_id/paper
// Returns the quiz questions without answer keys.
func (h *QuizHandler) Paper(c *gin.Context) {
	quizID, err := uuid.Parse(c.Param("quiz_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.quizService.Paper(c.Request.Context(), quizID)
	if err != nil {
		if errors.Is(err, service.ErrQuizNotAvailable) {
			response.Fail(c, http.StatusNotFound, response.ErrQuizNotAvailable)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"paper": paper})
}
