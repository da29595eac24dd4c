package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coursiva/proctor-backend/internal/model"
	"github.com/coursiva/proctor-backend/internal/proctor"
	"github.com/coursiva/proctor-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrQuizNotAvailable = errors.New("quiz is not available")

// QuizOverview is a quiz row decorated with the caller's attempt, if any.
type QuizOverview struct {
	model.Quiz
	Attempted  bool    `json:"attempted"`
	FinalScore *int    `json:"final_score,omitempty"`
	Terminated bool    `json:"terminated"`
	Reason     *string `json:"termination_reason,omitempty"`
}

// QuizService serves the quiz lobby and assembles session parameters.
type QuizService struct {
	quizzes   *repository.QuizRepository
	questions *repository.QuestionRepository
	attempts  *repository.AttemptRepository
}

// NewQuizService creates a new QuizService.
func NewQuizService(quizzes *repository.QuizRepository, questions *repository.QuestionRepository, attempts *repository.AttemptRepository) *QuizService {
	return &QuizService{quizzes: quizzes, questions: questions, attempts: attempts}
}

// ListForUser returns all published quizzes overlaid with the user's
// attempt state, so the client can show completed quizzes as locked.
func (s *QuizService) ListForUser(ctx context.Context, userID int) ([]QuizOverview, error) {
	quizzes, err := s.quizzes.ListPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}

	attempts, err := s.attempts.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	byQuiz := make(map[uuid.UUID]*model.QuizAttempt, len(attempts))
	for i := range attempts {
		byQuiz[attempts[i].QuizID] = &attempts[i]
	}

	overviews := make([]QuizOverview, 0, len(quizzes))
	for _, q := range quizzes {
		ov := QuizOverview{Quiz: q}
		if a, ok := byQuiz[q.ID]; ok {
			ov.Attempted = true
			ov.FinalScore = a.FinalScore
			ov.Terminated = a.Terminated
			ov.Reason = a.TerminationReason
		}
		overviews = append(overviews, ov)
	}
	return overviews, nil
}

// Paper returns the quiz questions with answer keys stripped.
func (s *QuizService) Paper(ctx context.Context, quizID uuid.UUID) (*model.QuizPaper, error) {
	quiz, err := s.quizzes.GetByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuizNotAvailable
		}
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	if quiz.Status != model.QuizStatusPublished {
		return nil, ErrQuizNotAvailable
	}

	questions, err := s.questions.ListByQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	paper := &model.QuizPaper{
		QuizID:          quiz.ID,
		Title:           quiz.Title,
		DurationSeconds: quiz.DurationSeconds,
		Questions:       make([]model.QuestionForTaker, 0, len(questions)),
	}
	for _, q := range questions {
		paper.Questions = append(paper.Questions, model.QuestionForTaker{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			QuestionType: q.QuestionType,
			Options:      q.Options,
			OrderNum:     q.OrderNum,
		})
	}
	return paper, nil
}

// SessionConfig assembles the engine configuration for a quiz: the
// countdown and the answer key. Descriptive questions keep an empty key,
// which the objective scorer skips.
func (s *QuizService) SessionConfig(ctx context.Context, quizID uuid.UUID) (proctor.Config, error) {
	quiz, err := s.quizzes.GetByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return proctor.Config{}, ErrQuizNotAvailable
		}
		return proctor.Config{}, fmt.Errorf("get quiz: %w", err)
	}
	if quiz.Status != model.QuizStatusPublished {
		return proctor.Config{}, ErrQuizNotAvailable
	}

	questions, err := s.questions.ListByQuiz(ctx, quizID)
	if err != nil {
		return proctor.Config{}, fmt.Errorf("list questions: %w", err)
	}

	cfg := proctor.DefaultConfig()
	if quiz.DurationSeconds > 0 {
		cfg.Duration = time.Duration(quiz.DurationSeconds) * time.Second
	}
	cfg.QuestionOrder = make([]uuid.UUID, 0, len(questions))
	cfg.AnswerKey = make(map[uuid.UUID]string, len(questions))
	for _, q := range questions {
		cfg.QuestionOrder = append(cfg.QuestionOrder, q.ID)
		if q.QuestionType == model.QuestionTypeMCQ {
			cfg.AnswerKey[q.ID] = q.CorrectAnswer
		} else {
			cfg.AnswerKey[q.ID] = ""
		}
	}
	return cfg, nil
}
