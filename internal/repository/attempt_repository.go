package repository

import (
	"context"
	"errors"
	"time"

	"github.com/coursiva/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrDuplicateAttempt = errors.New("an attempt for this quiz already exists")

// AttemptRepository handles quiz attempt data access. The unique
// (quiz_id, user_id) constraint is the durable half of the one-attempt
// rule; the in-memory session registry is the other.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new in-progress attempt row. A duplicate for the same
// quiz and user returns ErrDuplicateAttempt.
func (r *AttemptRepository) Create(ctx context.Context, a *model.QuizAttempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO quiz_attempts (id, quiz_id, user_id, status, trust_score, max_score, proctoring_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING started_at`,
		a.ID, a.QuizID, a.UserID, model.AttemptStatusInProgress, a.TrustScore, a.MaxScore, a.ProctoringEnabled,
	).Scan(&a.StartedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAttempt
		}
		return err
	}
	return nil
}

// GetByID retrieves an attempt by its ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.QuizAttempt, error) {
	a := &model.QuizAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, quiz_id, user_id, started_at, finished_at, status, final_score,
		        trust_score, violation_count, terminated, termination_reason, max_score, proctoring_enabled
		 FROM quiz_attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.QuizID, &a.UserID, &a.StartedAt, &a.FinishedAt, &a.Status, &a.FinalScore,
		&a.TrustScore, &a.ViolationCount, &a.Terminated, &a.TerminationReason, &a.MaxScore, &a.ProctoringEnabled)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByQuizAndUser retrieves the attempt for a quiz-user combination, or
// pgx.ErrNoRows when the user has never attempted the quiz.
func (r *AttemptRepository) GetByQuizAndUser(ctx context.Context, quizID uuid.UUID, userID int) (*model.QuizAttempt, error) {
	a := &model.QuizAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, quiz_id, user_id, started_at, finished_at, status, final_score,
		        trust_score, violation_count, terminated, termination_reason, max_score, proctoring_enabled
		 FROM quiz_attempts
		 WHERE quiz_id = $1 AND user_id = $2`, quizID, userID,
	).Scan(&a.ID, &a.QuizID, &a.UserID, &a.StartedAt, &a.FinishedAt, &a.Status, &a.FinalScore,
		&a.TrustScore, &a.ViolationCount, &a.Terminated, &a.TerminationReason, &a.MaxScore, &a.ProctoringEnabled)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteUnstarted removes an attempt whose quiz never began, freeing the
// user's single-attempt slot. The status guard keeps finalized rows safe.
func (r *AttemptRepository) DeleteUnstarted(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM quiz_attempts WHERE id = $1 AND status = $2`,
		id, model.AttemptStatusInProgress)
	return err
}

// Finalize writes the terminal state of an attempt. The status guard makes
// the write idempotent: a second finalize for the same attempt matches no
// rows and is reported as pgx.ErrNoRows.
func (r *AttemptRepository) Finalize(ctx context.Context, id uuid.UUID, status model.AttemptStatus, score, trustScore, violationCount int, reason *string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quiz_attempts
		 SET status = $1, final_score = $2, trust_score = $3, violation_count = $4,
		     terminated = $5, termination_reason = $6, finished_at = $7
		 WHERE id = $8 AND status = $9`,
		status, score, trustScore, violationCount,
		status == model.AttemptStatusTerminated, reason, time.Now(),
		id, model.AttemptStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListByUser retrieves all attempts for a given user, newest first.
func (r *AttemptRepository) ListByUser(ctx context.Context, userID int) ([]model.QuizAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, quiz_id, user_id, started_at, finished_at, status, final_score,
		        trust_score, violation_count, terminated, termination_reason, max_score, proctoring_enabled
		 FROM quiz_attempts
		 WHERE user_id = $1
		 ORDER BY started_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.QuizAttempt
	for rows.Next() {
		var a model.QuizAttempt
		if err := rows.Scan(&a.ID, &a.QuizID, &a.UserID, &a.StartedAt, &a.FinishedAt, &a.Status, &a.FinalScore,
			&a.TrustScore, &a.ViolationCount, &a.Terminated, &a.TerminationReason, &a.MaxScore, &a.ProctoringEnabled); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
