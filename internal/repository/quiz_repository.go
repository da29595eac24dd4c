package repository

import (
	"context"

	"github.com/coursiva/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuizRepository handles quiz data access.
type QuizRepository struct {
	pool *pgxpool.Pool
}

// NewQuizRepository creates a new QuizRepository.
func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

// GetByID retrieves a quiz by ID.
func (r *QuizRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Quiz, error) {
	q := &model.Quiz{}
	err := r.pool.QueryRow(ctx,
		`SELECT q.id, q.title, q.duration_seconds, q.status, q.created_at,
		        (SELECT COUNT(*) FROM questions WHERE quiz_id = q.id) AS question_count
		 FROM quizzes q WHERE q.id = $1`, id,
	).Scan(&q.ID, &q.Title, &q.DurationSeconds, &q.Status, &q.CreatedAt, &q.QuestionCount)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ListPublished retrieves all quizzes currently open to takers.
func (r *QuizRepository) ListPublished(ctx context.Context) ([]model.Quiz, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.title, q.duration_seconds, q.status, q.created_at,
		        (SELECT COUNT(*) FROM questions WHERE quiz_id = q.id) AS question_count
		 FROM quizzes q
		 WHERE q.status = $1
		 ORDER BY q.created_at DESC`, model.QuizStatusPublished,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quizzes []model.Quiz
	for rows.Next() {
		var q model.Quiz
		if err := rows.Scan(&q.ID, &q.Title, &q.DurationSeconds, &q.Status, &q.CreatedAt, &q.QuestionCount); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}
