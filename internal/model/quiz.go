package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QuizStatus enumerates the lifecycle states of a quiz.
type QuizStatus string

const (
	QuizStatusDraft     QuizStatus = "DRAFT"
	QuizStatusPublished QuizStatus = "PUBLISHED"
	QuizStatusArchived  QuizStatus = "ARCHIVED"
)

// Quiz represents a proctored quiz attached to a lesson.
type Quiz struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"duration_seconds"`
	QuestionCount   int        `json:"question_count"`
	Status          QuizStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// QuestionType distinguishes objective from open-ended questions.
// Open-ended grading is delegated to an external collaborator.
type QuestionType string

const (
	QuestionTypeMCQ         QuestionType = "mcq"
	QuestionTypeDescriptive QuestionType = "descriptive"
)

// Question is a single quiz question with its answer key.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	QuizID        uuid.UUID       `json:"quiz_id"`
	QuestionText  string          `json:"question_text"`
	QuestionType  QuestionType    `json:"question_type"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectAnswer string          `json:"correct_answer,omitempty"`
	OrderNum      int             `json:"order_num"`
}

// QuestionForTaker is a question stripped of its answer key, safe to send
// to the quiz taker.
type QuestionForTaker struct {
	ID           uuid.UUID       `json:"id"`
	QuestionText string          `json:"question_text"`
	QuestionType QuestionType    `json:"question_type"`
	Options      json.RawMessage `json:"options,omitempty"`
	OrderNum     int             `json:"order_num"`
}

// QuizPaper is the payload handed to a taker with an active session.
type QuizPaper struct {
	QuizID          uuid.UUID          `json:"quiz_id"`
	Title           string             `json:"title"`
	DurationSeconds int                `json:"duration_seconds"`
	Questions       []QuestionForTaker `json:"questions"`
}

// AnswerRequest is the payload for writing a single answer.
type AnswerRequest struct {
	Answer string `json:"answer" binding:"required,max=10000"`
}
