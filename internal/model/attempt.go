package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates quiz attempt states as persisted. A row reaches
// at most one of the two terminal states, exactly once.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
	AttemptStatusTerminated AttemptStatus = "TERMINATED"
)

// QuizAttempt is the durable record of one user's single attempt at a quiz.
type QuizAttempt struct {
	ID                uuid.UUID     `json:"id"`
	QuizID            uuid.UUID     `json:"quiz_id"`
	UserID            int           `json:"user_id"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        *time.Time    `json:"finished_at,omitempty"`
	Status            AttemptStatus `json:"status"`
	FinalScore        *int          `json:"final_score,omitempty"`
	TrustScore        int           `json:"trust_score"`
	ViolationCount    int           `json:"violation_count"`
	Terminated        bool          `json:"terminated"`
	TerminationReason *string       `json:"termination_reason,omitempty"`
	MaxScore          int           `json:"max_score"`
	ProctoringEnabled bool          `json:"proctoring_enabled"`
}
