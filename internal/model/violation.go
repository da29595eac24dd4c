package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationRecord is a proctoring violation as persisted. The live engine
// keeps its own in-memory log; rows land here asynchronously through the
// persistence queue.
type ViolationRecord struct {
	ID         int64     `json:"id"`
	AttemptID  uuid.UUID `json:"attempt_id"`
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Evidence   string    `json:"evidence,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
