// Package proctor implements the quiz integrity engine: environment setup
// gate, behavioral signal classification, violation debouncing with trust
// scoring, termination policy, and the session state machine that ties them
// to the countdown timer and the single submission path.
package proctor

import "time"

// ViolationType enumerates the integrity breaches the engine recognizes.
type ViolationType string

const (
	ViolationNoFace        ViolationType = "no_face"
	ViolationMultipleFaces ViolationType = "multiple_faces"
	ViolationLookingAway   ViolationType = "looking_away"
	ViolationEyeMovement   ViolationType = "suspicious_eye_movement"
	ViolationPhoneDetected ViolationType = "phone_detected"
	ViolationAudioDetected ViolationType = "audio_detected"
	ViolationTabSwitch     ViolationType = "tab_switch"
)

// Severity maps each violation to a fixed trust score penalty.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Penalty returns the trust score deduction for this severity.
func (s Severity) Penalty() int {
	switch s {
	case SeverityLow:
		return 2
	case SeverityMedium:
		return 5
	case SeverityHigh:
		return 15
	case SeverityCritical:
		return 30
	default:
		return 0
	}
}

// Candidate is a provisional violation produced by the classifier (or the
// synthetic tab-switch path) before debounce acceptance.
type Candidate struct {
	Type     ViolationType
	Severity Severity
	Evidence string
}

// Violation is an accepted, logged integrity breach. Immutable after
// creation; only ever appended to a session's log.
type Violation struct {
	Type      ViolationType `json:"type"`
	Severity  Severity      `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
	Evidence  string        `json:"evidence,omitempty"`
}

// GazeState is the attention label derived alongside classification.
// Consumed by the caller for display only; it never affects scoring.
type GazeState string

const (
	GazeFocused       GazeState = "focused"
	GazeLookingAway   GazeState = "looking_away"
	GazeScanning      GazeState = "scanning"
	GazeNoFace        GazeState = "no_face"
	GazeMultipleFaces GazeState = "multiple_faces"
)
