package websocket

import "github.com/coursiva/proctor-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionObservation      Action = "observation"
	ActionSetupObservation Action = "setup_observation"
	ActionFocusLost        Action = "focus_lost"
	ActionPing             Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ObservationRequest carries one in-browser inference result while the
// session is active.
type ObservationRequest struct {
	Action      Action            `json:"action"`
	Observation model.Observation `json:"observation"`
}

// SetupObservationRequest carries one environment sample during the
// setup gate.
type SetupObservationRequest struct {
	Action      Action                 `json:"action"`
	Observation model.SetupObservation `json:"observation"`
}

// FocusLostRequest reports that the quiz tab lost focus.
type FocusLostRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState       Event = "state"
	EventEnvironment Event = "environment"
	EventResult      Event = "result"
	EventError       Event = "error"
	EventPong        Event = "pong"
)

// StateResponse pushes the live session snapshot: trust score, violation
// count, remaining time, gate step.
type StateResponse struct {
	Event Event       `json:"event"`
	State interface{} `json:"state"`
}

// EnvironmentResponse answers a setup observation with the recomputed
// environment predicate.
type EnvironmentResponse struct {
	Event  Event       `json:"event"`
	Result interface{} `json:"result"`
}

// ResultResponse pushes the final record once the session ends.
type ResultResponse struct {
	Event  Event       `json:"event"`
	Result interface{} `json:"result"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
