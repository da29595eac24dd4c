package proctor

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/coursiva/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status enumerates session states. Transitions are one-directional:
// Created → Setup → Active → Terminated | Completed.
type Status string

const (
	StatusCreated    Status = "created"
	StatusSetup      Status = "setup"
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
	StatusCompleted  Status = "completed"
)

// Session errors.
var (
	ErrNotInSetup       = errors.New("session is not in setup")
	ErrNotActive        = errors.New("session is not active")
	ErrSessionClosed    = errors.New("session has reached a terminal state")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrUnknownQuestion  = errors.New("question does not belong to this quiz")
	ErrIndexOutOfRange  = errors.New("question index out of range")
	ErrAlreadySubmitted = errors.New("session already submitted")
)

// Recorder is the persistence collaborator as seen by the engine. Both
// calls are non-blocking relative to the session state machine: in-memory
// state mutates first, reporting happens afterwards and its failures never
// propagate back.
type Recorder interface {
	// RecordViolation reports an accepted violation. Best-effort.
	RecordViolation(sessionID uuid.UUID, v Violation)
	// FinalizeAttempt records the final result. Attempted exactly once
	// per session.
	FinalizeAttempt(sessionID uuid.UUID, r Result)
}

// Result is the final record of a session.
type Result struct {
	Score             int         `json:"score"`
	TrustScore        int         `json:"trust_score"`
	Violations        []Violation `json:"violations"`
	TerminatedReason  string      `json:"terminated_reason,omitempty"`
	Completed         bool        `json:"completed"`
	AnsweredQuestions int         `json:"answered_questions"`
}

// Config carries the per-quiz parameters of a session.
type Config struct {
	Duration   time.Duration
	Classifier ClassifierConfig
	Gate       GateConfig

	// Questions in presentation order with their answer keys. Descriptive
	// questions have an empty key and never count as correct here; their
	// grading belongs to the external scoring collaborator.
	QuestionOrder []uuid.UUID
	AnswerKey     map[uuid.UUID]string
}

// DefaultConfig returns a session config with the standard fifteen-minute
// countdown and production calibration.
func DefaultConfig() Config {
	return Config{
		Duration:   900 * time.Second,
		Classifier: DefaultClassifierConfig(),
		Gate:       DefaultGateConfig(),
	}
}

// Session owns one user's attempt at one quiz: the setup gate, the
// countdown, the violation ledger, answer collection, and the single
// submission path. All entry points serialize on one mutex so that the
// fast and slow sampling cadences, the timer, and focus-loss events never
// interleave two evaluations (single-writer discipline per session).
type Session struct {
	mu sync.Mutex

	id     uuid.UUID
	quizID uuid.UUID
	userID int

	cfg        Config
	status     Status
	gate       *Gate
	classifier *Classifier
	ledger     *Ledger

	media      MediaStream
	startedAt  time.Time
	deadline   time.Time
	answers    map[uuid.UUID]string
	current    int
	questions  map[uuid.UUID]bool
	submitted  bool
	result     *Result
	terminated string

	recorder Recorder
	log      zerolog.Logger
	now      func() time.Time
}

// NewSession creates a session in the Created state.
func NewSession(id, quizID uuid.UUID, userID int, cfg Config, recorder Recorder, log zerolog.Logger) *Session {
	questions := make(map[uuid.UUID]bool, len(cfg.QuestionOrder))
	for _, qid := range cfg.QuestionOrder {
		questions[qid] = true
	}
	return &Session{
		id:         id,
		quizID:     quizID,
		userID:     userID,
		cfg:        cfg,
		status:     StatusCreated,
		gate:       NewGate(cfg.Gate),
		classifier: NewClassifier(cfg.Classifier),
		ledger:     NewLedger(),
		answers:    make(map[uuid.UUID]string),
		questions:  questions,
		recorder:   recorder,
		log:        log.With().Str("component", "session").Str("session_id", id.String()).Logger(),
		now:        time.Now,
	}
}

// ID returns the session identity.
func (s *Session) ID() uuid.UUID { return s.id }

// QuizID returns the quiz this session attempts.
func (s *Session) QuizID() uuid.UUID { return s.quizID }

// UserID returns the owning user.
func (s *Session) UserID() int { return s.userID }

// ─── Setup gate ─────────────────────────────────────────────────────

// BeginSetup moves Created to Setup.
func (s *Session) BeginSetup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusCreated {
		return ErrAlreadyStarted
	}
	s.status = StatusSetup
	return nil
}

// ConfirmIntro advances the gate past its intro checkpoint.
func (s *Session) ConfirmIntro() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusSetup {
		return ErrNotInSetup
	}
	return s.gate.ConfirmIntro()
}

// GrantPermissions records the media consent outcome on the gate.
func (s *Session) GrantPermissions(camera, mic bool, media MediaStream) ([]GateReason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusSetup {
		return nil, ErrNotInSetup
	}
	return s.gate.GrantPermissions(camera, mic, media)
}

// ObserveEnvironment feeds one setup sample into the gate.
func (s *Session) ObserveEnvironment(obs model.SetupObservation) (EnvironmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusSetup {
		return EnvironmentResult{}, ErrNotInSetup
	}
	return s.gate.ObserveEnvironment(obs), nil
}

// AdvanceGate attempts to move the gate to Ready.
func (s *Session) AdvanceGate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusSetup {
		return ErrNotInSetup
	}
	return s.gate.AdvanceToReady()
}

// CancelSetup abandons the gate and releases the media resource. The
// session stays in Setup with a failed gate; a fresh session is required
// to retry, matching the no-retry-in-place gate semantics.
func (s *Session) CancelSetup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusSetup {
		return ErrNotInSetup
	}
	s.gate.Cancel()
	return nil
}

// GateStep returns the gate's current checkpoint.
func (s *Session) GateStep() GateStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.Step()
}

// Start unlocks a Ready gate, takes over the media stream, and enters
// Active: the countdown starts and the grace period clock begins.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusSetup {
		return ErrNotInSetup
	}
	media, err := s.gate.Unlock()
	if err != nil {
		return err
	}

	s.media = media
	s.status = StatusActive
	s.startedAt = s.now()
	s.deadline = s.startedAt.Add(s.cfg.Duration)
	s.log.Info().Dur("duration", s.cfg.Duration).Msg("Session active, countdown started")
	return nil
}

// ─── Active monitoring ──────────────────────────────────────────────

// HandleFrame processes one fast-cadence face analysis sample. Samples
// after a terminal state are ignored, not errors.
func (s *Session) HandleFrame(obs model.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return
	}
	candidate, _ := s.classifier.ClassifyFrame(obs, s.now().Sub(s.startedAt))
	s.submitCandidate(candidate)
}

// HandleObjects processes one slow-cadence object detection sample.
func (s *Session) HandleObjects(objects []model.ObjectDetection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return
	}
	s.submitCandidate(s.classifier.ClassifyObjects(objects))
}

// HandleAudio processes one loudness sample.
func (s *Session) HandleAudio(level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return
	}
	s.submitCandidate(s.classifier.ClassifyAudio(level))
}

// HandleFocusLoss processes a host focus-loss event. It bypasses the
// classifier: leaving the page is not a vision signal.
func (s *Session) HandleFocusLoss() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return
	}
	s.submitCandidate(&Candidate{
		Type:     ViolationTabSwitch,
		Severity: SeverityCritical,
		Evidence: "browser tab lost focus",
	})
}

// Tick advances the countdown. At zero the session auto-submits; a
// timeout is not a violation.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return
	}
	if !s.now().Before(s.deadline) {
		s.log.Info().Msg("Countdown expired, auto-submitting")
		s.finalize("", false)
	}
}

// submitCandidate runs debounce, reporting, and the termination policy
// for one candidate. Caller holds the mutex.
func (s *Session) submitCandidate(c *Candidate) {
	if c == nil {
		return
	}

	v, accepted := s.ledger.Submit(*c, s.now())
	if !accepted {
		return
	}

	s.log.Warn().
		Str("type", string(v.Type)).
		Str("severity", string(v.Severity)).
		Int("trust_score", s.ledger.TrustScore()).
		Int("violations", s.ledger.Count()).
		Msg("Violation accepted")

	// In-memory state is already consistent; reporting is best-effort.
	if s.recorder != nil {
		s.recorder.RecordViolation(s.id, v)
	}

	if verdict := Decide(v, s.ledger.Count()); verdict.Terminate {
		s.log.Warn().Str("reason", verdict.Reason).Msg("Session terminated by policy")
		s.finalize(verdict.Reason, true)
	}
}

// ─── Answers and navigation ─────────────────────────────────────────

// SetAnswer writes one answer. Keys are unique per question; a rewrite
// replaces the prior answer.
func (s *Session) SetAnswer(questionID uuid.UUID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		if s.isTerminal() {
			return ErrSessionClosed
		}
		return ErrNotActive
	}
	if !s.questions[questionID] {
		return ErrUnknownQuestion
	}
	s.answers[questionID] = answer
	return nil
}

// Navigate moves the current question index to target. Bounds checking is
// the only validation.
func (s *Session) Navigate(target int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return ErrNotActive
	}
	if target < 0 || target >= len(s.cfg.QuestionOrder) {
		return ErrIndexOutOfRange
	}
	s.current = target
	return nil
}

// CurrentIndex returns the current question position.
func (s *Session) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ─── Submission ─────────────────────────────────────────────────────

// Submit performs the single explicit submission.
func (s *Session) Submit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isTerminal() {
		return ErrAlreadySubmitted
	}
	if s.status != StatusActive {
		return ErrNotActive
	}
	s.finalize("", false)
	return nil
}

// finalize is the single submission path shared by manual submits, the
// countdown, and policy terminations. Caller holds the mutex. It runs at
// most once: afterwards the session is terminal and immutable.
func (s *Session) finalize(reason string, forced bool) {
	if s.submitted {
		return
	}
	s.submitted = true

	score := s.objectiveScore()
	if forced {
		score = 0
		s.status = StatusTerminated
		s.terminated = reason
	} else {
		s.status = StatusCompleted
	}

	if s.media != nil {
		s.media.Release()
		s.media = nil
	}

	s.result = &Result{
		Score:             score,
		TrustScore:        s.ledger.TrustScore(),
		Violations:        s.ledger.Violations(),
		TerminatedReason:  reason,
		Completed:         !forced,
		AnsweredQuestions: len(s.answers),
	}

	s.log.Info().
		Int("score", score).
		Int("trust_score", s.result.TrustScore).
		Int("violations", len(s.result.Violations)).
		Bool("terminated", forced).
		Msg("Session finalized")

	if s.recorder != nil {
		s.recorder.FinalizeAttempt(s.id, *s.result)
	}
}

// objectiveScore grades closed-form answers by exact match: the rounded
// percentage of correctly answered questions. An empty quiz scores 0
// rather than dividing by zero.
func (s *Session) objectiveScore() int {
	total := len(s.cfg.QuestionOrder)
	if total == 0 {
		return 0
	}
	correct := 0
	for qid, key := range s.cfg.AnswerKey {
		if key == "" {
			continue
		}
		if ans, ok := s.answers[qid]; ok && ans == key {
			correct++
		}
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

// ─── Introspection ──────────────────────────────────────────────────

// State is a point-in-time snapshot exposed to the caller.
type State struct {
	Status           Status             `json:"status"`
	GateStep         GateStep           `json:"gate_step"`
	Environment      *EnvironmentResult `json:"environment,omitempty"`
	TrustScore       int                `json:"trust_score"`
	ViolationCount   int                `json:"violation_count"`
	RemainingSeconds int                `json:"remaining_seconds"`
	CurrentQuestion  int                `json:"current_question"`
	Answered         int                `json:"answered"`
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := 0
	if s.status == StatusActive {
		if d := s.deadline.Sub(s.now()); d > 0 {
			remaining = int(d.Seconds())
		}
	}
	return State{
		Status:           s.status,
		GateStep:         s.gate.Step(),
		Environment:      s.gate.LastEnvironment(),
		TrustScore:       s.ledger.TrustScore(),
		ViolationCount:   s.ledger.Count(),
		RemainingSeconds: remaining,
		CurrentQuestion:  s.current,
		Answered:         len(s.answers),
	}
}

// Status returns the session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Result returns the final result record, or nil while the session is
// still running.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result == nil {
		return nil
	}
	r := *s.result
	return &r
}

func (s *Session) isTerminal() bool {
	return s.status == StatusTerminated || s.status == StatusCompleted
}
