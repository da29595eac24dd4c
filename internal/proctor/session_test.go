package proctor

import (
	"sync"
	"testing"
	"time"

	"github.com/coursiva/proctor-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRecorder struct {
	mu         sync.Mutex
	violations []Violation
	finalized  []Result
}

func (r *fakeRecorder) RecordViolation(_ uuid.UUID, v Violation) {
	r.mu.Lock()
	r.violations = append(r.violations, v)
	r.mu.Unlock()
}

func (r *fakeRecorder) FinalizeAttempt(_ uuid.UUID, res Result) {
	r.mu.Lock()
	r.finalized = append(r.finalized, res)
	r.mu.Unlock()
}

// fiveQuestions returns a config with five MCQ questions keyed a..e.
func fiveQuestions() (Config, []uuid.UUID) {
	cfg := DefaultConfig()
	keys := []string{"a", "b", "c", "d", "e"}
	cfg.AnswerKey = make(map[uuid.UUID]string, len(keys))
	for _, k := range keys {
		qid := uuid.New()
		cfg.QuestionOrder = append(cfg.QuestionOrder, qid)
		cfg.AnswerKey[qid] = k
	}
	return cfg, cfg.QuestionOrder
}

// activeSession builds a session, drives the gate to Ready, and starts it.
func activeSession(t *testing.T, cfg Config, rec Recorder, clk *fakeClock) (*Session, *fakeStream) {
	t.Helper()

	s := NewSession(uuid.New(), uuid.New(), 7, cfg, rec, zerolog.Nop())
	s.now = clk.Now

	stream := &fakeStream{}
	if err := s.BeginSetup(); err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	if err := s.ConfirmIntro(); err != nil {
		t.Fatalf("confirm intro: %v", err)
	}
	if _, err := s.GrantPermissions(true, true, stream); err != nil {
		t.Fatalf("grant permissions: %v", err)
	}
	if _, err := s.ObserveEnvironment(goodEnvironment()); err != nil {
		t.Fatalf("observe environment: %v", err)
	}
	if err := s.AdvanceGate(); err != nil {
		t.Fatalf("advance gate: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Status() != StatusActive {
		t.Fatalf("status = %s, want active", s.Status())
	}
	return s, stream
}

func TestSessionSetupCannotBeSkipped(t *testing.T) {
	s := NewSession(uuid.New(), uuid.New(), 7, DefaultConfig(), nil, zerolog.Nop())

	if err := s.Start(); err != ErrNotInSetup {
		t.Fatalf("start from created: got %v, want ErrNotInSetup", err)
	}
	if err := s.BeginSetup(); err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	// Gate predicates unsatisfied: Start must refuse.
	if err := s.Start(); err == nil {
		t.Fatal("start without a ready gate should fail")
	}
}

func TestSessionTimeoutWithNoAnswersCompletesAtZero(t *testing.T) {
	clk := newFakeClock()
	rec := &fakeRecorder{}
	cfg, _ := fiveQuestions()
	s, stream := activeSession(t, cfg, rec, clk)

	clk.Advance(900 * time.Second)
	s.Tick()

	if s.Status() != StatusCompleted {
		t.Fatalf("status = %s, want completed", s.Status())
	}
	res := s.Result()
	if res == nil {
		t.Fatal("expected a result after timeout")
	}
	if res.Score != 0 {
		t.Fatalf("score = %d, want 0", res.Score)
	}
	if !res.Completed || res.TerminatedReason != "" {
		t.Fatalf("timeout must complete, not terminate: %+v", res)
	}
	if stream.released != 1 {
		t.Fatalf("media released %d times, want 1", stream.released)
	}
}

func TestSessionGradingFourOfFive(t *testing.T) {
	clk := newFakeClock()
	rec := &fakeRecorder{}
	cfg, qids := fiveQuestions()
	s, _ := activeSession(t, cfg, rec, clk)

	answers := []string{"a", "b", "c", "d", "wrong"}
	for i, qid := range qids {
		if err := s.SetAnswer(qid, answers[i]); err != nil {
			t.Fatalf("set answer %d: %v", i, err)
		}
	}
	if err := s.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res := s.Result()
	if res.Score != 80 {
		t.Fatalf("score = %d, want 80", res.Score)
	}
	if s.Status() != StatusCompleted {
		t.Fatalf("status = %s, want completed", s.Status())
	}
	if len(rec.finalized) != 1 {
		t.Fatalf("finalize called %d times, want 1", len(rec.finalized))
	}
}

func TestSessionAnswerOverwriteLastWriteWins(t *testing.T) {
	clk := newFakeClock()
	cfg, qids := fiveQuestions()
	s, _ := activeSession(t, cfg, &fakeRecorder{}, clk)

	if err := s.SetAnswer(qids[0], "wrong"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := s.SetAnswer(qids[0], "a"); err != nil {
		t.Fatalf("overwrite answer: %v", err)
	}
	_ = s.Submit()

	if res := s.Result(); res.Score != 20 {
		t.Fatalf("score = %d, want 20 (overwrite must win)", res.Score)
	}
}

func TestSessionRejectsUnknownQuestion(t *testing.T) {
	clk := newFakeClock()
	cfg, _ := fiveQuestions()
	s, _ := activeSession(t, cfg, &fakeRecorder{}, clk)

	if err := s.SetAnswer(uuid.New(), "a"); err != ErrUnknownQuestion {
		t.Fatalf("got %v, want ErrUnknownQuestion", err)
	}
}

func TestSessionNavigationBounds(t *testing.T) {
	clk := newFakeClock()
	cfg, _ := fiveQuestions()
	s, _ := activeSession(t, cfg, &fakeRecorder{}, clk)

	if err := s.Navigate(4); err != nil {
		t.Fatalf("navigate to last: %v", err)
	}
	if err := s.Navigate(5); err != ErrIndexOutOfRange {
		t.Fatalf("got %v, want ErrIndexOutOfRange", err)
	}
	if err := s.Navigate(-1); err != ErrIndexOutOfRange {
		t.Fatalf("got %v, want ErrIndexOutOfRange", err)
	}
	if s.CurrentIndex() != 4 {
		t.Fatalf("index = %d, want 4", s.CurrentIndex())
	}
}

func TestSessionCriticalViolationTerminatesWithZero(t *testing.T) {
	clk := newFakeClock()
	rec := &fakeRecorder{}
	cfg, qids := fiveQuestions()
	s, stream := activeSession(t, cfg, rec, clk)

	// Correct answers first: a forced submission must still score 0.
	for i, qid := range qids {
		_ = s.SetAnswer(qid, []string{"a", "b", "c", "d", "e"}[i])
	}

	s.HandleFrame(model.Observation{FaceCount: 2})

	if s.Status() != StatusTerminated {
		t.Fatalf("status = %s, want terminated", s.Status())
	}
	res := s.Result()
	if res.Score != 0 {
		t.Fatalf("forced score = %d, want 0", res.Score)
	}
	if res.Completed {
		t.Fatal("terminated result must not be marked completed")
	}
	if res.TerminatedReason != ReasonCriticalViolation {
		t.Fatalf("reason = %q, want %q", res.TerminatedReason, ReasonCriticalViolation)
	}
	if stream.released != 1 {
		t.Fatalf("media released %d times, want 1", stream.released)
	}
	if len(rec.finalized) != 1 {
		t.Fatalf("finalize called %d times, want 1", len(rec.finalized))
	}
}

func TestSessionTabSwitchTerminates(t *testing.T) {
	clk := newFakeClock()
	cfg, _ := fiveQuestions()
	s, _ := activeSession(t, cfg, &fakeRecorder{}, clk)

	s.HandleFocusLoss()

	if s.Status() != StatusTerminated {
		t.Fatalf("status = %s, want terminated", s.Status())
	}
	if res := s.Result(); res.TerminatedReason != ReasonCriticalViolation {
		t.Fatalf("reason = %q, want %q", res.TerminatedReason, ReasonCriticalViolation)
	}
}

func TestSessionViolationLimitTerminates(t *testing.T) {
	clk := newFakeClock()
	rec := &fakeRecorder{}
	cfg, _ := fiveQuestions()
	s, _ := activeSession(t, cfg, rec, clk)

	// Low-severity audio violations spaced past the debounce window. None
	// is critical and none is a no-face, so only the count rule fires.
	for i := 0; i < 8; i++ {
		s.HandleAudio(200)
		clk.Advance(4 * time.Second)
	}

	if s.Status() != StatusTerminated {
		t.Fatalf("status = %s, want terminated", s.Status())
	}
	res := s.Result()
	if res.TerminatedReason != ReasonViolationLimit {
		t.Fatalf("reason = %q, want %q", res.TerminatedReason, ReasonViolationLimit)
	}
	if len(res.Violations) != 8 {
		t.Fatalf("violations = %d, want 8", len(res.Violations))
	}
	if res.TrustScore != 84 {
		t.Fatalf("trust score = %d, want 84", res.TrustScore)
	}
}

func TestSessionNoFaceGracePeriod(t *testing.T) {
	clk := newFakeClock()
	rec := &fakeRecorder{}
	cfg, _ := fiveQuestions()
	s, _ := activeSession(t, cfg, rec, clk)

	// Within the first five seconds after unlock, absence is suppressed:
	// no log entry, no termination.
	clk.Advance(2 * time.Second)
	s.HandleFrame(model.Observation{FaceCount: 0})

	if s.Status() != StatusActive {
		t.Fatalf("status = %s, want active", s.Status())
	}
	if got := s.Snapshot().ViolationCount; got != 0 {
		t.Fatalf("violations = %d, want 0 during grace period", got)
	}

	// After the grace period a single absence terminates.
	clk.Advance(4 * time.Second)
	s.HandleFrame(model.Observation{FaceCount: 0})

	if s.Status() != StatusTerminated {
		t.Fatalf("status = %s, want terminated", s.Status())
	}
	if res := s.Result(); res.TerminatedReason != ReasonLeftCameraFrame {
		t.Fatalf("reason = %q, want %q", res.TerminatedReason, ReasonLeftCameraFrame)
	}
}

func TestSessionTerminalStateIsImmutable(t *testing.T) {
	clk := newFakeClock()
	rec := &fakeRecorder{}
	cfg, qids := fiveQuestions()
	s, _ := activeSession(t, cfg, rec, clk)

	s.HandleFocusLoss()
	before := s.Snapshot()

	// Everything after termination is ignored or rejected.
	s.HandleFrame(model.Observation{FaceCount: 3})
	s.HandleAudio(250)
	s.HandleFocusLoss()
	s.Tick()
	if err := s.SetAnswer(qids[0], "a"); err != ErrSessionClosed {
		t.Fatalf("answer after termination: got %v, want ErrSessionClosed", err)
	}
	if err := s.Submit(); err != ErrAlreadySubmitted {
		t.Fatalf("submit after termination: got %v, want ErrAlreadySubmitted", err)
	}

	after := s.Snapshot()
	if after.TrustScore != before.TrustScore || after.ViolationCount != before.ViolationCount {
		t.Fatalf("terminal state mutated: before %+v, after %+v", before, after)
	}
	if len(rec.finalized) != 1 {
		t.Fatalf("finalize called %d times, want exactly 1", len(rec.finalized))
	}
}

func TestSessionEmptyQuizScoresZero(t *testing.T) {
	clk := newFakeClock()
	cfg := DefaultConfig() // no questions
	s, _ := activeSession(t, cfg, &fakeRecorder{}, clk)

	if err := s.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res := s.Result(); res.Score != 0 {
		t.Fatalf("score = %d, want 0 for an empty quiz", res.Score)
	}
}

func TestSessionViolationsReportedToRecorder(t *testing.T) {
	clk := newFakeClock()
	rec := &fakeRecorder{}
	cfg, _ := fiveQuestions()
	s, _ := activeSession(t, cfg, rec, clk)

	clk.Advance(10 * time.Second)
	s.HandleFrame(oneFace(faceWithYaw(0.9)))

	if len(rec.violations) != 1 {
		t.Fatalf("recorded %d violations, want 1", len(rec.violations))
	}
	if rec.violations[0].Type != ViolationLookingAway {
		t.Fatalf("recorded type = %s, want looking_away", rec.violations[0].Type)
	}
}

func TestSessionCancelSetupReleasesMedia(t *testing.T) {
	s := NewSession(uuid.New(), uuid.New(), 7, DefaultConfig(), nil, zerolog.Nop())
	stream := &fakeStream{}

	_ = s.BeginSetup()
	_ = s.ConfirmIntro()
	if _, err := s.GrantPermissions(true, true, stream); err != nil {
		t.Fatalf("grant permissions: %v", err)
	}
	if err := s.CancelSetup(); err != nil {
		t.Fatalf("cancel setup: %v", err)
	}
	if stream.released != 1 {
		t.Fatalf("media released %d times, want 1", stream.released)
	}
	if s.GateStep() != GateStepFailed {
		t.Fatalf("gate step = %s, want failed", s.GateStep())
	}
}

func TestSessionCountdownMonotonic(t *testing.T) {
	clk := newFakeClock()
	cfg, _ := fiveQuestions()
	s, _ := activeSession(t, cfg, &fakeRecorder{}, clk)

	prev := s.Snapshot().RemainingSeconds
	if prev != 900 {
		t.Fatalf("initial remaining = %d, want 900", prev)
	}
	for i := 0; i < 10; i++ {
		clk.Advance(90 * time.Second)
		s.Tick()
		got := s.Snapshot().RemainingSeconds
		if got > prev {
			t.Fatalf("remaining increased from %d to %d", prev, got)
		}
		prev = got
	}
	if prev != 0 {
		t.Fatalf("remaining = %d, want 0", prev)
	}
	if s.Status() != StatusCompleted {
		t.Fatalf("status = %s, want completed after expiry", s.Status())
	}
}
