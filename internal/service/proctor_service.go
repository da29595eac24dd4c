package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coursiva/proctor-backend/internal/config"
	"github.com/coursiva/proctor-backend/internal/model"
	"github.com/coursiva/proctor-backend/internal/proctor"
	"github.com/coursiva/proctor-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Proctoring service errors.
var (
	ErrAttemptExists   = errors.New("quiz already attempted")
	ErrSessionRunning  = errors.New("another session is already running")
	ErrSessionNotFound = errors.New("session not found")
	ErrNotSessionOwner = errors.New("session belongs to another user")
	ErrResultNotReady  = errors.New("result not available yet")
)

// GateStepRequest selects which setup checkpoint to advance.
type GateStepRequest struct {
	Step       string `json:"step" binding:"required,oneof=intro permissions ready start"`
	Camera     bool   `json:"camera"`
	Microphone bool   `json:"microphone"`
}

// SessionInfo is returned when a session is created.
type SessionInfo struct {
	SessionID uuid.UUID        `json:"session_id"`
	QuizID    uuid.UUID        `json:"quiz_id"`
	GateStep  proctor.GateStep `json:"gate_step"`
}

// ResultView is the final record served to the client.
type ResultView struct {
	SessionID         uuid.UUID           `json:"session_id"`
	Score             int                 `json:"score"`
	TrustScore        int                 `json:"trust_score"`
	ViolationCount    int                 `json:"violation_count"`
	Violations        []proctor.Violation `json:"violations,omitempty"`
	Completed         bool                `json:"completed"`
	TerminationReason string              `json:"termination_reason,omitempty"`
}

// clientMedia is the server-side handle for the client's capture stream.
// The engine owns it after unlock; Release tears down the observation
// WebSocket, which tells the client to stop its camera and microphone.
type clientMedia struct {
	mu       sync.Mutex
	released bool
	closer   func()
}

// BindCloser attaches the teardown hook. If the stream was already
// released before the WebSocket connected, the hook runs immediately.
func (m *clientMedia) BindCloser(fn func()) {
	m.mu.Lock()
	released := m.released
	if !released {
		m.closer = fn
	}
	m.mu.Unlock()

	if released {
		fn()
	}
}

func (m *clientMedia) Release() {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.released = true
	fn := m.closer
	m.closer = nil
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// liveSession bundles one running engine session with its plumbing.
type liveSession struct {
	session *proctor.Session
	mailbox *proctor.Mailbox
	media   *clientMedia
	cancel  context.CancelFunc
}

// violationPayload is the Redis queue item consumed by the violation
// worker.
type violationPayload struct {
	AttemptID string `json:"attempt_id"`
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Evidence  string `json:"evidence,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ProctorService owns the registry of live quiz sessions and implements
// the engine's persistence collaborator. Violations flow through a Redis
// queue; the final attempt record is written directly, exactly once.
type ProctorService struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*liveSession

	quizzes    *QuizService
	attempts   *repository.AttemptRepository
	violations *repository.ViolationRepository
	rdb        *redis.Client
	log        zerolog.Logger
}

// NewProctorService creates a new ProctorService.
func NewProctorService(quizzes *QuizService, attempts *repository.AttemptRepository, violations *repository.ViolationRepository, rdb *redis.Client, log zerolog.Logger) *ProctorService {
	return &ProctorService{
		sessions:   make(map[uuid.UUID]*liveSession),
		quizzes:    quizzes,
		attempts:   attempts,
		violations: violations,
		rdb:        rdb,
		log:        log.With().Str("component", "proctor_service").Logger(),
	}
}

// StartSession creates a session for the user's single attempt at a quiz
// and moves it into setup. The attempt row is inserted up front so the
// unique (quiz_id, user_id) constraint closes the one-attempt rule even
// when two starts race.
func (s *ProctorService) StartSession(ctx context.Context, userID int, quizID uuid.UUID) (*SessionInfo, error) {
	prior, err := s.attempts.GetByQuizAndUser(ctx, quizID, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check attempt: %w", err)
	}
	if prior != nil {
		return nil, ErrAttemptExists
	}

	activeKey := config.CacheKey.UserActiveSessionKey(userID)
	existing, err := s.rdb.Get(ctx, activeKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("check active session: %w", err)
	}
	if existing != "" {
		return nil, ErrSessionRunning
	}

	cfg, err := s.quizzes.SessionConfig(ctx, quizID)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New()
	attempt := &model.QuizAttempt{
		ID:                sessionID,
		QuizID:            quizID,
		UserID:            userID,
		TrustScore:        proctor.InitialTrustScore,
		MaxScore:          100,
		ProctoringEnabled: true,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrDuplicateAttempt) {
			return nil, ErrAttemptExists
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	session := proctor.NewSession(sessionID, quizID, userID, cfg, s, s.log)
	if err := session.BeginSetup(); err != nil {
		return nil, err
	}

	live := &liveSession{
		session: session,
		mailbox: &proctor.Mailbox{},
		media:   &clientMedia{},
	}
	s.mu.Lock()
	s.sessions[sessionID] = live
	s.mu.Unlock()

	// The active-session key outlives the countdown by a margin so a
	// crashed server never locks the user out for long.
	ttl := cfg.Duration + 30*time.Minute
	if err := s.rdb.Set(ctx, activeKey, sessionID.String(), ttl).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to register active session key")
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("quiz_id", quizID.String()).
		Int("user_id", userID).
		Msg("Session created")

	return &SessionInfo{SessionID: sessionID, QuizID: quizID, GateStep: session.GateStep()}, nil
}

// AdvanceGate drives one setup checkpoint. The "start" step unlocks the
// gate and launches the monitoring loop.
func (s *ProctorService) AdvanceGate(sessionID uuid.UUID, userID int, req GateStepRequest) ([]proctor.GateReason, error) {
	live, err := s.get(sessionID, userID)
	if err != nil {
		return nil, err
	}

	switch req.Step {
	case "intro":
		return nil, live.session.ConfirmIntro()
	case "permissions":
		reasons, err := live.session.GrantPermissions(req.Camera, req.Microphone, live.media)
		if errors.Is(err, proctor.ErrGateFailed) {
			s.abandonSetup(live)
		}
		return reasons, err
	case "ready":
		return nil, live.session.AdvanceGate()
	case "start":
		if err := live.session.Start(); err != nil {
			return nil, err
		}
		s.startMonitor(live)
		return nil, nil
	default:
		return nil, proctor.ErrGateOrder
	}
}

// CancelGate abandons a session during setup and releases the media.
// The quiz never began, so the attempt slot is freed and the user may
// start over.
func (s *ProctorService) CancelGate(sessionID uuid.UUID, userID int) error {
	live, err := s.get(sessionID, userID)
	if err != nil {
		return err
	}
	if err := live.session.CancelSetup(); err != nil {
		return err
	}
	s.abandonSetup(live)
	return nil
}

// abandonSetup frees the single-attempt slot for a session that failed
// or cancelled before the quiz started. Finalized rows are never touched.
func (s *ProctorService) abandonSetup(live *liveSession) {
	sessionID := live.session.ID()
	userID := live.session.UserID()
	s.evict(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.attempts.DeleteUnstarted(ctx, sessionID); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to release abandoned attempt")
	}
	if err := s.rdb.Del(ctx, config.CacheKey.UserActiveSessionKey(userID)).Err(); err != nil {
		s.log.Warn().Err(err).Int("user_id", userID).Msg("Failed to clear active session key")
	}
}

// ObserveSetup feeds one environment sample into the gate.
func (s *ProctorService) ObserveSetup(sessionID uuid.UUID, userID int, obs model.SetupObservation) (proctor.EnvironmentResult, error) {
	live, err := s.get(sessionID, userID)
	if err != nil {
		return proctor.EnvironmentResult{}, err
	}
	return live.session.ObserveEnvironment(obs)
}

// PublishObservation drops the newest inference sample into the session's
// mailbox. Stale samples are overwritten, never queued.
func (s *ProctorService) PublishObservation(sessionID uuid.UUID, userID int, obs model.Observation) error {
	live, err := s.get(sessionID, userID)
	if err != nil {
		return err
	}
	live.mailbox.Publish(obs)
	return nil
}

// FocusLost reports a tab switch.
func (s *ProctorService) FocusLost(sessionID uuid.UUID, userID int) error {
	live, err := s.get(sessionID, userID)
	if err != nil {
		return err
	}
	live.session.HandleFocusLoss()
	return nil
}

// BindMedia attaches the WebSocket teardown hook to the session's media
// handle.
func (s *ProctorService) BindMedia(sessionID uuid.UUID, userID int, closer func()) error {
	live, err := s.get(sessionID, userID)
	if err != nil {
		return err
	}
	live.media.BindCloser(closer)
	return nil
}

// SetAnswer writes one answer.
func (s *ProctorService) SetAnswer(sessionID uuid.UUID, userID int, questionID uuid.UUID, answer string) error {
	live, err := s.get(sessionID, userID)
	if err != nil {
		return err
	}
	return live.session.SetAnswer(questionID, answer)
}

// Navigate moves the current question index.
func (s *ProctorService) Navigate(sessionID uuid.UUID, userID int, target int) error {
	live, err := s.get(sessionID, userID)
	if err != nil {
		return err
	}
	return live.session.Navigate(target)
}

// Submit performs the manual submission.
func (s *ProctorService) Submit(sessionID uuid.UUID, userID int) error {
	live, err := s.get(sessionID, userID)
	if err != nil {
		return err
	}
	return live.session.Submit()
}

// State returns the live session snapshot.
func (s *ProctorService) State(sessionID uuid.UUID, userID int) (proctor.State, error) {
	live, err := s.get(sessionID, userID)
	if err != nil {
		return proctor.State{}, err
	}
	return live.session.Snapshot(), nil
}

// Result returns the final record. A live terminal session answers from
// memory; otherwise the durable attempt row answers, so results survive
// restarts.
func (s *ProctorService) Result(ctx context.Context, sessionID uuid.UUID, userID int) (*ResultView, error) {
	s.mu.RLock()
	live, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if ok {
		if live.session.UserID() != userID {
			return nil, ErrNotSessionOwner
		}
		if r := live.session.Result(); r != nil {
			// The in-memory result is authoritative. Only let the session
			// go once the durable row agrees, so a lost finalize write can
			// never strand the outcome behind RESULT_NOT_READY.
			if s.resultDurable(ctx, sessionID, *r) {
				s.evict(sessionID)
			}
			return &ResultView{
				SessionID:         sessionID,
				Score:             r.Score,
				TrustScore:        r.TrustScore,
				ViolationCount:    len(r.Violations),
				Violations:        r.Violations,
				Completed:         r.Completed,
				TerminationReason: r.TerminatedReason,
			}, nil
		}
		return nil, ErrResultNotReady
	}

	attempt, err := s.attempts.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.UserID != userID {
		return nil, ErrNotSessionOwner
	}
	if attempt.Status == model.AttemptStatusInProgress {
		return nil, ErrResultNotReady
	}

	records, err := s.violations.ListByAttempt(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}

	view := &ResultView{
		SessionID:      sessionID,
		TrustScore:     attempt.TrustScore,
		ViolationCount: attempt.ViolationCount,
		Completed:      attempt.Status == model.AttemptStatusCompleted,
	}
	for _, rec := range records {
		view.Violations = append(view.Violations, proctor.Violation{
			Type:      proctor.ViolationType(rec.Type),
			Severity:  proctor.Severity(rec.Severity),
			Timestamp: rec.RecordedAt,
			Evidence:  rec.Evidence,
		})
	}
	if attempt.FinalScore != nil {
		view.Score = *attempt.FinalScore
	}
	if attempt.TerminationReason != nil {
		view.TerminationReason = *attempt.TerminationReason
	}
	return view, nil
}

// resultDurable reports whether the attempt row has reached a terminal
// state, retrying the finalize write when the asynchronous one failed.
// pgx.ErrNoRows from the retry means the other writer already won.
func (s *ProctorService) resultDurable(ctx context.Context, sessionID uuid.UUID, r proctor.Result) bool {
	attempt, err := s.attempts.GetByID(ctx, sessionID)
	if err != nil {
		return false
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return true
	}
	if err := s.persistResult(ctx, sessionID, r); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true
		}
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Attempt row still pending, keeping session live")
		return false
	}
	return true
}

// ─── proctor.Recorder ────────────────────────────────────────────────

// RecordViolation pushes one accepted violation onto the persistence
// queue. Failures are logged and dropped; the in-memory ledger is
// authoritative. The caller holds the session mutex, so the push runs
// on its own goroutine and never waits on Redis.
func (s *ProctorService) RecordViolation(sessionID uuid.UUID, v proctor.Violation) {
	payload := violationPayload{
		AttemptID: sessionID.String(),
		Type:      string(v.Type),
		Severity:  string(v.Severity),
		Evidence:  v.Evidence,
		Timestamp: v.Timestamp.Unix(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal violation payload")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err(); err != nil {
			s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to enqueue violation")
		}
	}()
}

// FinalizeAttempt tears down the live plumbing and writes the terminal
// attempt row. Attempted exactly once per session; the caller holds the
// session mutex, so the row write and key cleanup run on their own
// goroutine. A failed write is logged and the in-memory result remains
// servable; Result retries the write before letting the session go.
func (s *ProctorService) FinalizeAttempt(sessionID uuid.UUID, r proctor.Result) {
	s.mu.RLock()
	live, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	userID := 0
	if ok {
		if live.cancel != nil {
			live.cancel()
		}
		userID = live.session.UserID()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.persistResult(ctx, sessionID, r); err != nil {
			s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to finalize attempt row")
		}
		if userID != 0 {
			if err := s.rdb.Del(ctx, config.CacheKey.UserActiveSessionKey(userID)).Err(); err != nil {
				s.log.Warn().Err(err).Msg("Failed to clear active session key")
			}
		}

		s.log.Info().
			Str("session_id", sessionID.String()).
			Bool("completed", r.Completed).
			Int("score", r.Score).
			Msg("Attempt finalized")
	}()
}

// persistResult maps the engine result onto the attempt row.
func (s *ProctorService) persistResult(ctx context.Context, sessionID uuid.UUID, r proctor.Result) error {
	status := model.AttemptStatusCompleted
	var reason *string
	if !r.Completed {
		status = model.AttemptStatusTerminated
		reason = &r.TerminatedReason
	}
	return s.attempts.Finalize(ctx, sessionID, status, r.Score, r.TrustScore, len(r.Violations), reason)
}

// ─── internals ──────────────────────────────────────────────────────

func (s *ProctorService) startMonitor(live *liveSession) {
	ctx, cancel := context.WithCancel(context.Background())
	live.cancel = cancel
	mon := proctor.NewMonitor(live.session, live.mailbox, s.log)
	go mon.Run(ctx)
}

func (s *ProctorService) get(sessionID uuid.UUID, userID int) (*liveSession, error) {
	s.mu.RLock()
	live, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if live.session.UserID() != userID {
		return nil, ErrNotSessionOwner
	}
	return live, nil
}

// evict removes a terminal session from the registry. The durable row
// serves any later reads.
func (s *ProctorService) evict(sessionID uuid.UUID) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}
