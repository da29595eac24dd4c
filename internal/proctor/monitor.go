package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/coursiva/proctor-backend/internal/model"
	"github.com/rs/zerolog"
)

// Monitoring cadences. Face analysis runs fast; object detection and
// audio sampling run on their own slower cycles; the countdown ticks once
// per second.
const (
	FaceInterval   = 100 * time.Millisecond
	ObjectInterval = 1 * time.Second
	AudioInterval  = 2 * time.Second
	TimerInterval  = 1 * time.Second
)

// Mailbox is a latest-value buffer between the observation producer (the
// WebSocket stream) and the sampling loop. Publishing overwrites the
// previous sample; taking consumes it. If inference lags behind a cadence
// tick, that tick simply finds no fresh sample and is skipped. Sampling
// is bounded and lossy, never a backlog.
type Mailbox struct {
	mu    sync.Mutex
	obs   model.Observation
	fresh bool
}

// Publish stores the newest observation, replacing any unconsumed one.
func (m *Mailbox) Publish(obs model.Observation) {
	m.mu.Lock()
	m.obs = obs
	m.fresh = true
	m.mu.Unlock()
}

// Take returns the newest observation since the last Take, if any.
func (m *Mailbox) Take() (model.Observation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fresh {
		return model.Observation{}, false
	}
	m.fresh = false
	return m.obs, true
}

// Peek returns the newest observation without consuming it.
func (m *Mailbox) Peek() (model.Observation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.obs, m.fresh
}

// Monitor drives one active session's periodic producers: the fast face
// cadence, the slow object and audio cadences, and the timer tick. All of
// them funnel into the session's mutex, which serializes evaluation.
type Monitor struct {
	session *Session
	source  *Mailbox
	log     zerolog.Logger
}

// NewMonitor creates a monitor for an active session fed by source.
func NewMonitor(session *Session, source *Mailbox, log zerolog.Logger) *Monitor {
	return &Monitor{
		session: session,
		source:  source,
		log:     log.With().Str("component", "monitor").Str("session_id", session.ID().String()).Logger(),
	}
}

// Run samples until the context is cancelled or the session reaches a
// terminal state. It blocks; callers run it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	faceTicker := time.NewTicker(FaceInterval)
	objectTicker := time.NewTicker(ObjectInterval)
	audioTicker := time.NewTicker(AudioInterval)
	timerTicker := time.NewTicker(TimerInterval)
	defer faceTicker.Stop()
	defer objectTicker.Stop()
	defer audioTicker.Stop()
	defer timerTicker.Stop()

	m.log.Info().Msg("Monitor started")

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Monitor stopped")
			return

		case <-faceTicker.C:
			// Only a fresh sample is analyzed; a stale frame would just
			// re-penalize the previous inference result.
			if obs, ok := m.source.Take(); ok {
				m.session.HandleFrame(obs)
			}

		case <-objectTicker.C:
			if obs, ok := m.source.Peek(); ok && len(obs.Objects) > 0 {
				m.session.HandleObjects(obs.Objects)
			}

		case <-audioTicker.C:
			if obs, ok := m.source.Peek(); ok {
				m.session.HandleAudio(obs.AudioLevel)
			}

		case <-timerTicker.C:
			m.session.Tick()
		}

		if st := m.session.Status(); st == StatusTerminated || st == StatusCompleted {
			m.log.Info().Str("status", string(st)).Msg("Session reached terminal state, monitor exiting")
			return
		}
	}
}
