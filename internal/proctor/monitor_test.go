package proctor

import (
	"context"
	"testing"
	"time"

	"github.com/coursiva/proctor-backend/internal/model"
	"github.com/rs/zerolog"
)

func TestMailboxTakeConsumesFreshness(t *testing.T) {
	var m Mailbox

	if _, ok := m.Take(); ok {
		t.Fatal("empty mailbox must not yield a sample")
	}

	m.Publish(model.Observation{FaceCount: 1})
	obs, ok := m.Take()
	if !ok || obs.FaceCount != 1 {
		t.Fatalf("take = (%+v, %v), want fresh sample", obs, ok)
	}
	if _, ok := m.Take(); ok {
		t.Fatal("second take must find the sample consumed")
	}
}

func TestMailboxPublishOverwrites(t *testing.T) {
	var m Mailbox

	m.Publish(model.Observation{FaceCount: 1})
	m.Publish(model.Observation{FaceCount: 2})

	obs, ok := m.Take()
	if !ok || obs.FaceCount != 2 {
		t.Fatalf("take = (%+v, %v), want the newest sample", obs, ok)
	}
}

func TestMailboxPeekDoesNotConsume(t *testing.T) {
	var m Mailbox

	m.Publish(model.Observation{AudioLevel: 42})
	if obs, ok := m.Peek(); !ok || obs.AudioLevel != 42 {
		t.Fatalf("peek = (%+v, %v), want fresh sample", obs, ok)
	}
	if _, ok := m.Take(); !ok {
		t.Fatal("peek must leave the sample available to take")
	}
}

func TestMonitorStopsOnContextCancel(t *testing.T) {
	clk := newFakeClock()
	cfg, _ := fiveQuestions()
	s, _ := activeSession(t, cfg, &fakeRecorder{}, clk)

	var src Mailbox
	mon := NewMonitor(s, &src, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after context cancel")
	}
}

func TestMonitorStopsWhenSessionEnds(t *testing.T) {
	clk := newFakeClock()
	cfg, _ := fiveQuestions()
	s, _ := activeSession(t, cfg, &fakeRecorder{}, clk)

	var src Mailbox
	mon := NewMonitor(s, &src, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		mon.Run(context.Background())
		close(done)
	}()

	if err := s.Submit(); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The next tick notices the terminal state.
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("monitor did not exit after the session ended")
	}
}
