package proctor

import (
	"testing"

	"github.com/coursiva/proctor-backend/internal/model"
)

// fakeStream counts releases to verify exactly-once semantics.
type fakeStream struct {
	released int
}

func (f *fakeStream) Release() { f.released++ }

// goodEnvironment is a setup sample that passes every sub-condition.
func goodEnvironment() model.SetupObservation {
	return model.SetupObservation{
		FaceCount:  1,
		FaceBox:    &model.BoundingBox{X: 0.35, Y: 0.3, Width: 0.3, Height: 0.35},
		Brightness: 120,
		Contrast:   40,
	}
}

// readyGate drives a gate through intro and permissions.
func readyGate(t *testing.T) (*Gate, *fakeStream) {
	t.Helper()
	g := NewGate(DefaultGateConfig())
	stream := &fakeStream{}
	if err := g.ConfirmIntro(); err != nil {
		t.Fatalf("confirm intro: %v", err)
	}
	if _, err := g.GrantPermissions(true, true, stream); err != nil {
		t.Fatalf("grant permissions: %v", err)
	}
	return g, stream
}

func TestGateStrictOrder(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	if err := g.AdvanceToReady(); err != ErrGateOrder {
		t.Fatalf("advance from intro should fail with ErrGateOrder, got %v", err)
	}
	if _, err := g.GrantPermissions(true, true, &fakeStream{}); err != ErrGateOrder {
		t.Fatalf("permissions from intro should fail with ErrGateOrder, got %v", err)
	}
	if _, err := g.Unlock(); err != ErrGateOrder {
		t.Fatalf("unlock from intro should fail with ErrGateOrder, got %v", err)
	}

	if err := g.ConfirmIntro(); err != nil {
		t.Fatalf("confirm intro: %v", err)
	}
	if err := g.ConfirmIntro(); err != ErrGateOrder {
		t.Fatalf("double intro confirm should fail, got %v", err)
	}
}

func TestGatePermissionDenialIsTerminal(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	stream := &fakeStream{}
	_ = g.ConfirmIntro()

	reasons, err := g.GrantPermissions(false, true, stream)
	if err != ErrGateFailed {
		t.Fatalf("denial should fail the gate, got %v", err)
	}
	if len(reasons) != 1 || reasons[0] != ReasonCameraDenied {
		t.Fatalf("reasons = %v, want [camera_denied]", reasons)
	}
	if stream.released != 1 {
		t.Fatalf("stream released %d times, want 1", stream.released)
	}
	if g.Step() != GateStepFailed {
		t.Fatalf("step = %s, want failed", g.Step())
	}

	// No retry-in-place: every further call errors.
	if err := g.ConfirmIntro(); err != ErrGateFailed {
		t.Fatalf("confirm after failure: got %v, want ErrGateFailed", err)
	}
	if err := g.AdvanceToReady(); err != ErrGateFailed {
		t.Fatalf("advance after failure: got %v, want ErrGateFailed", err)
	}
}

func TestGateBothPermissionsDenied(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	_ = g.ConfirmIntro()

	reasons, err := g.GrantPermissions(false, false, nil)
	if err != ErrGateFailed {
		t.Fatalf("got %v, want ErrGateFailed", err)
	}
	if len(reasons) != 2 {
		t.Fatalf("reasons = %v, want both denials", reasons)
	}
}

func TestGateEnvironmentReasons(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.SetupObservation)
		want   GateReason
	}{
		{"no face", func(o *model.SetupObservation) { o.FaceCount = 0; o.FaceBox = nil }, ReasonNoFace},
		{"multiple faces", func(o *model.SetupObservation) { o.FaceCount = 2 }, ReasonMultipleFaces},
		{"too far", func(o *model.SetupObservation) { o.FaceBox = &model.BoundingBox{X: 0.48, Y: 0.48, Width: 0.1, Height: 0.1} }, ReasonFaceTooFar},
		{"too close", func(o *model.SetupObservation) { o.FaceBox = &model.BoundingBox{X: 0.05, Y: 0.05, Width: 0.9, Height: 0.9} }, ReasonFaceTooClose},
		{"off center", func(o *model.SetupObservation) { o.FaceBox = &model.BoundingBox{X: 0.65, Y: 0.3, Width: 0.3, Height: 0.35} }, ReasonFaceOffCenter},
		{"too dark", func(o *model.SetupObservation) { o.Brightness = 30 }, ReasonTooDark},
		{"too bright", func(o *model.SetupObservation) { o.Brightness = 230 }, ReasonTooBright},
		{"low contrast", func(o *model.SetupObservation) { o.Contrast = 10 }, ReasonLowContrast},
		{"phone visible", func(o *model.SetupObservation) {
			o.Objects = []model.ObjectDetection{{Class: "laptop", Score: 0.8}}
		}, ReasonObjectPresent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := readyGate(t)
			obs := goodEnvironment()
			tt.mutate(&obs)

			res := g.ObserveEnvironment(obs)
			if res.OK {
				t.Fatal("predicate should fail")
			}
			found := false
			for _, r := range res.Reasons {
				if r == tt.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("reasons = %v, want %s", res.Reasons, tt.want)
			}

			// A failing predicate blocks advancement.
			if err := g.AdvanceToReady(); err != ErrGateNotReady {
				t.Fatalf("advance: got %v, want ErrGateNotReady", err)
			}
		})
	}
}

func TestGateLowConfidenceObjectIgnored(t *testing.T) {
	g, _ := readyGate(t)
	obs := goodEnvironment()
	obs.Objects = []model.ObjectDetection{{Class: "cell phone", Score: 0.5}}

	if res := g.ObserveEnvironment(obs); !res.OK {
		t.Fatalf("low-confidence object should not fail the check: %v", res.Reasons)
	}
}

func TestGateAdvanceRequiresObservation(t *testing.T) {
	g, _ := readyGate(t)
	if err := g.AdvanceToReady(); err != ErrGateNoEnvCheck {
		t.Fatalf("got %v, want ErrGateNoEnvCheck", err)
	}
}

func TestGateAdvanceUsesLatestSample(t *testing.T) {
	g, _ := readyGate(t)

	g.ObserveEnvironment(goodEnvironment())
	bad := goodEnvironment()
	bad.Brightness = 30
	g.ObserveEnvironment(bad)

	// The predicate must hold at the moment of the advance request, not at
	// any earlier sample.
	if err := g.AdvanceToReady(); err != ErrGateNotReady {
		t.Fatalf("got %v, want ErrGateNotReady", err)
	}

	g.ObserveEnvironment(goodEnvironment())
	if err := g.AdvanceToReady(); err != nil {
		t.Fatalf("advance with passing sample: %v", err)
	}
	if g.Step() != GateStepReady {
		t.Fatalf("step = %s, want ready", g.Step())
	}
}

func TestGateUnlockTransfersOwnership(t *testing.T) {
	g, stream := readyGate(t)
	g.ObserveEnvironment(goodEnvironment())
	if err := g.AdvanceToReady(); err != nil {
		t.Fatalf("advance: %v", err)
	}

	media, err := g.Unlock()
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if media != stream {
		t.Fatal("unlock should hand back the granted stream")
	}

	// After handover the gate must not release the stream, even on cancel.
	g.Cancel()
	if stream.released != 0 {
		t.Fatalf("gate released a transferred stream %d times", stream.released)
	}
}

func TestGateCancelReleasesOnce(t *testing.T) {
	g, stream := readyGate(t)

	g.Cancel()
	g.Cancel()
	if stream.released != 1 {
		t.Fatalf("stream released %d times, want exactly 1", stream.released)
	}
}
