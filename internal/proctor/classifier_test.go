package proctor

import (
	"testing"
	"time"

	"github.com/coursiva/proctor-backend/internal/model"
)

// faceWithYaw builds landmarks whose nose/ear distances produce the given
// yaw ratio, with a centered iris.
func faceWithYaw(ratio float64) *model.FaceGeometry {
	return &model.FaceGeometry{
		NoseTip:        model.Landmark{X: (ratio + 1) / 2, Y: 0.5},
		LeftEar:        model.Landmark{X: 0, Y: 0.5},
		RightEar:       model.Landmark{X: 1, Y: 0.5},
		IrisCenter:     model.Landmark{X: 0.4, Y: 0.45},
		EyeOuterCorner: model.Landmark{X: 0.3, Y: 0.45},
		EyeInnerCorner: model.Landmark{X: 0.5, Y: 0.45},
	}
}

// faceWithIris builds neutral-yaw landmarks with the iris at the given
// position within its eye-corner span.
func faceWithIris(ratio float64) *model.FaceGeometry {
	f := faceWithYaw(0)
	f.IrisCenter.X = 0.3 + ratio*0.2
	return f
}

func oneFace(f *model.FaceGeometry) model.Observation {
	return model.Observation{FaceCount: 1, Face: f}
}

func TestClassifyFrameNoFace(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	// Inside the grace period absence is suppressed.
	cand, gaze := c.ClassifyFrame(model.Observation{FaceCount: 0}, 2*time.Second)
	if cand != nil {
		t.Fatalf("expected no candidate during grace period, got %s", cand.Type)
	}
	if gaze != GazeNoFace {
		t.Fatalf("expected gaze %s, got %s", GazeNoFace, gaze)
	}

	// After the grace period it is a high-severity violation.
	cand, _ = c.ClassifyFrame(model.Observation{FaceCount: 0}, 6*time.Second)
	if cand == nil {
		t.Fatal("expected a candidate after grace period")
	}
	if cand.Type != ViolationNoFace || cand.Severity != SeverityHigh {
		t.Fatalf("expected high no_face, got %s/%s", cand.Type, cand.Severity)
	}
}

func TestClassifyFrameMultipleFaces(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	cand, gaze := c.ClassifyFrame(model.Observation{FaceCount: 3}, time.Minute)
	if cand == nil || cand.Type != ViolationMultipleFaces {
		t.Fatalf("expected multiple_faces, got %+v", cand)
	}
	if cand.Severity != SeverityCritical {
		t.Fatalf("expected critical severity, got %s", cand.Severity)
	}
	if gaze != GazeMultipleFaces {
		t.Fatalf("expected gaze %s, got %s", GazeMultipleFaces, gaze)
	}
}

func TestClassifyFrameYawSequence(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	yaws := []float64{0.75, 0.2, -0.8}
	var got []*Candidate
	for _, y := range yaws {
		cand, _ := c.ClassifyFrame(oneFace(faceWithYaw(y)), time.Minute)
		got = append(got, cand)
	}

	if got[0] == nil || got[0].Type != ViolationLookingAway {
		t.Fatalf("yaw 0.75 should be looking_away, got %+v", got[0])
	}
	if got[1] != nil {
		t.Fatalf("yaw 0.2 should be clean, got %s", got[1].Type)
	}
	if got[2] == nil || got[2].Type != ViolationLookingAway {
		t.Fatalf("yaw -0.8 should be looking_away, got %+v", got[2])
	}
	if got[0].Severity != SeverityMedium {
		t.Fatalf("looking_away should be medium, got %s", got[0].Severity)
	}
}

func TestClassifyFrameIrisVolatility(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	// Alternating extremes: std deviation 0.5, well above the 0.2 limit,
	// but only once the window holds six samples.
	for i := 0; i < 5; i++ {
		cand, _ := c.ClassifyFrame(oneFace(faceWithIris(float64(i%2))), time.Minute)
		if cand != nil {
			t.Fatalf("sample %d: volatility should not fire before 6 samples, got %s", i, cand.Type)
		}
	}

	cand, gaze := c.ClassifyFrame(oneFace(faceWithIris(1)), time.Minute)
	if cand == nil || cand.Type != ViolationEyeMovement {
		t.Fatalf("expected suspicious_eye_movement on 6th sample, got %+v", cand)
	}
	if cand.Severity != SeverityHigh {
		t.Fatalf("expected high severity, got %s", cand.Severity)
	}
	if gaze != GazeScanning {
		t.Fatalf("expected gaze %s, got %s", GazeScanning, gaze)
	}
}

func TestClassifyFrameStableIrisStaysClean(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	for i := 0; i < 20; i++ {
		cand, gaze := c.ClassifyFrame(oneFace(faceWithIris(0.5)), time.Minute)
		if cand != nil {
			t.Fatalf("sample %d: stable gaze should not produce candidates, got %s", i, cand.Type)
		}
		if gaze != GazeFocused {
			t.Fatalf("expected focused gaze, got %s", gaze)
		}
	}
}

func TestClassifyFramePriorityOrder(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	// A frame with zero faces AND a visible phone must yield only the
	// face-rule candidate: one candidate per sample, first match wins.
	obs := model.Observation{
		FaceCount: 0,
		Objects:   []model.ObjectDetection{{Class: "cell phone", Score: 0.9}},
	}
	cand, _ := c.ClassifyFrame(obs, time.Minute)
	if cand == nil || cand.Type != ViolationNoFace {
		t.Fatalf("expected no_face to win priority, got %+v", cand)
	}
}

func TestClassifyObjects(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	tests := []struct {
		name    string
		objects []model.ObjectDetection
		want    bool
	}{
		{"phone above threshold", []model.ObjectDetection{{Class: "cell phone", Score: 0.7}}, true},
		{"book above threshold", []model.ObjectDetection{{Class: "book", Score: 0.61}}, true},
		{"phone below threshold", []model.ObjectDetection{{Class: "cell phone", Score: 0.5}}, false},
		{"benign object", []model.ObjectDetection{{Class: "bottle", Score: 0.95}}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := c.ClassifyObjects(tt.objects)
			if (cand != nil) != tt.want {
				t.Fatalf("got %+v, want candidate=%v", cand, tt.want)
			}
			if cand != nil {
				if cand.Type != ViolationPhoneDetected || cand.Severity != SeverityCritical {
					t.Fatalf("expected critical phone_detected, got %s/%s", cand.Type, cand.Severity)
				}
				if cand.Evidence == "" {
					t.Fatal("expected evidence naming the detected class")
				}
			}
		})
	}
}

func TestClassifyAudio(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())

	if cand := c.ClassifyAudio(50); cand != nil {
		t.Fatalf("level at threshold should be clean, got %s", cand.Type)
	}
	cand := c.ClassifyAudio(51)
	if cand == nil || cand.Type != ViolationAudioDetected || cand.Severity != SeverityLow {
		t.Fatalf("expected low audio_detected, got %+v", cand)
	}
}
