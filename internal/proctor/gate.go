package proctor

import (
	"errors"

	"github.com/coursiva/proctor-backend/internal/model"
)

// GateStep enumerates the setup gate checkpoints, strictly forward.
type GateStep string

const (
	GateStepIntro            GateStep = "intro"
	GateStepPermissions      GateStep = "permissions"
	GateStepEnvironmentCheck GateStep = "environment_check"
	GateStepReady            GateStep = "ready"
	GateStepFailed           GateStep = "failed"
)

// GateReason is a stable reason code for a rejected gate predicate, used
// by the caller to render guidance.
type GateReason string

const (
	ReasonCameraDenied  GateReason = "camera_denied"
	ReasonMicDenied     GateReason = "microphone_denied"
	ReasonNoFace        GateReason = "no_face"
	ReasonMultipleFaces GateReason = "multiple_faces"
	ReasonFaceTooFar    GateReason = "face_too_far"
	ReasonFaceTooClose  GateReason = "face_too_close"
	ReasonFaceOffCenter GateReason = "face_off_center"
	ReasonTooDark       GateReason = "too_dark"
	ReasonTooBright     GateReason = "too_bright"
	ReasonLowContrast   GateReason = "low_contrast"
	ReasonObjectPresent GateReason = "object_detected"
)

// Gate errors.
var (
	ErrGateOrder      = errors.New("gate steps must be advanced in order")
	ErrGateFailed     = errors.New("gate attempt failed, restart the flow")
	ErrGateNotReady   = errors.New("environment predicate does not hold")
	ErrGateNoEnvCheck = errors.New("no environment sample observed yet")
)

// GateConfig holds the environment check thresholds.
type GateConfig struct {
	MinFaceArea      float64 // fraction of frame area, reject below (too far)
	MaxFaceArea      float64 // fraction of frame area, reject above (too close)
	MaxCenterOffset  float64 // fraction of frame dimension from center
	MinBrightness    float64 // 0-255, exclusive lower bound
	MaxBrightness    float64 // 0-255, exclusive upper bound
	MinContrast      float64 // brightness std deviation floor
	ObjectConfidence float64
}

// DefaultGateConfig returns the production environment check thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinFaceArea:      0.05,
		MaxFaceArea:      0.70,
		MaxCenterOffset:  0.25,
		MinBrightness:    50,
		MaxBrightness:    220,
		MinContrast:      15,
		ObjectConfidence: 0.60,
	}
}

// MediaStream is the acquired camera/microphone resource. The gate owns it
// from permission grant until it either hands it to the session (advancing
// out of Ready) or releases it (cancel or failure). Release is called at
// most once.
type MediaStream interface {
	Release()
}

// EnvironmentResult is one recomputation of the environment predicate.
// Reasons lists every failing sub-condition.
type EnvironmentResult struct {
	OK      bool         `json:"ok"`
	Reasons []GateReason `json:"reasons,omitempty"`
}

// Gate is the one-shot pre-session environment validation state machine.
// It never retries silently: every rejection carries its reason codes and
// a permission denial is terminal for the whole attempt.
//
// Not safe for concurrent use; the owning session serializes access.
type Gate struct {
	cfg      GateConfig
	step     GateStep
	media    MediaStream
	released bool
	lastEnv  *EnvironmentResult
}

// NewGate creates a gate at the Intro checkpoint.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg, step: GateStepIntro}
}

// Step returns the current checkpoint.
func (g *Gate) Step() GateStep {
	return g.step
}

// ConfirmIntro advances Intro to Permissions. Intro has no predicate.
func (g *Gate) ConfirmIntro() error {
	if g.step == GateStepFailed {
		return ErrGateFailed
	}
	if g.step != GateStepIntro {
		return ErrGateOrder
	}
	g.step = GateStepPermissions
	return nil
}

// GrantPermissions records the camera/microphone consent outcome. On full
// grant the gate takes ownership of the media stream and advances to the
// environment check. Any denial fails the gate permanently; the caller
// must restart the whole flow.
func (g *Gate) GrantPermissions(camera, mic bool, media MediaStream) ([]GateReason, error) {
	if g.step == GateStepFailed {
		return nil, ErrGateFailed
	}
	if g.step != GateStepPermissions {
		return nil, ErrGateOrder
	}

	var denied []GateReason
	if !camera {
		denied = append(denied, ReasonCameraDenied)
	}
	if !mic {
		denied = append(denied, ReasonMicDenied)
	}
	if len(denied) > 0 {
		g.fail(media)
		return denied, ErrGateFailed
	}

	g.media = media
	g.step = GateStepEnvironmentCheck
	return nil, nil
}

// ObserveEnvironment recomputes the environment predicate from one setup
// sample. The caller feeds samples continuously (about ten per second);
// only the most recent result counts at the moment of an advance request.
func (g *Gate) ObserveEnvironment(obs model.SetupObservation) EnvironmentResult {
	res := g.checkEnvironment(obs)
	if g.step == GateStepEnvironmentCheck {
		g.lastEnv = &res
	}
	return res
}

// AdvanceToReady moves EnvironmentCheck to Ready, but only while the most
// recently observed predicate holds.
func (g *Gate) AdvanceToReady() error {
	if g.step == GateStepFailed {
		return ErrGateFailed
	}
	if g.step != GateStepEnvironmentCheck {
		return ErrGateOrder
	}
	if g.lastEnv == nil {
		return ErrGateNoEnvCheck
	}
	if !g.lastEnv.OK {
		return ErrGateNotReady
	}
	g.step = GateStepReady
	return nil
}

// Unlock hands the media stream out of a Ready gate. Ownership transfers
// to the caller; the gate will not release it afterwards.
func (g *Gate) Unlock() (MediaStream, error) {
	if g.step != GateStepReady {
		return nil, ErrGateOrder
	}
	media := g.media
	g.media = nil
	g.released = true // Ownership transferred, never release here.
	return media, nil
}

// Cancel abandons the gate, releasing the acquired media resource if the
// gate still owns it. Safe to call on any step, any number of times.
func (g *Gate) Cancel() {
	g.fail(g.media)
}

// LastEnvironment returns the most recent environment check result, or nil
// before the first sample.
func (g *Gate) LastEnvironment() *EnvironmentResult {
	return g.lastEnv
}

func (g *Gate) fail(media MediaStream) {
	g.step = GateStepFailed
	if media != nil && !g.released {
		media.Release()
	}
	g.released = true
	g.media = nil
}

// checkEnvironment evaluates every sub-condition and collects all failing
// reason codes so the caller can show complete guidance at once.
func (g *Gate) checkEnvironment(obs model.SetupObservation) EnvironmentResult {
	var reasons []GateReason

	switch {
	case obs.FaceCount == 0:
		reasons = append(reasons, ReasonNoFace)
	case obs.FaceCount > 1:
		reasons = append(reasons, ReasonMultipleFaces)
	case obs.FaceBox == nil:
		reasons = append(reasons, ReasonNoFace)
	default:
		box := obs.FaceBox
		area := box.Width * box.Height
		if area < g.cfg.MinFaceArea {
			reasons = append(reasons, ReasonFaceTooFar)
		} else if area > g.cfg.MaxFaceArea {
			reasons = append(reasons, ReasonFaceTooClose)
		}

		offsetX := box.X + box.Width/2 - 0.5
		offsetY := box.Y + box.Height/2 - 0.5
		if offsetX < 0 {
			offsetX = -offsetX
		}
		if offsetY < 0 {
			offsetY = -offsetY
		}
		if offsetX > g.cfg.MaxCenterOffset || offsetY > g.cfg.MaxCenterOffset {
			reasons = append(reasons, ReasonFaceOffCenter)
		}

		if obs.Brightness <= g.cfg.MinBrightness {
			reasons = append(reasons, ReasonTooDark)
		} else if obs.Brightness >= g.cfg.MaxBrightness {
			reasons = append(reasons, ReasonTooBright)
		} else if obs.Contrast < g.cfg.MinContrast {
			reasons = append(reasons, ReasonLowContrast)
		}
	}

	for _, obj := range obs.Objects {
		if disallowedObjects[obj.Class] && obj.Score > g.cfg.ObjectConfidence {
			reasons = append(reasons, ReasonObjectPresent)
			break
		}
	}

	return EnvironmentResult{OK: len(reasons) == 0, Reasons: reasons}
}
