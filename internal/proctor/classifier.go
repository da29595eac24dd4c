package proctor

import (
	"fmt"
	"math"
	"time"

	"github.com/coursiva/proctor-backend/internal/model"
)

// ClassifierConfig holds the calibration constants for signal
// classification. The defaults were tuned against the MediaPipe FaceMesh /
// COCO-SSD output distribution; a different inference collaborator may need
// re-tuning.
type ClassifierConfig struct {
	YawLimit         float64       // |yaw ratio| above which the taker is looking away
	VolatilityLimit  float64       // iris ratio std deviation above which gaze is scanning
	ObjectConfidence float64       // minimum confidence for a disallowed object
	AudioThreshold   float64       // loudness threshold on the 0-255 scale
	GracePeriod      time.Duration // no-face suppression window after unlock
	WindowSize       int           // rolling iris window length
	MinWindowSamples int           // samples required before volatility is computed
}

// DefaultClassifierConfig returns the calibration used in production.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		YawLimit:         0.7,
		VolatilityLimit:  0.2,
		ObjectConfidence: 0.60,
		AudioThreshold:   50,
		GracePeriod:      5 * time.Second,
		WindowSize:       20,
		MinWindowSamples: 6,
	}
}

// disallowedObjects are the detection classes that constitute a phone/
// reference-material violation.
var disallowedObjects = map[string]bool{
	"cell phone":   true,
	"mobile phone": true,
	"laptop":       true,
	"book":         true,
}

// Classifier maps raw observation samples to at most one violation
// candidate each, plus a gaze label. Its only memory is the rolling iris
// window; it is not safe for concurrent use and is owned by one session.
type Classifier struct {
	cfg  ClassifierConfig
	iris []float64 // rolling window of iris ratios, oldest first
}

// NewClassifier creates a classifier with the given calibration.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{
		cfg:  cfg,
		iris: make([]float64, 0, cfg.WindowSize),
	}
}

// ClassifyFrame evaluates one face-analysis sample. Rules are checked in
// priority order and the first match wins, so a single frame never yields
// more than one candidate. sinceUnlock is the elapsed time since the
// environment gate unlocked the session.
func (c *Classifier) ClassifyFrame(obs model.Observation, sinceUnlock time.Duration) (*Candidate, GazeState) {
	if obs.FaceCount == 0 {
		if sinceUnlock < c.cfg.GracePeriod {
			// Camera warm-up right after unlock is not a violation.
			return nil, GazeNoFace
		}
		return &Candidate{Type: ViolationNoFace, Severity: SeverityHigh}, GazeNoFace
	}

	if obs.FaceCount > 1 {
		return &Candidate{
			Type:     ViolationMultipleFaces,
			Severity: SeverityCritical,
			Evidence: fmt.Sprintf("%d faces in frame", obs.FaceCount),
		}, GazeMultipleFaces
	}

	if obs.Face == nil {
		// Collaborator reported one face but omitted landmarks; treat as a
		// transient inference error and skip the sample.
		return nil, GazeFocused
	}

	if yaw := yawRatio(obs.Face); yaw > c.cfg.YawLimit || yaw < -c.cfg.YawLimit {
		return &Candidate{Type: ViolationLookingAway, Severity: SeverityMedium}, GazeLookingAway
	}

	c.pushIris(irisRatio(obs.Face))
	if v, ok := c.volatility(); ok && v > c.cfg.VolatilityLimit {
		return &Candidate{Type: ViolationEyeMovement, Severity: SeverityHigh}, GazeScanning
	}

	return nil, GazeFocused
}

// ClassifyObjects evaluates an object detection sample. It runs on its own
// slower cadence, independent of face analysis.
func (c *Classifier) ClassifyObjects(objects []model.ObjectDetection) *Candidate {
	for _, obj := range objects {
		if disallowedObjects[obj.Class] && obj.Score > c.cfg.ObjectConfidence {
			return &Candidate{
				Type:     ViolationPhoneDetected,
				Severity: SeverityCritical,
				Evidence: fmt.Sprintf("Detected %s", obj.Class),
			}
		}
	}
	return nil
}

// ClassifyAudio evaluates a loudness sample on the 0-255 scale.
func (c *Classifier) ClassifyAudio(level float64) *Candidate {
	if level > c.cfg.AudioThreshold {
		return &Candidate{Type: ViolationAudioDetected, Severity: SeverityLow}
	}
	return nil
}

// yawRatio estimates head rotation from the horizontal nose-to-ear
// distances. Ranges -1 (fully left) to 1 (fully right).
func yawRatio(f *model.FaceGeometry) float64 {
	distLeft := math.Abs(f.NoseTip.X - f.LeftEar.X)
	distRight := math.Abs(f.NoseTip.X - f.RightEar.X)
	total := distLeft + distRight
	if total == 0 {
		return 0
	}
	return (distLeft - distRight) / total
}

// irisRatio is the horizontal offset of the iris center within its
// eye-corner span: 0 fully left, 1 fully right.
func irisRatio(f *model.FaceGeometry) float64 {
	span := math.Abs(f.EyeInnerCorner.X - f.EyeOuterCorner.X)
	if span == 0 {
		return 0.5
	}
	return math.Abs(f.IrisCenter.X-f.EyeOuterCorner.X) / span
}

func (c *Classifier) pushIris(ratio float64) {
	c.iris = append(c.iris, ratio)
	if len(c.iris) > c.cfg.WindowSize {
		c.iris = c.iris[1:]
	}
}

// volatility is the population standard deviation of the iris window. A
// single-frame reading cannot distinguish a glance from scanning a hidden
// reference, so short-horizon dispersion is used instead.
func (c *Classifier) volatility() (float64, bool) {
	n := len(c.iris)
	if n < c.cfg.MinWindowSamples {
		return 0, false
	}

	var mean float64
	for _, v := range c.iris {
		mean += v
	}
	mean /= float64(n)

	var variance float64
	for _, v := range c.iris {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)

	return math.Sqrt(variance), true
}
