package model

// Landmark is one normalized facial landmark position.
// Coordinates are in [0,1] relative to the video frame.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FaceGeometry carries the fixed landmark set the gaze analysis needs.
// Present only when the inference collaborator found exactly one face.
type FaceGeometry struct {
	NoseTip        Landmark `json:"nose_tip"`
	LeftEar        Landmark `json:"left_ear"`
	RightEar       Landmark `json:"right_ear"`
	IrisCenter     Landmark `json:"iris_center"`
	EyeOuterCorner Landmark `json:"eye_outer_corner"`
	EyeInnerCorner Landmark `json:"eye_inner_corner"`
}

// ObjectDetection is one detected-object label with confidence from the
// object detection model.
type ObjectDetection struct {
	Class string  `json:"class"`
	Score float64 `json:"score"`
}

// Observation is a single per-frame sample from the vision/audio
// collaborators, streamed by the client at the monitoring cadence.
type Observation struct {
	FaceCount  int               `json:"face_count"`
	Face       *FaceGeometry     `json:"face,omitempty"`
	Objects    []ObjectDetection `json:"objects,omitempty"`
	AudioLevel float64           `json:"audio_level"` // 0-255 scale
}

// BoundingBox is a normalized face bounding box within the frame.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SetupObservation is the richer sample used during the environment check.
// Brightness and contrast are measured on the face region by the client
// (mean and standard deviation on a 0-255 scale).
type SetupObservation struct {
	FaceCount  int               `json:"face_count"`
	FaceBox    *BoundingBox      `json:"face_box,omitempty"`
	Brightness float64           `json:"brightness"`
	Contrast   float64           `json:"contrast"`
	Objects    []ObjectDetection `json:"objects,omitempty"`
}
