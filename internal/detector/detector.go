package detector

import "gocv.io/x/gocv"

// Detector defines the interface for pose estimation and tracking backends.
type Detector interface {
	// Detect analyzes a video frame and returns the tracked people in it.
	// Returns an empty slice if nobody is detected.
	Detect(frame *gocv.Mat) ([]Person, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for pose detection.
type Config struct {
	// Script is the path to the pose service script. Empty means search the
	// usual locations.
	Script string

	// Python is the interpreter used to run Script. Empty means look for a
	// virtual environment, then fall back to python3.
	Python string

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.5,
	}
}
