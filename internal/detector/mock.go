package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	people []Person
	err    error
	calls  int
	mu     sync.Mutex
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetPeople sets the people that will be returned by Detect.
func (m *MockDetector) SetPeople(people []Person) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people = people
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured people or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.people, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// RestingPose returns a seated person with both hands on the table.
// The box spans (x, y)-(x+120, y+300).
func RestingPose(trackID, x, y int) Person {
	p := Person{
		TrackID:    trackID,
		Confidence: 0.9,
		Box:        image.Rect(x, y, x+120, y+300),
		Keypoints:  make([]Point2D, NumKeypoints),
	}

	fx, fy := float64(x), float64(y)
	p.Keypoints[Nose] = Point2D{X: fx + 60, Y: fy + 40}
	p.Keypoints[LeftEye] = Point2D{X: fx + 52, Y: fy + 32}
	p.Keypoints[RightEye] = Point2D{X: fx + 68, Y: fy + 32}
	p.Keypoints[LeftEar] = Point2D{X: fx + 44, Y: fy + 38}
	p.Keypoints[RightEar] = Point2D{X: fx + 76, Y: fy + 38}
	p.Keypoints[LeftShoulder] = Point2D{X: fx + 30, Y: fy + 90}
	p.Keypoints[RightShoulder] = Point2D{X: fx + 90, Y: fy + 90}
	p.Keypoints[LeftElbow] = Point2D{X: fx + 20, Y: fy + 150}
	p.Keypoints[RightElbow] = Point2D{X: fx + 100, Y: fy + 150}
	p.Keypoints[LeftWrist] = Point2D{X: fx + 35, Y: fy + 190}
	p.Keypoints[RightWrist] = Point2D{X: fx + 85, Y: fy + 190}
	p.Keypoints[LeftHip] = Point2D{X: fx + 40, Y: fy + 200}
	p.Keypoints[RightHip] = Point2D{X: fx + 80, Y: fy + 200}
	p.Keypoints[LeftKnee] = Point2D{X: fx + 35, Y: fy + 250}
	p.Keypoints[RightKnee] = Point2D{X: fx + 85, Y: fy + 250}
	p.Keypoints[LeftAnkle] = Point2D{X: fx + 35, Y: fy + 295}
	p.Keypoints[RightAnkle] = Point2D{X: fx + 85, Y: fy + 295}

	return p
}

// HandRaisedPose returns the resting pose with the right arm raised so the
// right wrist sits above the head.
func HandRaisedPose(trackID, x, y int) Person {
	p := RestingPose(trackID, x, y)

	fx, fy := float64(x), float64(y)
	p.Keypoints[RightElbow] = Point2D{X: fx + 105, Y: fy + 50}
	p.Keypoints[RightWrist] = Point2D{X: fx + 100, Y: fy + 5}

	return p
}
