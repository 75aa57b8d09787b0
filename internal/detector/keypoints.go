// Package detector provides pose detection interfaces and types for the
// service-request pipeline.
package detector

import "image"

// Body keypoint indices following the COCO 17-point convention used by
// YOLOv8-Pose.
const (
	Nose          = 0
	LeftEye       = 1
	RightEye      = 2
	LeftEar       = 3
	RightEar      = 4
	LeftShoulder  = 5
	RightShoulder = 6
	LeftElbow     = 7
	RightElbow    = 8
	LeftWrist     = 9
	RightWrist    = 10
	LeftHip       = 11
	RightHip      = 12
	LeftKnee      = 13
	RightKnee     = 14
	LeftAnkle     = 15
	RightAnkle    = 16
	NumKeypoints  = 17
)

// Point2D is a keypoint in frame pixel coordinates. Y grows downward.
type Point2D struct {
	X, Y float64
}

// Located reports whether the model placed this keypoint. Keypoints the
// model could not find are reported at the origin.
func (p Point2D) Located() bool {
	return p.X != 0 || p.Y != 0
}

// Pt converts the keypoint to an integer image point.
func (p Point2D) Pt() image.Point {
	return image.Pt(int(p.X), int(p.Y))
}

// Person is one tracked person in a frame.
type Person struct {
	TrackID    int
	Keypoints  []Point2D
	Confidence float64
	Box        image.Rectangle
}

// Keypoint returns the keypoint at index i and whether it was located.
func (p *Person) Keypoint(i int) (Point2D, bool) {
	if p == nil || i < 0 || i >= len(p.Keypoints) {
		return Point2D{}, false
	}
	kp := p.Keypoints[i]
	return kp, kp.Located()
}

// Center returns the centre of the person's bounding box.
func (p *Person) Center() image.Point {
	return image.Pt((p.Box.Min.X+p.Box.Max.X)/2, (p.Box.Min.Y+p.Box.Max.Y)/2)
}
