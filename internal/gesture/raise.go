// Package gesture derives service-request gestures from tracked pose keypoints.
package gesture

import "github.com/nexusgeo/tablewatch/internal/detector"

// HandRaised reports whether either wrist is above the nose (smaller Y).
//
// Fewer keypoints than the right wrist index, or a nose the model did not
// locate, yields false. A wrist that was not located never counts as raised.
func HandRaised(keypoints []detector.Point2D) bool {
	if len(keypoints) <= detector.RightWrist {
		return false
	}

	nose := keypoints[detector.Nose]
	if !nose.Located() {
		return false
	}

	for _, i := range []int{detector.LeftWrist, detector.RightWrist} {
		wrist := keypoints[i]
		if wrist.Located() && wrist.Y < nose.Y {
			return true
		}
	}
	return false
}
