package gesture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusgeo/tablewatch/internal/debounce"
	"github.com/nexusgeo/tablewatch/internal/detector"
)

// newTestDetector returns a detector with a controllable clock.
func newTestDetector(threshold uint, cooldown time.Duration) (*ServiceRequestDetector, *time.Time) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	s := NewServiceRequestDetector(Config{
		Debounce: debounce.Config{Threshold: threshold, EvictAfter: 5},
		Cooldown: cooldown,
	})
	s.now = func() time.Time { return now }
	return s, &now
}

func tableSeven(*detector.Person) int { return 7 }

func TestObserve_RaisesAfterThreshold(t *testing.T) {
	s, _ := newTestDetector(3, time.Minute)
	people := []detector.Person{detector.HandRaisedPose(4, 0, 0)}

	assert.Empty(t, s.Observe(people, tableSeven))
	assert.Empty(t, s.Observe(people, tableSeven))

	requests := s.Observe(people, tableSeven)
	require.Len(t, requests, 1)
	assert.Equal(t, 4, requests[0].TrackID)
	assert.Equal(t, 7, requests[0].Table)
	assert.Equal(t, uint(3), requests[0].Frames)
	assert.InDelta(t, 0.9, requests[0].Confidence, 1e-9)
}

func TestObserve_CooldownThrottles(t *testing.T) {
	s, now := newTestDetector(2, 10*time.Second)
	people := []detector.Person{detector.HandRaisedPose(1, 0, 0)}

	s.Observe(people, nil)
	require.Len(t, s.Observe(people, nil), 1)

	*now = now.Add(5 * time.Second)
	assert.Empty(t, s.Observe(people, nil), "inside cooldown")

	*now = now.Add(6 * time.Second)
	assert.Len(t, s.Observe(people, nil), 1, "cooldown elapsed")
}

func TestObserve_NegativeCooldownDisablesThrottling(t *testing.T) {
	s, _ := newTestDetector(1, -1)
	people := []detector.Person{detector.HandRaisedPose(1, 0, 0)}

	for i := 0; i < 4; i++ {
		assert.Len(t, s.Observe(people, nil), 1)
	}
}

func TestObserve_LoweringHandRearms(t *testing.T) {
	s, _ := newTestDetector(2, time.Hour)
	raised := []detector.Person{detector.HandRaisedPose(1, 0, 0)}
	resting := []detector.Person{detector.RestingPose(1, 0, 0)}

	s.Observe(raised, nil)
	require.Len(t, s.Observe(raised, nil), 1)

	s.Observe(resting, nil)
	s.Observe(raised, nil)
	assert.Len(t, s.Observe(raised, nil), 1, "a new gesture after lowering the hand should alert again")
}

func TestObserve_IndependentTracks(t *testing.T) {
	s, _ := newTestDetector(3, time.Minute)

	var raisedFrames []int
	for frame := 1; frame <= 4; frame++ {
		people := []detector.Person{
			detector.HandRaisedPose(1, 0, 0),
			detector.RestingPose(2, 300, 0),
		}
		for _, r := range s.Observe(people, nil) {
			assert.Equal(t, 1, r.TrackID)
			raisedFrames = append(raisedFrames, frame)
		}
	}

	assert.Equal(t, []int{3}, raisedFrames)
}

func TestObserve_MissingTrackResets(t *testing.T) {
	s, _ := newTestDetector(3, time.Minute)
	raised := []detector.Person{detector.HandRaisedPose(1, 0, 0)}

	s.Observe(raised, nil)
	s.Observe(raised, nil)
	s.Observe(nil, nil) // track lost for a frame

	assert.Empty(t, s.Observe(raised, nil))
	assert.Empty(t, s.Observe(raised, nil))
	assert.Len(t, s.Observe(raised, nil), 1)
}

func TestSkip_EvictsStaleTracks(t *testing.T) {
	s, _ := newTestDetector(2, time.Minute)
	s.Observe([]detector.Person{detector.HandRaisedPose(1, 0, 0)}, nil)
	require.Len(t, s.Tracks(), 1)

	for i := 0; i < 5; i++ {
		s.Skip()
	}

	assert.Empty(t, s.Tracks())
	assert.Empty(t, s.lastRequest)
}

func TestActiveAndReset(t *testing.T) {
	s, _ := newTestDetector(1, time.Minute)
	assert.False(t, s.Active())

	s.Observe([]detector.Person{detector.HandRaisedPose(1, 0, 0)}, nil)
	assert.True(t, s.Active())

	s.Skip()
	assert.False(t, s.Active(), "a frame without the track clears its count")

	s.Reset()
	assert.Empty(t, s.Tracks())
}

func TestCounting(t *testing.T) {
	s, _ := newTestDetector(5, time.Minute)
	assert.False(t, s.Counting())

	s.Observe([]detector.Person{detector.RestingPose(1, 0, 0)}, nil)
	assert.False(t, s.Counting(), "a resting guest is not counted")

	s.Observe([]detector.Person{detector.HandRaisedPose(1, 0, 0)}, nil)
	assert.True(t, s.Counting(), "a raised hand below the threshold is counted")
	assert.False(t, s.Active())

	s.Observe([]detector.Person{detector.RestingPose(1, 0, 0)}, nil)
	assert.False(t, s.Counting())
}
