package detector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"path/filepath"
	"testing"
)

func TestPoint2D_Located(t *testing.T) {
	tests := []struct {
		name  string
		point Point2D
		want  bool
	}{
		{name: "origin is missing", point: Point2D{}, want: false},
		{name: "x only", point: Point2D{X: 3}, want: true},
		{name: "y only", point: Point2D{Y: 3}, want: true},
		{name: "both", point: Point2D{X: 120.5, Y: 88}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.point.Located(); got != tt.want {
				t.Errorf("Located() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPerson_Keypoint(t *testing.T) {
	p := RestingPose(1, 0, 0)

	t.Run("in range", func(t *testing.T) {
		kp, ok := p.Keypoint(Nose)
		if !ok {
			t.Fatal("expected nose to be located")
		}
		if kp.X != 60 || kp.Y != 40 {
			t.Errorf("nose = %+v, want {60 40}", kp)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		if _, ok := p.Keypoint(NumKeypoints); ok {
			t.Error("expected index past the end to be missing")
		}
		if _, ok := p.Keypoint(-1); ok {
			t.Error("expected negative index to be missing")
		}
	})

	t.Run("nil person", func(t *testing.T) {
		var nilPerson *Person
		if _, ok := nilPerson.Keypoint(Nose); ok {
			t.Error("expected nil person to have no keypoints")
		}
	})

	t.Run("unlocated keypoint", func(t *testing.T) {
		q := RestingPose(2, 0, 0)
		q.Keypoints[LeftWrist] = Point2D{}
		if _, ok := q.Keypoint(LeftWrist); ok {
			t.Error("expected origin keypoint to be reported missing")
		}
	})
}

func TestPerson_Center(t *testing.T) {
	p := Person{Box: image.Rect(100, 200, 300, 600)}
	if got := p.Center(); got != image.Pt(200, 400) {
		t.Errorf("Center() = %v, want (200,400)", got)
	}
}

func TestMockDetector(t *testing.T) {
	t.Run("returns no people by default", func(t *testing.T) {
		mock := NewMockDetector()

		people, err := mock.Detect(nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if people != nil {
			t.Errorf("expected nil people, got %v", people)
		}
	})

	t.Run("returns configured people", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetPeople([]Person{RestingPose(1, 0, 0), HandRaisedPose(2, 200, 0)})

		people, err := mock.Detect(nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(people) != 2 {
			t.Errorf("expected 2 people, got %d", len(people))
		}
		if mock.Calls() != 1 {
			t.Errorf("Calls() = %d, want 1", mock.Calls())
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockDetector()

		expectedErr := errors.New("detection failed")
		mock.SetError(expectedErr)

		people, err := mock.Detect(nil)

		if err != expectedErr {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if people != nil {
			t.Errorf("expected nil people when error is set, got %v", people)
		}
	})

	t.Run("implements Detector interface", func(t *testing.T) {
		var _ Detector = (*MockDetector)(nil)
		var _ Detector = (*PoseServiceDetector)(nil)
	})
}

func TestPresetPoses(t *testing.T) {
	t.Run("resting wrists are below the nose", func(t *testing.T) {
		p := RestingPose(1, 50, 50)
		nose := p.Keypoints[Nose]
		if p.Keypoints[LeftWrist].Y <= nose.Y || p.Keypoints[RightWrist].Y <= nose.Y {
			t.Error("resting pose should keep both wrists below the nose")
		}
	})

	t.Run("raised right wrist is above the nose", func(t *testing.T) {
		p := HandRaisedPose(1, 50, 50)
		if p.Keypoints[RightWrist].Y >= p.Keypoints[Nose].Y {
			t.Error("right wrist should be above the nose (lower Y value)")
		}
		if p.Keypoints[LeftWrist].Y <= p.Keypoints[Nose].Y {
			t.Error("left wrist should stay below the nose")
		}
	})

	t.Run("full keypoint set", func(t *testing.T) {
		p := HandRaisedPose(4, 0, 0)
		if len(p.Keypoints) != NumKeypoints {
			t.Errorf("len(Keypoints) = %d, want %d", len(p.Keypoints), NumKeypoints)
		}
		if p.TrackID != 4 {
			t.Errorf("TrackID = %d, want 4", p.TrackID)
		}
	})
}

func TestParseResponse(t *testing.T) {
	t.Run("converts people", func(t *testing.T) {
		line := []byte(`{"people":[{"track_id":3,"confidence":0.8,"box":[10,20,110,320],"keypoints":[[60,40],[0,0]]}]}` + "\n")

		people, err := parseResponse(line, 0.5)
		if err != nil {
			t.Fatalf("parseResponse() error = %v", err)
		}
		if len(people) != 1 {
			t.Fatalf("len(people) = %d, want 1", len(people))
		}

		p := people[0]
		if p.TrackID != 3 {
			t.Errorf("TrackID = %d, want 3", p.TrackID)
		}
		if p.Box != image.Rect(10, 20, 110, 320) {
			t.Errorf("Box = %v", p.Box)
		}
		if len(p.Keypoints) != 2 || p.Keypoints[0] != (Point2D{X: 60, Y: 40}) {
			t.Errorf("Keypoints = %v", p.Keypoints)
		}
	})

	t.Run("drops untracked and low confidence", func(t *testing.T) {
		line := []byte(`{"people":[{"confidence":0.9},{"track_id":1,"confidence":0.3},{"track_id":2,"confidence":0.5}]}`)

		people, err := parseResponse(line, 0.5)
		if err != nil {
			t.Fatalf("parseResponse() error = %v", err)
		}
		if len(people) != 1 || people[0].TrackID != 2 {
			t.Errorf("people = %+v, want only track 2", people)
		}
	})

	t.Run("service error", func(t *testing.T) {
		if _, err := parseResponse([]byte(`{"error":"model not loaded"}`), 0.5); err == nil {
			t.Error("expected error for service-reported failure")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := parseResponse([]byte(`not json`), 0.5); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0xff, 0xd8, 0x01, 0x02}

	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame() error = %v", err)
	}

	out := buf.Bytes()
	if len(out) != 4+len(payload) {
		t.Fatalf("wrote %d bytes, want %d", len(out), 4+len(payload))
	}
	if n := binary.BigEndian.Uint32(out[:4]); n != uint32(len(payload)) {
		t.Errorf("length prefix = %d, want %d", n, len(payload))
	}
	if !bytes.Equal(out[4:], payload) {
		t.Errorf("payload = %v, want %v", out[4:], payload)
	}
}

func TestNewPoseServiceDetector_MissingScript(t *testing.T) {
	_, err := NewPoseServiceDetector(Config{Script: "/nonexistent/pose_service.py"})
	if !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("error = %v, want ErrScriptNotFound", err)
	}
}

func TestNewPoseServiceDetector_BundledScript(t *testing.T) {
	d, err := NewPoseServiceDetector(Config{})
	if err != nil {
		t.Fatalf("NewPoseServiceDetector() error = %v", err)
	}
	defer d.Close()

	want := filepath.Join("scripts", "pose_service.py")
	if rel := filepath.Join(filepath.Base(filepath.Dir(d.script)), filepath.Base(d.script)); rel != want {
		t.Errorf("script = %s, want a path ending in %s", d.script, want)
	}
}
