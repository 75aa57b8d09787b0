package gesture

import (
	"image"
	"sync"
	"time"

	"github.com/nexusgeo/tablewatch/internal/debounce"
	"github.com/nexusgeo/tablewatch/internal/detector"
)

// DefaultCooldown is the minimum time between two requests for the same track.
const DefaultCooldown = 10 * time.Second

// Request is a sustained service-request gesture from one tracked person.
type Request struct {
	TrackID    int
	Table      int
	Confidence float64
	Frames     uint
	Box        image.Rectangle
}

// TableFunc maps a person to the table they are seated at.
type TableFunc func(p *detector.Person) int

// Config holds options for a ServiceRequestDetector.
type Config struct {
	Debounce debounce.Config
	// Cooldown is the minimum time between two requests for the same track.
	// Zero selects DefaultCooldown; a negative value disables throttling.
	Cooldown time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Debounce: debounce.DefaultConfig(),
		Cooldown: DefaultCooldown,
	}
}

// ServiceRequestDetector turns per-frame poses into debounced, rate-limited
// service requests. One detector serves one video stream.
type ServiceRequestDetector struct {
	debouncer   *debounce.Debouncer[int]
	cooldown    time.Duration
	lastRequest map[int]time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewServiceRequestDetector creates a detector with its own debouncer.
func NewServiceRequestDetector(config Config) *ServiceRequestDetector {
	cooldown := config.Cooldown
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}

	return &ServiceRequestDetector{
		debouncer:   debounce.New[int](config.Debounce),
		cooldown:    cooldown,
		lastRequest: make(map[int]time.Time),
		now:         time.Now,
	}
}

// Observe evaluates every person in one frame and closes the frame.
// It returns a Request for each track whose hand has been raised for at least
// the debounce threshold and that is not inside its cooldown window.
func (s *ServiceRequestDetector) Observe(people []detector.Person, table TableFunc) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var requests []Request

	for i := range people {
		person := &people[i]
		id := person.TrackID

		if !s.debouncer.Update(id, HandRaised(person.Keypoints)) {
			// Dropping the hand re-arms the track.
			delete(s.lastRequest, id)
			continue
		}

		if last, ok := s.lastRequest[id]; ok && s.cooldown > 0 && now.Sub(last) < s.cooldown {
			continue
		}
		s.lastRequest[id] = now

		req := Request{
			TrackID:    id,
			Confidence: person.Confidence,
			Frames:     s.debouncer.Count(id),
			Box:        person.Box,
		}
		if table != nil {
			req.Table = table(person)
		}
		requests = append(requests, req)
	}

	for _, id := range s.debouncer.EndFrame() {
		delete(s.lastRequest, id)
	}

	return requests
}

// Skip closes a frame in which no detection was run, so missing tracks
// still age out.
func (s *ServiceRequestDetector) Skip() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.debouncer.EndFrame() {
		delete(s.lastRequest, id)
	}
}

// Tracks returns the debouncer state of every known track.
func (s *ServiceRequestDetector) Tracks() []debounce.Entry[int] {
	return s.debouncer.Snapshot()
}

// Active reports whether any track currently holds a raised hand.
func (s *ServiceRequestDetector) Active() bool {
	for _, e := range s.debouncer.Snapshot() {
		if e.Active {
			return true
		}
	}
	return false
}

// Counting reports whether any track has a raised hand being counted,
// including tracks already past the threshold.
func (s *ServiceRequestDetector) Counting() bool {
	for _, e := range s.debouncer.Snapshot() {
		if e.Count > 0 {
			return true
		}
	}
	return false
}

// Reset forgets every track.
func (s *ServiceRequestDetector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.debouncer.Reset()
	s.lastRequest = make(map[int]time.Time)
}
