// Package app runs the service-request pipeline: it reads frames, detects
// raised hands per tracked guest, and raises alerts for their tables.
package app

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/nexusgeo/tablewatch/internal/alert"
	"github.com/nexusgeo/tablewatch/internal/capture"
	"github.com/nexusgeo/tablewatch/internal/debounce"
	"github.com/nexusgeo/tablewatch/internal/detector"
	"github.com/nexusgeo/tablewatch/internal/gesture"
	"github.com/nexusgeo/tablewatch/internal/store"
	"github.com/nexusgeo/tablewatch/internal/zone"
)

// settingEnabled is the settings key persisting SetEnabled.
const settingEnabled = "detection.enabled"

// retentionInterval is how often expired alerts are purged.
const retentionInterval = time.Hour

// Config holds configuration options for the application.
type Config struct {
	Store    *store.Store
	Camera   capture.Camera
	Detector detector.Detector
	// DetectorConfig is used to start the pose service when Detector is nil.
	DetectorConfig detector.Config
	Sender         alert.Sender
	Gesture        gesture.Config
	Gate           capture.GateConfig
	// MotionThresh is the changed-pixel percentage that counts as motion.
	MotionThresh float64
	DefaultTable int
	// Zones are used when the store holds none.
	Zones []zone.Zone
	// Retention is how long alerts are kept. Zero keeps them forever.
	Retention time.Duration
}

// Event is an alert as pushed to live listeners.
type Event struct {
	ID         string    `json:"id"`
	TrackID    int       `json:"track_id"`
	Table      int       `json:"table"`
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

func eventFromAlert(a *alert.Alert) Event {
	return Event{
		ID:         a.ID,
		TrackID:    a.TrackID,
		Table:      a.Table,
		Type:       a.Type,
		Confidence: a.Confidence,
		Timestamp:  a.Timestamp,
	}
}

// App orchestrates capture, detection, debouncing and alert delivery.
type App struct {
	config   Config
	camera   capture.Camera
	motion   *capture.MotionDetector
	gate     *capture.Gate
	detector detector.Detector
	requests *gesture.ServiceRequestDetector
	zones    *zone.Map
	sender   alert.Sender

	enabled bool
	mu      sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}

	sendCtx    context.Context
	cancelSend context.CancelFunc
	sends      sync.WaitGroup

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}

	frameMu sync.RWMutex
	latest  []byte
}

// New creates a new App. Missing collaborators get defaults: camera 0, the
// pose service (or a mock when it is unavailable), a logging sender and the
// default table zone.
func New(config Config) *App {
	if config.MotionThresh <= 0 {
		config.MotionThresh = 1.0 // 1% pixel change
	}
	if len(config.Zones) == 0 {
		config.Zones = []zone.Zone{zone.DefaultZone()}
	}

	camera := config.Camera
	if camera == nil {
		camera = capture.NewCamera("0")
	}

	sender := config.Sender
	if sender == nil {
		sender = alert.NewLogSender(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		config:      config,
		camera:      camera,
		motion:      capture.NewMotionDetector(config.MotionThresh),
		gate:        capture.NewGate(config.Gate),
		detector:    config.Detector,
		requests:    gesture.NewServiceRequestDetector(config.Gesture),
		zones:       zone.NewMap(config.DefaultTable, config.Zones),
		sender:      sender,
		enabled:     true,
		sendCtx:     ctx,
		cancelSend:  cancel,
		subscribers: make(map[chan Event]struct{}),
	}

	if a.detector == nil {
		if d, err := detector.NewPoseServiceDetector(config.DetectorConfig); err == nil {
			a.detector = d
			log.Println("Using pose service detection")
		} else {
			log.Printf("WARNING: pose service not available (%v)", err)
			log.Println("WARNING: using the mock detector; no guests will be detected")
			a.detector = detector.NewMockDetector()
		}
	}

	if config.Store != nil {
		if v, err := config.Store.Settings().Get(settingEnabled); err == nil {
			if enabled, err := strconv.ParseBool(v); err == nil {
				a.enabled = enabled
			}
		}
		if err := a.ReloadZones(); err != nil {
			log.Printf("Failed to load zones: %v", err)
		}
	}

	return a
}

// SetEnabled enables or disables detection and persists the choice.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()

	if a.config.Store != nil {
		if err := a.config.Store.Settings().Set(settingEnabled, strconv.FormatBool(enabled)); err != nil {
			log.Printf("Failed to persist detection state: %v", err)
		}
	}
}

// IsEnabled returns whether detection is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// SetDetector replaces the pose detector.
func (a *App) SetDetector(d detector.Detector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detector = d
}

// Detector returns the pose detector.
func (a *App) Detector() detector.Detector {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.detector
}

// Camera returns the frame source.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Zones returns the table zone map.
func (a *App) Zones() *zone.Map {
	return a.zones
}

// ReloadZones replaces the zone map with the zones in the store, falling back
// to the configured zones when the store has none.
func (a *App) ReloadZones() error {
	if a.config.Store == nil {
		return nil
	}

	stored, err := a.config.Store.Zones().List()
	if err != nil {
		return err
	}

	if len(stored) == 0 {
		a.zones.Set(a.config.Zones)
		log.Printf("Loaded %d configured zones", len(a.config.Zones))
		return nil
	}

	zones := make([]zone.Zone, 0, len(stored))
	for _, z := range stored {
		zones = append(zones, zone.Zone{
			TableID: z.TableID,
			Name:    z.Name,
			Polygon: zone.PolygonFromPairs(z.Polygon),
		})
	}
	a.zones.Set(zones)

	log.Printf("Loaded %d zones from database", len(zones))
	return nil
}

// Tracks returns the debounce state of every tracked guest.
func (a *App) Tracks() []debounce.Entry[int] {
	return a.requests.Tracks()
}

// Subscribe registers a listener for alert events. The returned function
// unsubscribes and closes the channel. Slow listeners miss events.
func (a *App) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	a.subMu.Lock()
	a.subscribers[ch] = struct{}{}
	a.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subscribers, ch)
			a.subMu.Unlock()
			close(ch)
		})
	}
}

func (a *App) publish(ev Event) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	for ch := range a.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// LatestFrame returns the most recent annotated frame as JPEG, or nil before
// the first frame.
func (a *App) LatestFrame() []byte {
	a.frameMu.RLock()
	defer a.frameMu.RUnlock()
	return a.latest
}

func (a *App) setLatest(jpeg []byte) {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	a.latest = jpeg
}

// Start opens the camera and begins the detection pipeline.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if err := a.camera.Open(); err != nil {
		return err
	}
	if a.sendCtx.Err() != nil {
		a.sendCtx, a.cancelSend = context.WithCancel(context.Background())
	}
	a.camera.SetFPS(a.gate.FPS())

	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.runPipeline(a.stopCh, a.doneCh)

	log.Println("Detection pipeline started")
	return nil
}

// Stop halts the pipeline, waits for pending deliveries and releases the
// camera and detector. A stopped App may be started again.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, doneCh := a.stopCh, a.doneCh
	a.stopCh, a.doneCh = nil, nil
	a.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}

	a.sends.Wait()
	a.mu.Lock()
	a.cancelSend()
	a.mu.Unlock()

	if err := a.camera.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}
	a.motion.Close()

	if d := a.Detector(); d != nil {
		if err := d.Close(); err != nil {
			log.Printf("Error closing detector: %v", err)
		}
	}

	log.Println("Detection pipeline stopped")
}

// Done returns a channel closed when the running pipeline exits, or nil when
// it is not running.
func (a *App) Done() <-chan struct{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.doneCh
}

// Flush waits for in-flight alert deliveries.
func (a *App) Flush() {
	a.sends.Wait()
}

// purgeExpired deletes alerts older than the retention window.
func (a *App) purgeExpired(now time.Time) {
	if a.config.Store == nil || a.config.Retention <= 0 {
		return
	}

	n, err := a.config.Store.Alerts().DeleteBefore(now.Add(-a.config.Retention))
	if err != nil {
		log.Printf("Failed to purge old alerts: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Purged %d alerts older than %s", n, a.config.Retention)
	}
}
