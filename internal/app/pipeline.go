package app

import (
	"errors"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/nexusgeo/tablewatch/internal/alert"
	"github.com/nexusgeo/tablewatch/internal/capture"
	"github.com/nexusgeo/tablewatch/internal/detector"
	"github.com/nexusgeo/tablewatch/internal/gesture"
	"github.com/nexusgeo/tablewatch/internal/render"
	"github.com/nexusgeo/tablewatch/internal/store"
)

// runPipeline is the frame loop. It runs at the idle rate until motion is
// seen, then at the active rate with pose detection until the scene has been
// still for the gate's idle timeout. Frames without detection still close a
// debounce frame so guests who left age out.
func (a *App) runPipeline(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(time.Second / time.Duration(a.gate.FPS()))
	defer ticker.Stop()

	purge := time.NewTicker(retentionInterval)
	defer purge.Stop()
	a.purgeExpired(time.Now())

	for {
		select {
		case <-stopCh:
			return
		case now := <-purge.C:
			a.purgeExpired(now)
		case <-ticker.C:
			if !a.IsEnabled() {
				continue
			}

			frame, err := a.camera.ReadFrame()
			if err != nil {
				if errors.Is(err, capture.ErrEndOfStream) {
					log.Println("Video source ended")
					return
				}
				log.Printf("Error reading frame: %v", err)
				continue
			}

			// A raised hand held still must keep being evaluated until it
			// is released, or the idle frames would reset its count.
			motion, _ := a.motion.Detect(frame)
			active, changed := a.gate.Update(motion || a.requests.Counting(), time.Now())
			if changed {
				fps := a.gate.FPS()
				a.camera.SetFPS(fps)
				ticker.Reset(time.Second / time.Duration(fps))
				if active {
					log.Println("Switched to active mode")
				} else {
					log.Println("Switched to idle mode")
				}
			}

			if active {
				if _, err := a.ProcessFrame(frame); err != nil {
					log.Printf("Error detecting people: %v", err)
				}
			} else {
				a.requests.Skip()
				a.publishFrame(frame, render.Scene{Zones: a.zones.Zones()})
			}
			frame.Close()
		}
	}
}

// ProcessFrame runs detection on one frame, raises alerts for sustained
// service requests and publishes the annotated frame. The frame is drawn on
// in place. It returns the alerts raised for this frame.
func (a *App) ProcessFrame(frame *gocv.Mat) ([]*alert.Alert, error) {
	d := a.Detector()
	if d == nil {
		a.requests.Skip()
		return nil, nil
	}

	people, err := d.Detect(frame)
	if err != nil {
		a.requests.Skip()
		return nil, err
	}

	tables := make(map[int]int, len(people))
	for i := range people {
		tables[people[i].TrackID] = a.zones.Table(&people[i])
	}

	requests := a.requests.Observe(people, func(p *detector.Person) int {
		return tables[p.TrackID]
	})

	alerts := make([]*alert.Alert, 0, len(requests))
	for _, req := range requests {
		al := alert.NewServiceAlert(req.TrackID, req.Table, req.Confidence)
		log.Printf("Service request: table %d, track %d (%.2f, %d frames)", req.Table, req.TrackID, req.Confidence, req.Frames)
		a.raise(al)
		alerts = append(alerts, al)
	}

	scene := render.Scene{
		Zones:    a.zones.Zones(),
		People:   make([]render.Person, len(people)),
		Alerting: a.requests.Active(),
	}
	for i, p := range people {
		scene.People[i] = render.Person{
			Person: p,
			Table:  tables[p.TrackID],
			Raised: gesture.HandRaised(p.Keypoints),
		}
	}
	a.publishFrame(frame, scene)

	return alerts, nil
}

// raise persists an alert, notifies listeners and delivers it in the
// background.
func (a *App) raise(al *alert.Alert) {
	if a.config.Store != nil {
		err := a.config.Store.Alerts().Create(&store.Alert{
			ID:         al.ID,
			TrackID:    al.TrackID,
			TableID:    al.Table,
			Type:       al.Type,
			Confidence: al.Confidence,
			CreatedAt:  al.Timestamp,
		})
		if err != nil {
			log.Printf("Failed to store alert %s: %v", al.ID, err)
		}
	}

	a.publish(eventFromAlert(al))

	a.mu.RLock()
	ctx := a.sendCtx
	a.mu.RUnlock()

	a.sends.Add(1)
	go func() {
		defer a.sends.Done()

		sendErr := a.sender.Send(ctx, al)
		if sendErr != nil {
			log.Printf("Failed to deliver alert for table %d: %v", al.Table, sendErr)
		}

		if a.config.Store != nil {
			if err := a.config.Store.Alerts().MarkDelivered(al.ID, sendErr); err != nil {
				log.Printf("Failed to record delivery of alert %s: %v", al.ID, err)
			}
		}
	}()
}

func (a *App) publishFrame(frame *gocv.Mat, scene render.Scene) {
	if frame == nil || frame.Empty() {
		return
	}

	render.Draw(frame, scene)
	jpeg, err := render.EncodeJPEG(frame)
	if err != nil {
		log.Printf("Error encoding preview frame: %v", err)
		return
	}
	a.setLatest(jpeg)
}
