// Package render annotates frames for the live preview stream.
package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/nexusgeo/tablewatch/internal/detector"
	"github.com/nexusgeo/tablewatch/internal/zone"
)

// Banner is the text shown across the top of the frame while a service
// request is active.
const Banner = "ALERTA DE SERVICIO ACTIVA"

var (
	zoneColor   = color.RGBA{0, 255, 255, 0}
	personColor = color.RGBA{0, 200, 0, 0}
	raisedColor = color.RGBA{255, 165, 0, 0}
	alertColor  = color.RGBA{255, 0, 0, 0}
	textColor   = color.RGBA{255, 255, 255, 0}
)

// armSegments are the keypoint pairs drawn for each arm.
var armSegments = [][2]int{
	{detector.LeftShoulder, detector.LeftElbow},
	{detector.LeftElbow, detector.LeftWrist},
	{detector.RightShoulder, detector.RightElbow},
	{detector.RightElbow, detector.RightWrist},
}

// Person is one tracked person to draw.
type Person struct {
	detector.Person
	Table  int
	Raised bool
}

// Scene is everything drawn over one frame.
type Scene struct {
	Zones  []zone.Zone
	People []Person
	// Alerting draws the banner and the red border.
	Alerting bool
}

// Draw annotates frame in place.
func Draw(frame *gocv.Mat, scene Scene) {
	if frame == nil || frame.Empty() {
		return
	}

	for _, z := range scene.Zones {
		drawZone(frame, z)
	}
	for i := range scene.People {
		drawPerson(frame, &scene.People[i])
	}
	if scene.Alerting {
		drawAlert(frame)
	}
}

func drawZone(frame *gocv.Mat, z zone.Zone) {
	if len(z.Polygon) < 3 {
		return
	}

	pts := gocv.NewPointsVectorFromPoints([][]image.Point{z.Polygon})
	defer pts.Close()
	gocv.Polylines(frame, pts, true, zoneColor, 2)

	label := z.Name
	if label == "" {
		label = fmt.Sprintf("Mesa %d", z.TableID)
	}
	gocv.PutText(frame, label, z.Polygon[0].Add(image.Pt(5, 20)), gocv.FontHersheySimplex, 0.6, zoneColor, 2)
}

func drawPerson(frame *gocv.Mat, p *Person) {
	c := personColor
	if p.Raised {
		c = raisedColor
	}

	if !p.Box.Empty() {
		gocv.Rectangle(frame, p.Box, c, 2)
	}

	for _, seg := range armSegments {
		a, okA := p.Keypoint(seg[0])
		b, okB := p.Keypoint(seg[1])
		if okA && okB {
			gocv.Line(frame, a.Pt(), b.Pt(), c, 2)
		}
	}
	for _, i := range []int{detector.Nose, detector.LeftWrist, detector.RightWrist} {
		if kp, ok := p.Keypoint(i); ok {
			gocv.Circle(frame, kp.Pt(), 4, c, -1)
		}
	}

	label := fmt.Sprintf("ID %d  Mesa %d", p.TrackID, p.Table)
	origin := image.Pt(p.Box.Min.X, p.Box.Min.Y-8)
	if origin.Y < 15 {
		origin.Y = p.Box.Min.Y + 18
	}
	gocv.PutText(frame, label, origin, gocv.FontHersheyPlain, 1.2, c, 2)
}

func drawAlert(frame *gocv.Mat) {
	w, h := frame.Cols(), frame.Rows()

	gocv.Rectangle(frame, image.Rect(0, 0, w, 50), alertColor, -1) // filled
	gocv.PutText(frame, Banner, image.Pt(15, 35), gocv.FontHersheySimplex, 1, textColor, 2)
	gocv.Rectangle(frame, image.Rect(0, 0, w-1, h-1), alertColor, 10)
}

// EncodeJPEG compresses frame for streaming.
func EncodeJPEG(frame *gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
