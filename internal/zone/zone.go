// Package zone maps tracked people to restaurant tables using polygon zones
// drawn over the camera image.
package zone

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/nexusgeo/tablewatch/internal/detector"
)

// DefaultTable is the table assigned to people outside every zone.
const DefaultTable = 1

// ErrInvalidZone is returned by Validate for unusable zones.
var ErrInvalidZone = errors.New("invalid zone")

// Polygon is a closed polygon in frame pixel coordinates.
// It marshals to JSON as [[x, y], ...].
type Polygon []image.Point

// MarshalJSON encodes the polygon as a list of [x, y] pairs.
func (p Polygon) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Pairs())
}

// UnmarshalJSON decodes a list of [x, y] pairs.
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var pairs [][2]int
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	*p = PolygonFromPairs(pairs)
	return nil
}

// PolygonFromPairs builds a polygon from [x, y] pairs.
func PolygonFromPairs(pairs [][2]int) Polygon {
	poly := make(Polygon, len(pairs))
	for i, xy := range pairs {
		poly[i] = image.Pt(xy[0], xy[1])
	}
	return poly
}

// Pairs returns the polygon as [x, y] pairs.
func (p Polygon) Pairs() [][2]int {
	pairs := make([][2]int, len(p))
	for i, pt := range p {
		pairs[i] = [2]int{pt.X, pt.Y}
	}
	return pairs
}

// Zone is the floor area belonging to one table.
type Zone struct {
	TableID int     `json:"table_id"`
	Name    string  `json:"name"`
	Polygon Polygon `json:"polygon"`
}

// DefaultZone returns the single table zone used when none is configured.
func DefaultZone() Zone {
	return Zone{
		TableID: DefaultTable,
		Name:    "Mesa 1",
		Polygon: Polygon{
			image.Pt(100, 400),
			image.Pt(500, 400),
			image.Pt(600, 700),
			image.Pt(0, 700),
		},
	}
}

// Validate checks that the zone names a table and encloses an area.
func (z Zone) Validate() error {
	if z.TableID <= 0 {
		return fmt.Errorf("%w: table id must be positive, got %d", ErrInvalidZone, z.TableID)
	}
	if len(z.Polygon) < 3 {
		return fmt.Errorf("%w: polygon needs at least 3 points, got %d", ErrInvalidZone, len(z.Polygon))
	}
	return nil
}

// Contains reports whether pt lies inside or on the edge of the zone.
func (z Zone) Contains(pt image.Point) bool {
	if len(z.Polygon) < 3 {
		return false
	}

	pv := gocv.NewPointVectorFromPoints(z.Polygon)
	defer pv.Close()

	return gocv.PointPolygonTest(pv, pt, false) >= 0
}

// Anchor returns the point used to seat a person: the midpoint of the hips
// when both are located, otherwise the centre of the bounding box.
func Anchor(p *detector.Person) image.Point {
	left, okL := p.Keypoint(detector.LeftHip)
	right, okR := p.Keypoint(detector.RightHip)
	if okL && okR {
		return image.Pt(int((left.X+right.X)/2), int((left.Y+right.Y)/2))
	}
	return p.Center()
}

// Map resolves people to tables. It is safe for concurrent use.
type Map struct {
	zones        []Zone
	defaultTable int
	mu           sync.RWMutex
}

// NewMap creates a Map. A defaultTable below 1 falls back to DefaultTable.
func NewMap(defaultTable int, zones []Zone) *Map {
	if defaultTable < 1 {
		defaultTable = DefaultTable
	}
	m := &Map{defaultTable: defaultTable}
	m.Set(zones)
	return m
}

// Set replaces the zones.
func (m *Map) Set(zones []Zone) {
	copied := make([]Zone, len(zones))
	copy(copied, zones)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones = copied
}

// Zones returns a copy of the current zones.
func (m *Map) Zones() []Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Zone, len(m.zones))
	copy(out, m.zones)
	return out
}

// DefaultTable returns the table used for people outside every zone.
func (m *Map) DefaultTable() int {
	return m.defaultTable
}

// TableFor returns the first zone's table containing pt.
func (m *Map) TableFor(pt image.Point) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, z := range m.zones {
		if z.Contains(pt) {
			return z.TableID, true
		}
	}
	return 0, false
}

// Table seats a person, falling back to the default table.
func (m *Map) Table(p *detector.Person) int {
	if table, ok := m.TableFor(Anchor(p)); ok {
		return table
	}
	return m.defaultTable
}
