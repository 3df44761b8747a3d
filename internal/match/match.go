// Package match decides whether a coordinate is affected by an alert. It
// layers three tiers per area: exact-then-buffered polygon containment,
// circle distance, and gazetteer-backed name matching against the prose
// area description. Buffering exists because source polygons are coarse;
// a literal containment test produces false negatives just outside the
// nominal boundary, which is the wrong failure mode for hazard notices.
package match

import (
	"strings"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/capwatch/capwatch/internal/cap"
	"github.com/capwatch/capwatch/internal/geodesy"
)

// DefaultBufferKM is the outward margin applied to polygon boundaries and
// circle radii. A policy constant, not derived from an accuracy model;
// override it through Config.
const DefaultBufferKM = 30.0

// Config tunes the matcher.
type Config struct {
	// BufferKM expands geometry outward to absorb boundary imprecision.
	BufferKM float64
}

// Matcher evaluates alert relevance for a coordinate.
type Matcher struct {
	bufferKM  float64
	gazetteer *Gazetteer
}

// New creates a Matcher. A zero BufferKM falls back to DefaultBufferKM and a
// nil gazetteer disables the name-fallback tier.
func New(cfg Config, gaz *Gazetteer) *Matcher {
	buffer := cfg.BufferKM
	if buffer <= 0 {
		buffer = DefaultBufferKM
	}
	if gaz == nil {
		gaz = NewGazetteer(nil)
	}
	return &Matcher{bufferKM: buffer, gazetteer: gaz}
}

// IsAffected reports whether any area of the alert matches the point by any
// tier. Geometry problems degrade tier by tier and never error out.
func (m *Matcher) IsAffected(p geom.Coord, alert *cap.Alert) bool {
	if alert == nil {
		return false
	}
	for i := range alert.Areas {
		if m.areaMatches(p, &alert.Areas[i]) {
			return true
		}
	}
	return false
}

func (m *Matcher) areaMatches(p geom.Coord, area *cap.Area) bool {
	if area.Polygon != nil && m.polygonMatches(p, area.Polygon) {
		return true
	}
	if area.Circle != nil && m.circleMatches(p, area.Circle) {
		return true
	}
	return m.nameMatches(p, area.Description)
}

// polygonMatches runs the exact test first, then the buffered boundary
// test. A degenerate ring falls back to an expanded bounding box of its
// vertices.
func (m *Matcher) polygonMatches(p geom.Coord, poly *geom.Polygon) bool {
	ring := geodesy.CloseRing(geodesy.PolygonRing(poly))
	if len(ring) == 0 {
		return false
	}

	if geodesy.DegenerateRing(ring) {
		zap.L().Debug("match: degenerate polygon, using bounding box fallback",
			zap.Int("vertices", len(ring)),
		)
		return geodesy.RingBBox(ring).ExpandKM(m.bufferKM).Contains(p)
	}

	if geodesy.PointInRing(p, ring) {
		return true
	}
	return geodesy.DistanceToRingKM(p, ring) <= m.bufferKM
}

func (m *Matcher) circleMatches(p geom.Coord, c *cap.Circle) bool {
	return geodesy.HaversineKM(p, c.Center) <= c.RadiusKM+m.bufferKM
}

// nameMatches resolves the point through the gazetteer and looks for any
// candidate name inside the area description, case-insensitively. Many real
// documents carry only prose descriptions with no machine geometry, so this
// tier does real work, not just tie-breaking.
func (m *Matcher) nameMatches(p geom.Coord, description string) bool {
	if description == "" {
		return false
	}
	desc := strings.ToLower(description)
	for _, name := range m.gazetteer.Resolve(p) {
		if strings.Contains(desc, strings.ToLower(name)) {
			return true
		}
	}
	return false
}
