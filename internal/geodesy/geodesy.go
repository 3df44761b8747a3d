// Package geodesy provides the spherical-earth geometry primitives used by
// alert relevance matching: great-circle distance, ray-cast point-in-ring,
// boundary distance, and bounding-box expansion. All coordinates are
// geom.Coord values in (longitude, latitude) axis order, degrees.
package geodesy

import (
	"math"

	"github.com/twpayne/go-geom"
)

const (
	earthRadiusKM = 6371.0

	// kmPerDegLat is the length of one degree of latitude. Longitude degrees
	// shrink with cos(lat) and are handled per call site.
	kmPerDegLat = 111.32
)

// HaversineKM returns the great-circle distance between two points in
// kilometres. Holds for antipodal and equator-crossing pairs.
func HaversineKM(a, b geom.Coord) float64 {
	lat1 := a[1] * math.Pi / 180
	lat2 := b[1] * math.Pi / 180
	dLat := (b[1] - a[1]) * math.Pi / 180
	dLon := (b[0] - a[0]) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}

// CloseRing appends the first vertex to the end if the ring is open.
// A nil or empty slice is returned unchanged.
func CloseRing(ring []geom.Coord) []geom.Coord {
	if len(ring) < 3 {
		return ring
	}
	first, last := ring[0], ring[len(ring)-1]
	if first[0] == last[0] && first[1] == last[1] {
		return ring
	}
	closed := make([]geom.Coord, len(ring)+1)
	copy(closed, ring)
	closed[len(ring)] = geom.Coord{first[0], first[1]}
	return closed
}

// PointInRing reports whether p lies strictly inside the closed ring using
// even-odd ray casting in lon/lat space. Points exactly on an edge may land
// on either side; callers absorb that with a distance buffer.
func PointInRing(p geom.Coord, ring []geom.Coord) bool {
	if len(ring) < 4 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > p[1]) != (yj > p[1]) &&
			p[0] < (xj-xi)*(p[1]-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// DistanceToRingKM returns the minimum distance in kilometres from p to any
// edge of the ring. Segments are measured in a local equirectangular
// projection centred on p, which is accurate at buffer scales (tens of km).
func DistanceToRingKM(p geom.Coord, ring []geom.Coord) float64 {
	minKM := math.Inf(1)
	for i := 0; i+1 < len(ring); i++ {
		if d := distanceToSegmentKM(p, ring[i], ring[i+1]); d < minKM {
			minKM = d
		}
	}
	return minKM
}

func distanceToSegmentKM(p, a, b geom.Coord) float64 {
	cosLat := math.Cos(p[1] * math.Pi / 180)

	// Project into km around p.
	ax := (a[0] - p[0]) * kmPerDegLat * cosLat
	ay := (a[1] - p[1]) * kmPerDegLat
	bx := (b[0] - p[0]) * kmPerDegLat * cosLat
	by := (b[1] - p[1]) * kmPerDegLat

	dx, dy := bx-ax, by-ay
	segLen2 := dx*dx + dy*dy
	if segLen2 == 0 {
		return math.Hypot(ax, ay)
	}

	// Clamp the projection of p (the origin) onto the segment.
	t := -(ax*dx + ay*dy) / segLen2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(ax+t*dx, ay+t*dy)
}

// BBox is an axis-aligned lon/lat bounding box.
type BBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// RingBBox computes the bounding box of the ring's vertices.
func RingBBox(ring []geom.Coord) BBox {
	bb := BBox{MinLon: math.Inf(1), MinLat: math.Inf(1), MaxLon: math.Inf(-1), MaxLat: math.Inf(-1)}
	for _, c := range ring {
		bb.MinLon = math.Min(bb.MinLon, c[0])
		bb.MinLat = math.Min(bb.MinLat, c[1])
		bb.MaxLon = math.Max(bb.MaxLon, c[0])
		bb.MaxLat = math.Max(bb.MaxLat, c[1])
	}
	return bb
}

// ExpandKM returns the box grown outward by km on every side, converting the
// margin to degrees at the box's mid-latitude.
func (bb BBox) ExpandKM(km float64) BBox {
	dLat := km / kmPerDegLat
	midLat := (bb.MinLat + bb.MaxLat) / 2
	cosLat := math.Cos(midLat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01 // near the poles every longitude is close
	}
	dLon := km / (kmPerDegLat * cosLat)
	return BBox{
		MinLon: bb.MinLon - dLon,
		MinLat: bb.MinLat - dLat,
		MaxLon: bb.MaxLon + dLon,
		MaxLat: bb.MaxLat + dLat,
	}
}

// Contains reports whether p falls inside the box.
func (bb BBox) Contains(p geom.Coord) bool {
	return p[0] >= bb.MinLon && p[0] <= bb.MaxLon &&
		p[1] >= bb.MinLat && p[1] <= bb.MaxLat
}

// DegenerateRing reports whether the ring cannot support a meaningful
// containment test: fewer than three distinct vertices, or zero area
// (all vertices collinear).
func DegenerateRing(ring []geom.Coord) bool {
	distinct := make(map[[2]float64]struct{}, len(ring))
	for _, c := range ring {
		distinct[[2]float64{c[0], c[1]}] = struct{}{}
	}
	if len(distinct) < 3 {
		return true
	}
	return math.Abs(ringArea(ring)) < 1e-12
}

// ringArea is the shoelace area in squared degrees; only its zero-ness
// matters to callers.
func ringArea(ring []geom.Coord) float64 {
	var sum float64
	for i := 0; i+1 < len(ring); i++ {
		sum += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return sum / 2
}

// PolygonRing extracts the outer ring coordinates of a polygon, or nil if
// the polygon is empty.
func PolygonRing(poly *geom.Polygon) []geom.Coord {
	if poly == nil || poly.NumLinearRings() == 0 {
		return nil
	}
	return poly.LinearRing(0).Coords()
}
