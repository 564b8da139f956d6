// Package spatial associates sample points with territory boundaries using
// in-memory geometry predicates.
package spatial

import (
	"math"

	geom "github.com/twpayne/go-geom"
)

// Containment is closed: a point lying exactly on a boundary vertex or edge
// counts as inside. The tolerance absorbs floating-point noise from
// coordinates that went through a decode/encode round trip.
const edgeEpsilon = 1e-12

// Contains reports whether the point (lon, lat) lies inside or on the
// boundary of g. Supported geometries are Polygon and MultiPolygon; any
// other type reports false.
func Contains(g geom.T, lon, lat float64) bool {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonContains(t, lon, lat)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if polygonContains(t.Polygon(i), lon, lat) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func polygonContains(p *geom.Polygon, lon, lat float64) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	b := p.Bounds()
	if lon < b.Min(0)-edgeEpsilon || lon > b.Max(0)+edgeEpsilon ||
		lat < b.Min(1)-edgeEpsilon || lat > b.Max(1)+edgeEpsilon {
		return false
	}

	outer := ringLocate(p.LinearRing(0), lon, lat)
	if outer == locOutside {
		return false
	}
	if outer == locBoundary {
		return true
	}
	// Inside the shell; interior rings punch holes, but their boundaries
	// still belong to the polygon.
	for i := 1; i < p.NumLinearRings(); i++ {
		switch ringLocate(p.LinearRing(i), lon, lat) {
		case locBoundary:
			return true
		case locInside:
			return false
		}
	}
	return true
}

type location int

const (
	locOutside location = iota
	locBoundary
	locInside
)

// ringLocate classifies a point against a single linear ring using ray
// casting, with an explicit segment test so boundary points are never lost
// to crossing-parity ambiguity.
func ringLocate(ring *geom.LinearRing, lon, lat float64) location {
	coords := ring.FlatCoords()
	stride := ring.Stride()
	n := len(coords) / stride
	if n < 3 {
		return locOutside
	}

	inside := false
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		x1, y1 := coords[i*stride], coords[i*stride+1]
		x2, y2 := coords[j*stride], coords[j*stride+1]

		if onSegment(x1, y1, x2, y2, lon, lat) {
			return locBoundary
		}
		if (y1 > lat) != (y2 > lat) {
			xCross := x1 + (lat-y1)/(y2-y1)*(x2-x1)
			if lon < xCross {
				inside = !inside
			}
		}
	}
	if inside {
		return locInside
	}
	return locOutside
}

// onSegment reports whether (px, py) lies on the segment (x1,y1)-(x2,y2)
// within edgeEpsilon.
func onSegment(x1, y1, x2, y2, px, py float64) bool {
	cross := (x2-x1)*(py-y1) - (y2-y1)*(px-x1)
	if math.Abs(cross) > edgeEpsilon*math.Max(1, math.Max(math.Abs(x2-x1), math.Abs(y2-y1))) {
		return false
	}
	if px < math.Min(x1, x2)-edgeEpsilon || px > math.Max(x1, x2)+edgeEpsilon {
		return false
	}
	if py < math.Min(y1, y2)-edgeEpsilon || py > math.Max(y1, y2)+edgeEpsilon {
		return false
	}
	return true
}
