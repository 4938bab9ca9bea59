package util

import (
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

const earthRadiusMeters = 6371000.0

// HaversineDistance returns the great-circle distance in meters between two lat/lng points
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	// Convert coordinates from degrees to S2 points
	point1 := s2.PointFromLatLng(s2.LatLngFromDegrees(lat1, lng1))
	point2 := s2.PointFromLatLng(s2.LatLngFromDegrees(lat2, lng2))

	// Calculate angle between points
	angle := s1.Angle(s2.ChordAngleBetweenPoints(point1, point2).Angle())

	return angle.Radians() * earthRadiusMeters
}

// PointDistance returns the great-circle distance in meters between two lon/lat points
func PointDistance(a, b orb.Point) float64 {
	return HaversineDistance(a[1], a[0], b[1], b[0])
}

// GeodesicArea returns the area in square meters of a polygonal footprint on the sphere.
// Holes are subtracted from their outer ring.
func GeodesicArea(g orb.Geometry) float64 {
	switch geom := g.(type) {
	case orb.Polygon:
		var area float64
		for i, ring := range geom {
			ringArea := ringArea(ring)
			if i == 0 {
				area += ringArea
			} else {
				area -= ringArea
			}
		}
		return area
	case orb.MultiPolygon:
		var area float64
		for _, p := range geom {
			area += GeodesicArea(p)
		}
		return area
	}
	return 0
}

func ringArea(ring orb.Ring) float64 {
	// S2 loops are implicitly closed
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	if n < 3 {
		return 0
	}

	points := make([]s2.Point, 0, n)
	for _, p := range ring[:n] {
		points = append(points, s2.PointFromLatLng(s2.LatLngFromDegrees(p[1], p[0])))
	}

	// A clockwise ring describes the complement; Normalize flips it back
	loop := s2.LoopFromPoints(points)
	loop.Normalize()

	return loop.Area() * earthRadiusMeters * earthRadiusMeters
}
