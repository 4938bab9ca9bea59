package geometry

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

var (
	// ErrDecodeGeometry is returned when binary geometry cannot be decoded
	ErrDecodeGeometry = errors.New("undecodable geometry")
	// ErrNotPolygonal is returned for geometries that are not building footprints
	ErrNotPolygonal = errors.New("geometry is not a polygon or multipolygon")
)

// EncodeWKB encodes a geometry as little-endian WKB
func EncodeWKB(g orb.Geometry) ([]byte, error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return data, nil
}

// DecodeWKB decodes a WKB footprint and normalizes it to a 2D polygonal geometry
func DecodeWKB(data []byte) (orb.Geometry, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecodeGeometry)
	}

	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeGeometry, err)
	}

	return Polygonal(g)
}

// Polygonal closes rings and returns the geometry as a Polygon or MultiPolygon.
// Single-member collections of polygons are unwrapped.
func Polygonal(g orb.Geometry) (orb.Geometry, error) {
	switch geom := g.(type) {
	case orb.Polygon:
		return closePolygon(geom), nil
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(geom))
		for _, p := range geom {
			if len(p) == 0 {
				continue
			}
			out = append(out, closePolygon(p))
		}
		if len(out) == 0 {
			return nil, ErrNotPolygonal
		}
		return out, nil
	case orb.Ring:
		return closePolygon(orb.Polygon{geom}), nil
	case orb.Collection:
		if len(geom) == 1 {
			return Polygonal(geom[0])
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotPolygonal, geometryType(g))
}

func closePolygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for _, ring := range p {
		if len(ring) == 0 {
			continue
		}
		r := make(orb.Ring, len(ring), len(ring)+1)
		copy(r, ring)
		if r[0] != r[len(r)-1] {
			r = append(r, r[0])
		}
		out = append(out, r)
	}
	return out
}

func geometryType(g orb.Geometry) string {
	if g == nil {
		return "nil"
	}
	return g.GeoJSONType()
}
