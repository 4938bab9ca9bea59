package model

import (
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Source identifies which dataset a building was collected from
type Source string

const (
	// SourceOSM is the crowd-sourced OpenStreetMap extract
	SourceOSM Source = "osm"
	// SourceFKB is the authoritative cadastral dataset
	SourceFKB Source = "fkb"
)

// BuildingFeature is a single building footprint as ingested from one source.
// Features are created once during ingestion and never mutated afterwards.
type BuildingFeature struct {
	ExternalID   string            // Id in the originating dataset
	Source       Source            // Dataset the feature came from
	Geometry     orb.Geometry      // orb.Polygon or orb.MultiPolygon, WGS84 lon/lat
	BuildingType *string           // Building classification (if available)
	RegisterID   *int64            // Cadastral building number (if available)
	Attributes   map[string]string // Remaining source attributes
}

// Bound returns the bounding box of the feature geometry
func (f *BuildingFeature) Bound() orb.Bound {
	return f.Geometry.Bound()
}

// Centroid returns the area-weighted centroid of the feature geometry
func (f *BuildingFeature) Centroid() orb.Point {
	centroid, _ := planar.CentroidArea(f.Geometry)
	return centroid
}

// Key returns the id qualified by source, unique across both datasets
func (f *BuildingFeature) Key() FeatureKey {
	return FeatureKey{Source: f.Source, ID: f.ExternalID}
}

// FeatureKey uniquely identifies a feature across sources
type FeatureKey struct {
	Source Source
	ID     string
}

func (k FeatureKey) String() string {
	return string(k.Source) + ":" + k.ID
}

// BuildingSpatial wraps a building for R-tree indexing
type BuildingSpatial struct {
	Index    int              // Position of the building in its batch
	Building *BuildingFeature // Reference to the building
}

// Bounds implements the rtreego.Spatial interface
func (b *BuildingSpatial) Bounds() rtreego.Rect {
	bound := b.Building.Bound()
	minX, minY := bound.Min[0], bound.Min[1]

	// rtreego rejects zero-length sides, so degenerate boxes get a minimal extent
	width := bound.Max[0] - minX
	if width <= 0 {
		width = 1e-12
	}
	height := bound.Max[1] - minY
	if height <= 0 {
		height = 1e-12
	}

	rect, _ := rtreego.NewRect(
		rtreego.Point{minX, minY},
		[]float64{width, height},
	)

	return rect
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 {
	return &v
}
