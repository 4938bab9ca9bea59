package region

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"doppa/internal/geometry"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrUnknownRegion is returned for region ids the supplier has no boundary for
var ErrUnknownRegion = errors.New("unknown region")

// Boundary is the outline of one administrative region
type Boundary struct {
	Region   string
	WKB      []byte          // Boundary geometry, used for spatial predicates
	GeoJSON  json.RawMessage // GeoJSON geometry, passed through untouched
	Geometry orb.Geometry
}

// Supplier returns region boundaries by id
type Supplier interface {
	Regions(ctx context.Context) ([]string, error)
	Boundary(ctx context.Context, region string) (Boundary, error)
}

// DefaultIDProperty is the feature property holding the county number
const DefaultIDProperty = "fylkesnummer"

// FileSupplier serves boundaries from a GeoJSON FeatureCollection whose
// features carry the region id in a property
type FileSupplier struct {
	boundaries map[string]Boundary
}

// LoadFileSupplier reads the collection at path. Features are keyed by the
// idProperty value.
func LoadFileSupplier(path, idProperty string) (*FileSupplier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read boundary file: %w", err)
	}
	return ParseBoundaries(data, idProperty)
}

// rawCollection keeps the geometry bytes of every feature as written
type rawCollection struct {
	Features []struct {
		Geometry json.RawMessage `json:"geometry"`
	} `json:"features"`
}

// ParseBoundaries builds a supplier from GeoJSON FeatureCollection bytes
func ParseBoundaries(data []byte, idProperty string) (*FileSupplier, error) {
	if idProperty == "" {
		idProperty = DefaultIDProperty
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse boundary collection: %w", err)
	}
	var raw rawCollection
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse boundary collection: %w", err)
	}
	if len(raw.Features) != len(fc.Features) {
		return nil, fmt.Errorf("boundary collection has %d features but %d geometries", len(fc.Features), len(raw.Features))
	}

	s := &FileSupplier{boundaries: make(map[string]Boundary, len(fc.Features))}
	for i, f := range fc.Features {
		id := f.Properties.MustString(idProperty, "")
		if id == "" {
			return nil, fmt.Errorf("boundary feature %d has no %q property", i, idProperty)
		}

		geom, err := geometry.Polygonal(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("boundary of region %s: %w", id, err)
		}
		wkb, err := geometry.EncodeWKB(geom)
		if err != nil {
			return nil, err
		}

		s.boundaries[id] = Boundary{Region: id, WKB: wkb, GeoJSON: raw.Features[i].Geometry, Geometry: geom}
	}

	return s, nil
}

// Regions returns the known region ids in ascending order
func (s *FileSupplier) Regions(context.Context) ([]string, error) {
	regions := make([]string, 0, len(s.boundaries))
	for id := range s.boundaries {
		regions = append(regions, id)
	}
	slices.Sort(regions)
	return regions, nil
}

func (s *FileSupplier) Boundary(_ context.Context, region string) (Boundary, error) {
	b, ok := s.boundaries[region]
	if !ok {
		return Boundary{}, fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	return b, nil
}
