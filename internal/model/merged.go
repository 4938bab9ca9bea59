package model

import "github.com/paulmach/orb"

// Provenance records which sources contributed to a canonical building
type Provenance string

const (
	ProvenanceOSM     Provenance = "osm"
	ProvenanceFKB     Provenance = "fkb"
	ProvenanceMatched Provenance = "fkb+osm"
)

// MergedFeature is one building in the canonical, deduplicated dataset
type MergedFeature struct {
	ExternalID   string            // Id of the representative record
	Source       Source            // Source of the representative geometry
	Provenance   Provenance        // Which sources describe this building
	Geometry     orb.Geometry      // Representative geometry
	BuildingType *string           // Building classification
	RegisterID   *int64            // Cadastral building number
	OSMID        *string           // Cross-reference into the OSM dataset
	FKBID        *string           // Cross-reference into the FKB dataset
	IoU          *float64          // Overlap score of the matched pair
	Attributes   map[string]string // Source attributes of the representative
}

// Centroid returns the area-weighted centroid of the merged geometry
func (m *MergedFeature) Centroid() orb.Point {
	f := BuildingFeature{Geometry: m.Geometry}
	return f.Centroid()
}

// Row is a flat, schema-carrying record used by the clipper and the partitioner.
// Columns not set for a row are explicitly null after schema unification.
type Row struct {
	Geometry orb.Geometry
	Columns  map[string]*string
}

// Centroid returns the area-weighted centroid of the row geometry
func (r *Row) Centroid() orb.Point {
	f := BuildingFeature{Geometry: r.Geometry}
	return f.Centroid()
}

// Value returns the column value and whether it is non-null
func (r *Row) Value(column string) (string, bool) {
	v, ok := r.Columns[column]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Batch is a group of rows sharing one schema
type Batch struct {
	Schema []string
	Rows   []Row
}

// Partition is the set of rows sharing one partition key within a region
type Partition struct {
	Key  string
	Rows []Row
}
