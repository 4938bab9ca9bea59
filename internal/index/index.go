// Package index finds cross-source match candidates for buildings.
package index

import (
	"fmt"

	"doppa/internal/model"
)

// Kinds of candidate index
const (
	KindGrid  = "grid"
	KindRTree = "rtree"
)

// CandidateIndex returns the positions of indexed buildings that may overlap f,
// in ascending order
type CandidateIndex interface {
	Candidates(f *model.BuildingFeature) []int
	Len() int
}

// New builds the index of the given kind over features. scale only applies to
// the grid index.
func New(kind string, features []model.BuildingFeature, scale float64) (CandidateIndex, error) {
	switch kind {
	case KindGrid, "":
		return NewGrid(features, scale)
	case KindRTree:
		return NewRTree(features), nil
	default:
		return nil, fmt.Errorf("unknown candidate index %q", kind)
	}
}
