package index

import (
	"slices"

	"doppa/internal/model"

	"github.com/dhconnelly/rtreego"
)

// queryPadding widens query boxes so buildings that only touch are still found
const queryPadding = 1e-9

// RTree indexes building bounding boxes. Unlike the grid it has no cell-edge
// misses: every building whose box meets the query box is returned.
type RTree struct {
	tree *rtreego.Rtree
	size int
}

// NewRTree bulk-loads the bounding boxes of features
func NewRTree(features []model.BuildingFeature) *RTree {
	objects := make([]rtreego.Spatial, len(features))
	for i := range features {
		objects[i] = &model.BuildingSpatial{Index: i, Building: &features[i]}
	}

	// 2D index with min 25, max 50 entries per node
	return &RTree{
		tree: rtreego.NewTree(2, 25, 50, objects...),
		size: len(features),
	}
}

// Candidates returns the buildings whose bounding box meets f's
func (t *RTree) Candidates(f *model.BuildingFeature) []int {
	bound := f.Bound()
	rect, err := rtreego.NewRect(
		rtreego.Point{bound.Min[0] - queryPadding, bound.Min[1] - queryPadding},
		[]float64{
			bound.Max[0] - bound.Min[0] + 2*queryPadding,
			bound.Max[1] - bound.Min[1] + 2*queryPadding,
		},
	)
	if err != nil {
		return nil
	}

	results := t.tree.SearchIntersect(rect)
	candidates := make([]int, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, r.(*model.BuildingSpatial).Index)
	}
	slices.Sort(candidates)

	return candidates
}

// Len returns the number of indexed buildings
func (t *RTree) Len() int {
	return t.size
}
