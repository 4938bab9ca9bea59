package index

import (
	"fmt"
	"math"

	"doppa/internal/model"

	"github.com/paulmach/orb"
)

// Cell is a grid cell key: the floored, scaled centroid coordinates
type Cell struct {
	X int64
	Y int64
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// CellOf returns the cell containing p at the given scale. A scale of 100
// gives cells of 0.01 degrees.
func CellOf(p orb.Point, scale float64) Cell {
	return Cell{
		X: int64(math.Floor(p[0] * scale)),
		Y: int64(math.Floor(p[1] * scale)),
	}
}

// Grid buckets buildings by the cell of their centroid. Two buildings are
// candidates only when their centroids share a cell, so overlapping buildings
// whose centroids straddle a cell edge are never compared.
type Grid struct {
	scale float64
	cells map[Cell][]int
	size  int
}

// NewGrid indexes features by centroid cell
func NewGrid(features []model.BuildingFeature, scale float64) (*Grid, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("grid scale must be a positive number, got %g", scale)
	}

	g := &Grid{
		scale: scale,
		cells: make(map[Cell][]int),
		size:  len(features),
	}
	for i := range features {
		cell := CellOf(features[i].Centroid(), scale)
		g.cells[cell] = append(g.cells[cell], i)
	}

	return g, nil
}

// Candidates returns the buildings sharing f's centroid cell
func (g *Grid) Candidates(f *model.BuildingFeature) []int {
	return g.Cell(CellOf(f.Centroid(), g.scale))
}

// Cell returns the buildings in c
func (g *Grid) Cell(c Cell) []int {
	return g.cells[c]
}

// Len returns the number of indexed buildings
func (g *Grid) Len() int {
	return g.size
}
