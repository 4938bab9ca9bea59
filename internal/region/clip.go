// Package region restricts building collections to administrative regions.
package region

import (
	"fmt"
	"slices"

	"doppa/internal/geometry"
	"doppa/internal/model"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// Clipper keeps the rows that intersect a region boundary
type Clipper struct {
	log *logrus.Entry
}

// NewClipper creates a clipper
func NewClipper(log *logrus.Entry) *Clipper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Clipper{log: log}
}

// UnifySchemas merges batches into one whose schema is the sorted union of
// every batch schema. Columns a batch lacks are null in its rows. No batches
// yield an empty, valid batch.
func UnifySchemas(batches []model.Batch) model.Batch {
	var schema []string
	total := 0
	for _, b := range batches {
		schema = append(schema, b.Schema...)
		for _, row := range b.Rows {
			for column := range row.Columns {
				schema = append(schema, column)
			}
		}
		total += len(b.Rows)
	}
	slices.Sort(schema)
	schema = slices.Compact(schema)

	rows := make([]model.Row, 0, total)
	for _, b := range batches {
		for _, row := range b.Rows {
			columns := make(map[string]*string, len(schema))
			for _, column := range schema {
				columns[column] = row.Columns[column]
			}
			rows = append(rows, model.Row{Geometry: row.Geometry, Columns: columns})
		}
	}

	return model.Batch{Schema: schema, Rows: rows}
}

// Clip returns the rows of a schema-unified batch whose geometry intersects
// boundary. Rows straddling the boundary are kept whole. Kept rows share their
// column maps with the input.
func (c *Clipper) Clip(unified model.Batch, boundary orb.Geometry) (model.Batch, error) {
	boundaryShape, err := geometry.NewShape(boundary)
	if err != nil {
		return model.Batch{}, fmt.Errorf("invalid region boundary: %w", err)
	}
	bound := boundaryShape.Bound()

	kept := make([]model.Row, 0, len(unified.Rows))
	for _, row := range unified.Rows {
		if row.Geometry == nil || !row.Geometry.Bound().Intersects(bound) {
			continue
		}

		shape, err := geometry.NewShape(row.Geometry)
		if err != nil {
			id, _ := row.Value(model.ColumnExternalID)
			c.log.Warnf("Skipping row %s due to geometry error: %v", id, err)
			continue
		}
		if boundaryShape.Intersects(shape) {
			kept = append(kept, row)
		}
	}

	c.log.Infof("Clipped %d of %d rows to region boundary", len(kept), len(unified.Rows))

	return model.Batch{Schema: unified.Schema, Rows: kept}, nil
}
