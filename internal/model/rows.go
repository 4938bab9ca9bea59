package model

import (
	"sort"
	"strconv"
)

// Core column names shared by every batch
const (
	ColumnExternalID = "external_id"
	ColumnSource     = "source"
	ColumnProvenance = "provenance"
	ColumnType       = "type"
	ColumnRegisterID = "building_id"
	ColumnOSMID      = "osm_id"
	ColumnFKBID      = "fkb_id"
	ColumnIoU        = "iou"
)

// ToRow flattens a raw building into a row. Attributes become columns of their own.
func (f *BuildingFeature) ToRow() Row {
	columns := make(map[string]*string, len(f.Attributes)+4)
	for k, v := range f.Attributes {
		columns[k] = StringPtr(v)
	}

	columns[ColumnExternalID] = StringPtr(f.ExternalID)
	columns[ColumnSource] = StringPtr(string(f.Source))
	columns[ColumnType] = f.BuildingType
	columns[ColumnRegisterID] = formatInt(f.RegisterID)

	return Row{Geometry: f.Geometry, Columns: columns}
}

// ToRow flattens a canonical building into a row
func (m *MergedFeature) ToRow() Row {
	columns := make(map[string]*string, len(m.Attributes)+8)
	for k, v := range m.Attributes {
		columns[k] = StringPtr(v)
	}

	columns[ColumnExternalID] = StringPtr(m.ExternalID)
	columns[ColumnSource] = StringPtr(string(m.Source))
	columns[ColumnProvenance] = StringPtr(string(m.Provenance))
	columns[ColumnType] = m.BuildingType
	columns[ColumnRegisterID] = formatInt(m.RegisterID)
	columns[ColumnOSMID] = m.OSMID
	columns[ColumnFKBID] = m.FKBID
	if m.IoU != nil {
		columns[ColumnIoU] = StringPtr(strconv.FormatFloat(*m.IoU, 'f', 6, 64))
	} else {
		columns[ColumnIoU] = nil
	}

	return Row{Geometry: m.Geometry, Columns: columns}
}

// NewBatch builds a batch whose schema is the sorted union of its rows' columns
func NewBatch(rows []Row) Batch {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for column := range row.Columns {
			seen[column] = struct{}{}
		}
	}

	schema := make([]string, 0, len(seen))
	for column := range seen {
		schema = append(schema, column)
	}
	sort.Strings(schema)

	for _, row := range rows {
		for _, column := range schema {
			if _, ok := row.Columns[column]; !ok {
				row.Columns[column] = nil
			}
		}
	}

	return Batch{Schema: schema, Rows: rows}
}

func formatInt(v *int64) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatInt(*v, 10)
	return &s
}
