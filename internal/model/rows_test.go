package model

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

var square = orb.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}

func TestBuildingToRow(t *testing.T) {
	f := BuildingFeature{
		ExternalID:   "42",
		Source:       SourceOSM,
		Geometry:     square,
		BuildingType: StringPtr("house"),
		Attributes:   map[string]string{"name": "Hytta"},
	}

	row := f.ToRow()
	id, ok := row.Value(ColumnExternalID)
	require.True(t, ok)
	require.Equal(t, "42", id)

	name, _ := row.Value("name")
	require.Equal(t, "Hytta", name)

	_, ok = row.Value(ColumnRegisterID)
	require.False(t, ok)
	require.Equal(t, orb.Point{1, 1}, row.Centroid())
}

func TestMergedToRow(t *testing.T) {
	iou := 0.8123456
	m := MergedFeature{
		ExternalID: "a",
		Source:     SourceFKB,
		Provenance: ProvenanceMatched,
		Geometry:   square,
		RegisterID: Int64Ptr(7),
		OSMID:      StringPtr("1"),
		FKBID:      StringPtr("a"),
		IoU:        &iou,
	}

	row := m.ToRow()
	v, _ := row.Value(ColumnIoU)
	require.Equal(t, "0.812346", v)
	v, _ = row.Value(ColumnRegisterID)
	require.Equal(t, "7", v)
	v, _ = row.Value(ColumnProvenance)
	require.Equal(t, "fkb+osm", v)
}

func TestNewBatchUnionSchema(t *testing.T) {
	rows := []Row{
		{Geometry: square, Columns: map[string]*string{"a": StringPtr("1")}},
		{Geometry: square, Columns: map[string]*string{"b": StringPtr("2")}},
	}

	batch := NewBatch(rows)
	require.Equal(t, []string{"a", "b"}, batch.Schema)
	for _, r := range batch.Rows {
		require.Len(t, r.Columns, 2)
	}
	_, ok := batch.Rows[0].Value("b")
	require.False(t, ok)
}

func TestFeatureKeyString(t *testing.T) {
	require.Equal(t, "osm:1", FeatureKey{Source: SourceOSM, ID: "1"}.String())
}
