package region

import (
	"context"
	"testing"

	"doppa/internal/model"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func rect(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func row(id string, g orb.Geometry, extra map[string]string) model.Row {
	columns := map[string]*string{model.ColumnExternalID: model.StringPtr(id)}
	for k, v := range extra {
		columns[k] = model.StringPtr(v)
	}
	return model.Row{Geometry: g, Columns: columns}
}

func TestUnifySchemasNullFills(t *testing.T) {
	first := model.NewBatch([]model.Row{row("a", rect(0, 0, 1, 1), map[string]string{"name": "x"})})
	second := model.NewBatch([]model.Row{row("b", rect(0, 0, 1, 1), map[string]string{"height": "12"})})

	unified := UnifySchemas([]model.Batch{first, second})
	require.Equal(t, []string{"external_id", "height", "name"}, unified.Schema)
	require.Len(t, unified.Rows, 2)

	for _, r := range unified.Rows {
		require.Len(t, r.Columns, 3)
	}
	_, ok := unified.Rows[0].Value("height")
	require.False(t, ok)
	h, ok := unified.Rows[1].Value("height")
	require.True(t, ok)
	require.Equal(t, "12", h)

	// The inputs are left untouched
	require.Len(t, first.Rows[0].Columns, 2)
}

func TestUnifySchemasEmpty(t *testing.T) {
	unified := UnifySchemas(nil)
	require.Empty(t, unified.Rows)
	require.Empty(t, unified.Schema)
}

func TestClip(t *testing.T) {
	boundary := rect(0, 0, 10, 10)
	batch := model.NewBatch([]model.Row{
		row("inside", rect(1, 1, 2, 2), nil),
		row("outside", rect(20, 20, 21, 21), nil),
		row("straddling", rect(9, 9, 11, 11), nil),
		row("touching", rect(10, 0, 11, 1), nil),
	})
	extra := model.NewBatch([]model.Row{row("other-batch", rect(5, 5, 6, 6), map[string]string{"name": "y"})})

	clipped, err := NewClipper(nil).Clip(UnifySchemas([]model.Batch{batch, extra}), boundary)
	require.NoError(t, err)
	require.Equal(t, []string{"external_id", "name"}, clipped.Schema)

	var ids []string
	for _, r := range clipped.Rows {
		id, _ := r.Value(model.ColumnExternalID)
		ids = append(ids, id)
	}
	require.Equal(t, []string{"inside", "straddling", "touching", "other-batch"}, ids)
}

func TestClipAbsentSourceIsEmpty(t *testing.T) {
	clipped, err := NewClipper(nil).Clip(UnifySchemas(nil), rect(0, 0, 1, 1))
	require.NoError(t, err)
	require.Empty(t, clipped.Rows)
}

func TestClipSharesUnifiedRows(t *testing.T) {
	unified := UnifySchemas([]model.Batch{model.NewBatch([]model.Row{
		row("inside", rect(1, 1, 2, 2), nil),
		row("far", rect(50, 50, 51, 51), nil),
		{Columns: map[string]*string{model.ColumnExternalID: model.StringPtr("no-geometry")}},
	})})

	clipper := NewClipper(nil)
	west, err := clipper.Clip(unified, rect(0, 0, 10, 10))
	require.NoError(t, err)
	require.Len(t, west.Rows, 1)
	east, err := clipper.Clip(unified, rect(45, 45, 55, 55))
	require.NoError(t, err)
	require.Len(t, east.Rows, 1)
	require.Equal(t, unified.Schema, east.Schema)

	// Column maps are shared with the unified batch, not copied per region
	west.Rows[0].Columns["marker"] = model.StringPtr("x")
	v, ok := unified.Rows[0].Value("marker")
	require.True(t, ok)
	require.Equal(t, "x", v)
}

const counties = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"fylkesnummer": "46", "navn": "Vestland"},
     "geometry": {"type": "Polygon", "coordinates": [[[4,59],[8,59],[8,62],[4,62],[4,59]]]}},
    {"type": "Feature", "properties": {"fylkesnummer": "03", "navn": "Oslo"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[10.5,59.8],[11,59.8],[11,60.1],[10.5,60.1],[10.5,59.8]]]]}}
  ]
}`

func TestFileSupplier(t *testing.T) {
	ctx := context.Background()
	s, err := ParseBoundaries([]byte(counties), "")
	require.NoError(t, err)

	regions, err := s.Regions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"03", "46"}, regions)

	b, err := s.Boundary(ctx, "03")
	require.NoError(t, err)
	require.Equal(t, "03", b.Region)
	require.NotEmpty(t, b.WKB)
	require.IsType(t, orb.MultiPolygon{}, b.Geometry)
	require.JSONEq(t, `{"type":"MultiPolygon","coordinates":[[[[10.5,59.8],[11,59.8],[11,60.1],[10.5,60.1],[10.5,59.8]]]]}`, string(b.GeoJSON))

	_, err = s.Boundary(ctx, "99")
	require.ErrorIs(t, err, ErrUnknownRegion)
}

func TestBoundaryGeoJSONIsVerbatim(t *testing.T) {
	geometry := `{ "coordinates": [[[10.50, 59.80], [11.000, 59.8], [11, 60.1], [10.5, 60.1], [10.50, 59.80]]], "type": "Polygon" }`
	data := `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"fylkesnummer":"03"},"geometry":` + geometry + `}]}`

	s, err := ParseBoundaries([]byte(data), "")
	require.NoError(t, err)
	b, err := s.Boundary(context.Background(), "03")
	require.NoError(t, err)
	require.Equal(t, geometry, string(b.GeoJSON))
}

func TestParseBoundariesRequiresID(t *testing.T) {
	_, err := ParseBoundaries([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`), "fylkesnummer")
	require.Error(t, err)
}
