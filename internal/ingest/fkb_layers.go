package ingest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"doppa/internal/geometry"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geos"
)

// FKB layer properties
const (
	fkbLayerProperty = "layer"
	fkbGMLIDProperty = "gml_id"
)

// Edge layers whose lines outline building footprints
var fkbEdgeLayers = map[string]bool{
	"Takkant":                   true,
	"FiktivBygningsavgrensning": true,
	"Bygningsdelelinje":         true,
}

// Point layers carrying the building attributes
var fkbPointLayers = map[string]bool{
	"Bygning":      true,
	"AnnenBygning": true,
}

// strTreeNodeCapacity is the node capacity of the building point index
const strTreeNodeCapacity = 10

// FKBLayerSource builds FKB footprints from the raw cadastral layers. The
// edge lines are noded, unioned and polygonized; every face containing a
// building point becomes one record carrying that point's attributes. Faces
// without a point are dropped.
type FKBLayerSource struct {
	source RecordSource
	log    *logrus.Entry
}

// NewFKBLayerSource wraps a source of raw FKB layer records
func NewFKBLayerSource(source RecordSource, log *logrus.Entry) *FKBLayerSource {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FKBLayerSource{source: source, log: log}
}

// fkbPoint is one building point and its attributes
type fkbPoint struct {
	rec   RawRecord
	point orb.Point
}

func (s *FKBLayerSource) Open(ctx context.Context) (RecordReader, error) {
	reader, err := s.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var (
		edges   orb.MultiLineString
		points  []fkbPoint
		failed  []RawRecord
		ignored int
		epsg    int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rec.Err != nil {
			failed = append(failed, rec)
			continue
		}
		if rec.EPSG != 0 {
			epsg = rec.EPSG
		}

		layer := fkbLayer(rec)
		switch {
		case fkbEdgeLayers[layer]:
			lines, err := edgeLines(rec)
			if err != nil {
				rec.Err = err
				failed = append(failed, rec)
				continue
			}
			edges = append(edges, lines...)

		case fkbPointLayers[layer]:
			point, err := buildingPoint(rec)
			if err != nil {
				rec.Err = err
				failed = append(failed, rec)
				continue
			}
			points = append(points, fkbPoint{rec: rec, point: point})

		default:
			ignored++
		}
	}

	s.log.Infof("Polygonizing %d edge lines against %d building points (%d records of other layers ignored)",
		len(edges), len(points), ignored)

	records, faces, err := polygonizeBuildings(edges, points)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].EPSG = epsg
	}
	s.log.Infof("Built %d footprints from %d faces", len(records), faces)

	return &recordSlice{records: append(failed, records...)}, nil
}

// fkbLayer returns the layer name, falling back to the gml_id prefix
func fkbLayer(rec RawRecord) string {
	if layer := rec.Tags[fkbLayerProperty]; layer != "" {
		return layer
	}
	layer, _, _ := strings.Cut(rec.Tags[fkbGMLIDProperty], ".")
	return layer
}

func recordGeometry(rec RawRecord) (orb.Geometry, error) {
	if rec.Geometry != nil {
		return rec.Geometry, nil
	}
	if len(rec.WKB) == 0 {
		return nil, fmt.Errorf("%w: record %s has no geometry", geometry.ErrDecodeGeometry, rec.ID)
	}
	g, err := wkb.Unmarshal(rec.WKB)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", geometry.ErrDecodeGeometry, err)
	}
	return g, nil
}

// edgeLines returns the linework of an edge record. Polygon rings count as lines.
func edgeLines(rec RawRecord) (orb.MultiLineString, error) {
	g, err := recordGeometry(rec)
	if err != nil {
		return nil, err
	}

	switch geom := g.(type) {
	case orb.LineString:
		return orb.MultiLineString{geom}, nil
	case orb.MultiLineString:
		return geom, nil
	case orb.Ring:
		return orb.MultiLineString{orb.LineString(geom)}, nil
	case orb.Polygon:
		lines := make(orb.MultiLineString, 0, len(geom))
		for _, ring := range geom {
			lines = append(lines, orb.LineString(ring))
		}
		return lines, nil
	case orb.MultiPolygon:
		var lines orb.MultiLineString
		for _, p := range geom {
			for _, ring := range p {
				lines = append(lines, orb.LineString(ring))
			}
		}
		return lines, nil
	}
	return nil, fmt.Errorf("edge record %s is a %s, expected lines", rec.ID, g.GeoJSONType())
}

func buildingPoint(rec RawRecord) (orb.Point, error) {
	g, err := recordGeometry(rec)
	if err != nil {
		return orb.Point{}, err
	}

	switch geom := g.(type) {
	case orb.Point:
		return geom, nil
	case orb.MultiPoint:
		if len(geom) > 0 {
			return geom[0], nil
		}
	}
	return orb.Point{}, fmt.Errorf("building point record %s is a %s", rec.ID, g.GeoJSONType())
}

// polygonizeBuildings joins the faces of the edge graph with the building
// points they contain. A face takes the attributes of its first contained
// point in input order. It returns the records and the number of faces.
func polygonizeBuildings(edges orb.MultiLineString, points []fkbPoint) (records []RawRecord, faces int, err error) {
	if len(edges) == 0 || len(points) == 0 {
		return nil, 0, nil
	}

	data, err := geometry.EncodeWKB(edges)
	if err != nil {
		return nil, 0, err
	}

	// GEOS raises on topology failures
	defer func() {
		if r := recover(); r != nil {
			records, faces, err = nil, 0, fmt.Errorf("polygonize failed: %v", r)
		}
	}()

	lines, err := geos.NewGeomFromWKB(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", geometry.ErrDecodeGeometry, err)
	}
	polygons := geos.Polygonize([]*geos.Geom{lines.UnaryUnion()})

	tree := geos.DefaultContext.NewSTRtree(strTreeNodeCapacity)
	defer tree.Destroy()
	for i, p := range points {
		if err := tree.Insert(geos.NewPointFromXY(p.point.X(), p.point.Y()), i); err != nil {
			return nil, 0, err
		}
	}

	faces = polygons.NumGeometries()
	for n := 0; n < faces; n++ {
		face := polygons.Geometry(n)

		// Query holds the context lock, so containment is tested afterwards
		var candidates []int
		tree.Query(face, func(v any) { candidates = append(candidates, v.(int)) })
		if len(candidates) == 0 {
			continue
		}
		sort.Ints(candidates)

		prepared := face.Prepare()
		for _, i := range candidates {
			if !prepared.ContainsXY(points[i].point.X(), points[i].point.Y()) {
				continue
			}
			point := points[i].rec
			records = append(records, RawRecord{
				ID:   point.ID,
				Tags: point.Tags,
				WKB:  face.ToWKB(),
			})
			break
		}
	}

	return records, faces, nil
}

// recordSlice serves records prepared in memory
type recordSlice struct {
	records []RawRecord
	pos     int
}

func (r *recordSlice) Next() (RawRecord, error) {
	if r.pos >= len(r.records) {
		return RawRecord{}, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *recordSlice) Close() error { return nil }
