package ingest

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"

	"doppa/internal/geometry"
	"doppa/internal/model"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

// sliceSource serves records from memory and counts how often it was opened
type sliceSource struct {
	records []RawRecord
	opens   int
	openErr error
	readErr error // returned after all records
}

func (s *sliceSource) Open(context.Context) (RecordReader, error) {
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &sliceReader{src: s}, nil
}

type sliceReader struct {
	src *sliceSource
	pos int
}

func (r *sliceReader) Next() (RawRecord, error) {
	if r.pos >= len(r.src.records) {
		if r.src.readErr != nil {
			return RawRecord{}, r.src.readErr
		}
		return RawRecord{}, io.EOF
	}
	rec := r.src.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *sliceReader) Close() error { return nil }

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func buildingRecords(n int) []RawRecord {
	records := make([]RawRecord, n)
	for i := range records {
		x := float64(i%1000) * 0.001
		y := float64(i/1000) * 0.001
		records[i] = RawRecord{
			ID:       strconv.Itoa(i),
			Tags:     map[string]string{"building": "yes"},
			Geometry: square(x, y, 0.0005),
		}
	}
	return records
}

func TestBatchesRespectBatchSize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping million-feature ingest in short mode")
	}

	src := &sliceSource{records: buildingRecords(1_000_000)}
	in, err := NewIngestor(src, OSMNormalizer{}, 100_000)
	require.NoError(t, err)

	seen := make(map[string]struct{}, 1_000_000)
	batches := 0
	for batch, err := range in.Batches(context.Background()) {
		require.NoError(t, err)
		require.Len(t, batch, 100_000)
		batches++
		for _, f := range batch {
			_, dup := seen[f.ExternalID]
			require.False(t, dup, "feature %s yielded twice", f.ExternalID)
			seen[f.ExternalID] = struct{}{}
		}
	}

	require.Equal(t, 10, batches)
	require.Len(t, seen, 1_000_000)
	require.Equal(t, 10, in.LastStats().Batches)
}

func TestBatchesFlushTrailingPartialBatch(t *testing.T) {
	src := &sliceSource{records: buildingRecords(25)}
	in, err := NewIngestor(src, OSMNormalizer{}, 10)
	require.NoError(t, err)

	batches, err := in.Collect(context.Background())
	require.NoError(t, err)

	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = len(b)
	}
	require.Equal(t, []int{10, 10, 5}, sizes)
}

func TestBatchesAreRestartable(t *testing.T) {
	src := &sliceSource{records: buildingRecords(7)}
	in, err := NewIngestor(src, OSMNormalizer{}, 3)
	require.NoError(t, err)

	first, err := in.Collect(context.Background())
	require.NoError(t, err)
	second, err := in.Collect(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, src.opens)
	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i][0].ExternalID, second[i][0].ExternalID)
	}
}

func TestBatchesEarlyBreakStopsReading(t *testing.T) {
	src := &sliceSource{records: buildingRecords(10)}
	in, err := NewIngestor(src, OSMNormalizer{}, 2)
	require.NoError(t, err)

	for batch, err := range in.Batches(context.Background()) {
		require.NoError(t, err)
		require.Len(t, batch, 2)
		break
	}
	require.Equal(t, 1, in.LastStats().Batches)
}

func TestBatchesSkipBadRecords(t *testing.T) {
	bowtie := orb.Polygon{{{0, 0}, {1, 1}, {1, 0}, {0, 1}, {0, 0}}}
	wkb, err := geometry.EncodeWKB(square(5, 5, 1))
	require.NoError(t, err)

	src := &sliceSource{records: []RawRecord{
		{ID: "ok", Tags: map[string]string{"building": "house"}, Geometry: square(0, 0, 1)},
		{ID: "bowtie", Tags: map[string]string{"building": "house"}, Geometry: bowtie},
		{ID: "untagged", Tags: map[string]string{"amenity": "bench"}, Geometry: square(2, 2, 1)},
		{ID: "not-a-building", Tags: map[string]string{"building": "no"}, Geometry: square(3, 3, 1)},
		{ID: "garbage", Tags: map[string]string{"building": "yes"}, WKB: []byte{0x01, 0x02}},
		{ID: "line", Tags: map[string]string{"building": "yes"}, Geometry: orb.LineString{{0, 0}, {1, 1}}},
		{ID: "broken", Err: errors.New("unclosed way")},
		{ID: "from-wkb", Tags: map[string]string{"building": "yes"}, WKB: wkb},
	}}

	var skipped []string
	in, err := NewIngestor(src, OSMNormalizer{}, 100, WithObserver(nil, func(reason string) {
		skipped = append(skipped, reason)
	}))
	require.NoError(t, err)

	batches, err := in.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)

	ids := []string{}
	for _, f := range batches[0] {
		ids = append(ids, f.ExternalID)
	}
	require.Equal(t, []string{"ok", "from-wkb"}, ids)

	stats := in.LastStats()
	require.Equal(t, 8, stats.Read)
	require.Equal(t, 2, stats.Yielded)
	require.Equal(t, 6, stats.SkippedTotal())
	require.Equal(t, 1, stats.Skipped[SkipInvalid])
	require.Equal(t, 2, stats.Skipped[SkipUntagged])
	require.Equal(t, 2, stats.Skipped[SkipDecode])
	require.Equal(t, 1, stats.Skipped[SkipReadError])
	require.Len(t, skipped, 6)
}

func TestBatchesYieldSourceErrorsOnce(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		src := &sliceSource{openErr: errors.New("no such file")}
		in, err := NewIngestor(src, OSMNormalizer{}, 10)
		require.NoError(t, err)

		_, err = in.Collect(context.Background())
		require.ErrorContains(t, err, "no such file")
	})

	t.Run("read", func(t *testing.T) {
		src := &sliceSource{records: buildingRecords(3), readErr: io.ErrUnexpectedEOF}
		in, err := NewIngestor(src, OSMNormalizer{}, 10)
		require.NoError(t, err)

		errs := 0
		for _, err := range in.Batches(context.Background()) {
			if err != nil {
				require.ErrorIs(t, err, io.ErrUnexpectedEOF)
				errs++
			}
		}
		require.Equal(t, 1, errs)
	})
}

func TestNewIngestorRejectsNonPositiveBatchSize(t *testing.T) {
	_, err := NewIngestor(&sliceSource{}, OSMNormalizer{}, 0)
	require.Error(t, err)
}

func TestOSMNormalizer(t *testing.T) {
	rec := RawRecord{
		ID: "42",
		Tags: map[string]string{
			"building":       "yes",
			"ref:bygningsnr": "300123456",
			"name":           "Rådhuset",
			"source":         "survey",
		},
	}

	f, err := OSMNormalizer{}.Normalize(rec, square(0, 0, 1))
	require.NoError(t, err)
	require.Equal(t, model.SourceOSM, f.Source)
	require.Equal(t, "unspecified", *f.BuildingType)
	require.Equal(t, int64(300123456), *f.RegisterID)
	require.Equal(t, map[string]string{"name": "Rådhuset"}, f.Attributes)

	rec.Tags["ref:bygningsnr"] = "n/a"
	f, err = OSMNormalizer{}.Normalize(rec, square(0, 0, 1))
	require.NoError(t, err)
	require.Nil(t, f.RegisterID)

	_, err = OSMNormalizer{}.Normalize(RawRecord{Tags: map[string]string{"building": "no"}}, square(0, 0, 1))
	require.ErrorIs(t, err, ErrMissingBuildingTag)
}

func TestFKBNormalizer(t *testing.T) {
	rec := RawRecord{
		ID: "feature-1",
		Tags: map[string]string{
			"lokalId":        "abc-123",
			"bygningstype":   "111",
			"bygningsnummer": "12345",
			"kommunenummer":  "0301",
		},
	}

	f, err := FKBNormalizer{}.Normalize(rec, square(10, 60, 0.001))
	require.NoError(t, err)
	require.Equal(t, "abc-123", f.ExternalID)
	require.Equal(t, model.SourceFKB, f.Source)
	require.Equal(t, "111", *f.BuildingType)
	require.Equal(t, int64(12345), *f.RegisterID)
	require.Equal(t, map[string]string{"kommunenummer": "0301"}, f.Attributes)

	utm := square(597000, 6643000, 10)
	f, err = FKBNormalizer{EPSG: geometry.EPSGUTM32N}.Normalize(rec, utm)
	require.NoError(t, err)
	c := f.Centroid()
	require.InDelta(t, 10.73, c[0], 0.01)
	require.InDelta(t, 59.91, c[1], 0.01)

	_, err = FKBNormalizer{}.Normalize(RawRecord{ID: "x", Tags: map[string]string{}}, square(0, 0, 1))
	require.ErrorIs(t, err, ErrMissingBuildingTag)
}

func TestGeoJSONSeqReader(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"Feature","id":7,"properties":{"building":"house","levels":2,"note":null},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}`,
		``,
		"\x1e" + `{"type":"Feature","id":"b","properties":{"building":"yes"},"geometry":{"type":"Polygon","coordinates":[[[2,2],[3,2],[3,3],[2,3],[2,2]]]}}`,
		`{not json`,
	}, "\n")

	r := NewGeoJSONSeqReader(strings.NewReader(input))
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "7", rec.ID)
	require.Equal(t, map[string]string{"building": "house", "levels": "2"}, rec.Tags)
	require.IsType(t, orb.Polygon{}, rec.Geometry)

	rec, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, "b", rec.ID)

	rec, err = r.Next()
	require.NoError(t, err)
	require.Error(t, rec.Err)
	require.Equal(t, "line 4", rec.ID)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}
