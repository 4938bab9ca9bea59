package ingest

import (
	"context"
	"errors"
	"testing"

	"doppa/internal/geometry"

	"github.com/stretchr/testify/require"
)

func TestConcatReadsSourcesInOrder(t *testing.T) {
	east := &sliceSource{records: buildingRecords(2)}
	west := &sliceSource{records: buildingRecords(3)}

	reader, err := Concat(WithEPSG(east, geometry.EPSGUTM33N), WithEPSG(west, geometry.EPSGUTM32N)).Open(context.Background())
	require.NoError(t, err)

	first, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, geometry.EPSGUTM33N, first.EPSG)
	require.Equal(t, 1, east.opens)
	require.Zero(t, west.opens)

	rest := readAll(t, reader)
	require.Len(t, rest, 4)
	require.Equal(t, geometry.EPSGUTM33N, rest[0].EPSG)
	for _, rec := range rest[1:] {
		require.Equal(t, geometry.EPSGUTM32N, rec.EPSG)
	}
	require.Equal(t, 1, west.opens)
}

func TestConcatSingleSource(t *testing.T) {
	src := &sliceSource{}
	require.Same(t, src, Concat(src))
}

func TestConcatPropagatesOpenErrors(t *testing.T) {
	boom := errors.New("boom")
	reader, err := Concat(&sliceSource{records: buildingRecords(1)}, &sliceSource{openErr: boom}).Open(context.Background())
	require.NoError(t, err)

	_, err = reader.Next()
	require.NoError(t, err)
	_, err = reader.Next()
	require.ErrorIs(t, err, boom)
	require.NoError(t, reader.Close())
}

func TestWithEPSGKeepsRecordCRS(t *testing.T) {
	records := buildingRecords(1)
	records[0].EPSG = geometry.EPSGUTM32N

	reader, err := WithEPSG(&sliceSource{records: records}, geometry.EPSGUTM33N).Open(context.Background())
	require.NoError(t, err)
	rec, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, geometry.EPSGUTM32N, rec.EPSG)
}

func TestFKBNormalizerUsesRecordEPSG(t *testing.T) {
	rec := RawRecord{
		ID:   "feature-1",
		Tags: map[string]string{"bygningstype": "111"},
		EPSG: geometry.EPSGUTM32N,
	}

	f, err := FKBNormalizer{EPSG: geometry.EPSGWGS84}.Normalize(rec, square(597000, 6643000, 10))
	require.NoError(t, err)
	c := f.Centroid()
	require.InDelta(t, 10.73, c[0], 0.01)
	require.InDelta(t, 59.91, c[1], 0.01)
}
