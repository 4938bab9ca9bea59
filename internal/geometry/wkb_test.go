package geometry

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestDecodeWKB(t *testing.T) {
	poly := square(10, 60, 10.001, 60.001)
	data, err := EncodeWKB(poly)
	require.NoError(t, err)

	decoded, err := DecodeWKB(data)
	require.NoError(t, err)
	require.Equal(t, poly, decoded)
}

func TestDecodeWKBCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "garbage", data: []byte{0xde, 0xad, 0xbe, 0xef}},
		{name: "truncated polygon", data: []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWKB(tt.data)
			require.ErrorIs(t, err, ErrDecodeGeometry)
		})
	}
}

func TestPolygonal(t *testing.T) {
	open := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}
	closed, err := Polygonal(open)
	require.NoError(t, err)
	require.Equal(t, square(0, 0, 1, 1), closed)

	// input is left untouched
	require.Len(t, open[0], 4)

	_, err = Polygonal(orb.Point{1, 2})
	require.ErrorIs(t, err, ErrNotPolygonal)

	unwrapped, err := Polygonal(orb.Collection{square(0, 0, 1, 1)})
	require.NoError(t, err)
	require.IsType(t, orb.Polygon{}, unwrapped)
}

func TestToWGS84(t *testing.T) {
	tests := []struct {
		name     string
		epsg     int
		in       orb.Point
		expected orb.Point
		delta    float64
	}{
		{name: "identity", epsg: EPSGWGS84, in: orb.Point{10.5, 59.9}, expected: orb.Point{10.5, 59.9}, delta: 0},
		{name: "utm32 central meridian at equator", epsg: EPSGUTM32N, in: orb.Point{500000, 0}, expected: orb.Point{9, 0}, delta: 1e-9},
		{name: "utm33 central meridian at equator", epsg: EPSGUTM33N, in: orb.Point{500000, 0}, expected: orb.Point{15, 0}, delta: 1e-9},
		{name: "utm32 oslo", epsg: EPSGUTM32N, in: orb.Point{597000, 6643000}, expected: orb.Point{10.74, 59.91}, delta: 0.02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ToWGS84(tt.in, tt.epsg)
			require.NoError(t, err)
			p := out.(orb.Point)
			require.InDelta(t, tt.expected[0], p[0], tt.delta)
			require.InDelta(t, tt.expected[1], p[1], tt.delta)
		})
	}

	_, err := ToWGS84(orb.Point{0, 0}, 3857)
	require.Error(t, err)
}
