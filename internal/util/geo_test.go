package util

import (
	"regexp"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestHaversineDistance(t *testing.T) {
	// One degree of latitude along a meridian
	d := HaversineDistance(59, 10, 60, 10)
	require.InDelta(t, 111195, d, 10)

	require.Zero(t, PointDistance(orb.Point{10, 60}, orb.Point{10, 60}))
}

func TestGeodesicArea(t *testing.T) {
	// 0.001° square at the equator is roughly 111.2m x 111.2m
	ccw := orb.Polygon{{{0, 0}, {0.001, 0}, {0.001, 0.001}, {0, 0.001}, {0, 0}}}
	area := GeodesicArea(ccw)
	require.InDelta(t, 12364, area, 20)

	cw := orb.Polygon{{{0, 0}, {0, 0.001}, {0.001, 0.001}, {0.001, 0}, {0, 0}}}
	require.InDelta(t, area, GeodesicArea(cw), 1e-6)

	multi := orb.MultiPolygon{ccw, ccw}
	require.InDelta(t, 2*area, GeodesicArea(multi), 1e-6)

	require.Zero(t, GeodesicArea(orb.Point{0, 0}))
}

func TestNewRunID(t *testing.T) {
	id, err := NewRunID(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 8)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^2026-03-01-[A-Z0-9]{8}$`), id)

	_, err = NewRunID(time.Now(), 40)
	require.Error(t, err)
}
