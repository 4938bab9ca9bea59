package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"doppa/internal/config"
	"doppa/internal/release"

	"github.com/stretchr/testify/require"
)

// unreachableConfig points every input at something that fails when touched
func unreachableConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		OSMFile:      filepath.Join(dir, "missing.osm.pbf"),
		FKBFile:      filepath.Join(dir, "missing.geojsonl"),
		BoundaryFile: filepath.Join(dir, "missing-boundaries.geojson"),
		OutputDir:    filepath.Join(dir, "out"),
		DBUrl:        "postgres://nobody@127.0.0.1:1/doppa?connect_timeout=1",
		RedisUrl:     "redis://127.0.0.1:1/0",
		FeatureStore: config.StoreRedis,
		BatchSize:    10,
	}
}

func TestRunConflateRejectsBadReleaseBeforeIO(t *testing.T) {
	cfg := unreachableConfig(t)
	cfg.Release = "2025-13-01.x"

	err := runConflate(context.Background(), cfg, "", false, 1)
	require.ErrorIs(t, err, release.ErrInvalidRelease)

	_, statErr := os.Stat(cfg.OutputDir)
	require.True(t, os.IsNotExist(statErr))
}

func TestRunConflateRejectsBadRegionBeforeIO(t *testing.T) {
	cfg := unreachableConfig(t)
	cfg.Release = "2025-03-01.0"
	cfg.Regions = "03, 4"

	err := runConflate(context.Background(), cfg, "", false, 1)
	require.ErrorIs(t, err, release.ErrInvalidRegion)
}

func TestRunConflateRequiresInputs(t *testing.T) {
	err := runConflate(context.Background(), config.Config{Release: "2025-03-01.0"}, "", false, 1)
	require.ErrorContains(t, err, "required")
}
