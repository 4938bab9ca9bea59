package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test-missing")

	c, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, DefaultBatchSize, c.BatchSize)
	require.Equal(t, DefaultGridScale, c.GridScale)
	require.Equal(t, DefaultIoUThreshold, c.IoUThreshold)
	require.Equal(t, uint(DefaultGeohashPrecision), c.GeohashPrecision)
	require.Equal(t, IndexGrid, c.CandidateIndex)
	require.Equal(t, StoreMemory, c.FeatureStore)
	require.Equal(t, DefaultSampleInterval, c.SampleInterval)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("APP_ENV", "test-missing")
	t.Setenv("BATCH_SIZE", "1000")
	t.Setenv("CANDIDATE_INDEX", "rtree")
	t.Setenv("REGIONS", "03, 11,,46")

	c, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, 1000, c.BatchSize)
	require.Equal(t, IndexRTree, c.CandidateIndex)
	require.Equal(t, []string{"03", "11", "46"}, c.RegionList())
}

func TestValidate(t *testing.T) {
	valid := Config{
		BatchSize:            10,
		GridScale:            100,
		IoUThreshold:         0.7,
		GeohashPrecision:     3,
		PartitionMaxFeatures: 10,
		CandidateIndex:       IndexGrid,
		FeatureStore:         StoreMemory,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "zero batch size", mutate: func(c *Config) { c.BatchSize = 0 }},
		{name: "negative grid scale", mutate: func(c *Config) { c.GridScale = -1 }},
		{name: "threshold of one", mutate: func(c *Config) { c.IoUThreshold = 1 }},
		{name: "geohash too long", mutate: func(c *Config) { c.GeohashPrecision = 13 }},
		{name: "unknown index", mutate: func(c *Config) { c.CandidateIndex = "quadtree" }},
		{name: "redis store without url", mutate: func(c *Config) { c.FeatureStore = StoreRedis }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestFKBInputs(t *testing.T) {
	c := Config{FKBEPSG: 4326, FKBFile: "east.geojsonl:25833, west.geojsonl.zst:25832,plain.geojsonl,"}

	inputs, err := c.FKBInputs()
	require.NoError(t, err)
	require.Equal(t, []FKBInput{
		{Path: "east.geojsonl", EPSG: 25833},
		{Path: "west.geojsonl.zst", EPSG: 25832},
		{Path: "plain.geojsonl", EPSG: 4326},
	}, inputs)

	c.FKBFile = "bad.geojsonl:0"
	_, err = c.FKBInputs()
	require.Error(t, err)

	c.FKBFile = ""
	inputs, err = c.FKBInputs()
	require.NoError(t, err)
	require.Empty(t, inputs)
}
