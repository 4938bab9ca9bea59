package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	DBUrl    string `mapstructure:"DB_URL"`
	RedisUrl string `mapstructure:"REDIS_URL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	OSMFile      string `mapstructure:"OSM_FILE"`
	FKBFile      string `mapstructure:"FKB_FILE"`
	FKBEPSG      int    `mapstructure:"FKB_EPSG"`
	FKBLayered   bool   `mapstructure:"FKB_LAYERED"`
	BoundaryFile string `mapstructure:"BOUNDARY_FILE"`
	OutputDir    string `mapstructure:"OUTPUT_DIR"`
	Release      string `mapstructure:"RELEASE"`
	Regions      string `mapstructure:"REGIONS"`

	BatchSize            int     `mapstructure:"BATCH_SIZE"`
	GridScale            float64 `mapstructure:"GRID_SCALE"`
	IoUThreshold         float64 `mapstructure:"IOU_THRESHOLD"`
	GeohashPrecision     uint    `mapstructure:"GEOHASH_PRECISION"`
	PartitionMaxFeatures int     `mapstructure:"PARTITION_MAX_FEATURES"`
	CandidateIndex       string  `mapstructure:"CANDIDATE_INDEX"`
	FeatureStore         string  `mapstructure:"FEATURE_STORE"`

	SampleInterval     time.Duration `mapstructure:"SAMPLE_INTERVAL"`
	SamplerJoinTimeout time.Duration `mapstructure:"SAMPLER_JOIN_TIMEOUT"`
	WarmupIterations   int           `mapstructure:"WARMUP_ITERATIONS"`
	Iterations         int           `mapstructure:"ITERATIONS"`
}

// Index kinds for CANDIDATE_INDEX
const (
	IndexGrid  = "grid"
	IndexRTree = "rtree"
)

// Store kinds for FEATURE_STORE
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	// Keys without a default still need registering so Unmarshal sees their env values
	for _, key := range []string{"DB_URL", "REDIS_URL", "OSM_FILE", "FKB_FILE", "BOUNDARY_FILE", "RELEASE", "REGIONS"} {
		v.SetDefault(key, "")
	}

	v.SetDefault("PORT", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("OUTPUT_DIR", "datasets/output")
	v.SetDefault("FKB_EPSG", 4326)
	v.SetDefault("FKB_LAYERED", false)
	v.SetDefault("BATCH_SIZE", DefaultBatchSize)
	v.SetDefault("GRID_SCALE", DefaultGridScale)
	v.SetDefault("IOU_THRESHOLD", DefaultIoUThreshold)
	v.SetDefault("GEOHASH_PRECISION", DefaultGeohashPrecision)
	v.SetDefault("PARTITION_MAX_FEATURES", DefaultPartitionMaxFeatures)
	v.SetDefault("CANDIDATE_INDEX", IndexGrid)
	v.SetDefault("FEATURE_STORE", StoreMemory)
	v.SetDefault("SAMPLE_INTERVAL", DefaultSampleInterval)
	v.SetDefault("SAMPLER_JOIN_TIMEOUT", DefaultSamplerJoinTimeout)
	v.SetDefault("WARMUP_ITERATIONS", 0)
	v.SetDefault("ITERATIONS", 1)
}

func LoadConfig() (c Config, err error) {
	return Load(viper.GetViper())
}

// Load reads configuration into c using v. Values come from defaults, the
// .env.<APP_ENV> file, environment variables and bound flags, in rising priority.
func Load(v *viper.Viper) (c Config, err error) {
	// Get environment type from ENV variable or use development as default
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	SetDefaults(v)

	// Load environment file
	v.SetConfigName(fmt.Sprintf(".env.%s", env))
	v.SetConfigType("env")
	v.AddConfigPath(".") // Look in the project root directory

	// Environment variables take precedence over config file
	v.AutomaticEnv()

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		// Continue even if file is not found
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, err
		}
	}

	// Map the values to the Config struct
	if err = v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, c.Validate()
}

// Validate checks tunables that would otherwise fail deep inside a run
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.GridScale <= 0 {
		return fmt.Errorf("GRID_SCALE must be positive, got %g", c.GridScale)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold >= 1 {
		return fmt.Errorf("IOU_THRESHOLD must be in [0, 1), got %g", c.IoUThreshold)
	}
	if c.GeohashPrecision < 1 || c.GeohashPrecision > 12 {
		return fmt.Errorf("GEOHASH_PRECISION must be in [1, 12], got %d", c.GeohashPrecision)
	}
	if c.PartitionMaxFeatures <= 0 {
		return fmt.Errorf("PARTITION_MAX_FEATURES must be positive, got %d", c.PartitionMaxFeatures)
	}
	if c.CandidateIndex != IndexGrid && c.CandidateIndex != IndexRTree {
		return fmt.Errorf("CANDIDATE_INDEX must be %q or %q, got %q", IndexGrid, IndexRTree, c.CandidateIndex)
	}
	if c.FeatureStore != StoreMemory && c.FeatureStore != StoreRedis {
		return fmt.Errorf("FEATURE_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.FeatureStore)
	}
	if c.FeatureStore == StoreRedis && c.RedisUrl == "" {
		return errors.New("REDIS_URL is required when FEATURE_STORE is redis")
	}
	return nil
}

// RegionList splits the comma-separated REGIONS value
func (c Config) RegionList() []string {
	var regions []string
	for _, r := range strings.Split(c.Regions, ",") {
		if r = strings.TrimSpace(r); r != "" {
			regions = append(regions, r)
		}
	}
	return regions
}

// FKBInput is one FKB file and the EPSG code of its coordinates
type FKBInput struct {
	Path string
	EPSG int
}

// FKBInputs splits the comma-separated FKB_FILE value. An entry is either a
// path or path:epsg; entries without a code use FKB_EPSG.
func (c Config) FKBInputs() ([]FKBInput, error) {
	var inputs []FKBInput
	for _, entry := range strings.Split(c.FKBFile, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		input := FKBInput{Path: entry, EPSG: c.FKBEPSG}
		if i := strings.LastIndex(entry, ":"); i > 0 {
			if code, err := strconv.Atoi(entry[i+1:]); err == nil {
				if code <= 0 {
					return nil, fmt.Errorf("FKB_FILE entry %q has an invalid EPSG code", entry)
				}
				input = FKBInput{Path: entry[:i], EPSG: code}
			}
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}
