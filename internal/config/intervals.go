package config

import "time"

// Pipeline tunables
const (
	// DefaultBatchSize caps the number of features held per ingestion batch
	DefaultBatchSize = 250_000

	// DefaultGridScale gives grid cells of 0.01 degrees
	DefaultGridScale = 100.0

	// DefaultIoUThreshold is the strict lower bound for treating two footprints as the same building
	DefaultIoUThreshold = 0.70

	// DefaultGeohashPrecision is the number of geohash characters in a partition key
	DefaultGeohashPrecision = 3

	// DefaultPartitionMaxFeatures caps the number of features written per output file
	DefaultPartitionMaxFeatures = 250_000
)

// Sampler intervals
const (
	// DefaultSampleInterval defines how often the resource sampler reads CPU and memory counters
	DefaultSampleInterval = 1 * time.Second

	// DefaultSamplerJoinTimeout bounds how long a finished run waits for the sampler to stop
	DefaultSamplerJoinTimeout = 1 * time.Second
)
