// Package ingest streams raw building records from a source dataset into
// bounded-size batches of validated BuildingFeatures.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"doppa/internal/geometry"
	"doppa/internal/model"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// ErrMissingBuildingTag is returned by normalizers for records without the
// classification tag that marks them as buildings
var ErrMissingBuildingTag = errors.New("missing building classification tag")

// RawRecord is one tagged geometry record as produced by a source reader
type RawRecord struct {
	ID       string
	Tags     map[string]string
	Geometry orb.Geometry // Decoded geometry, nil when only WKB is set
	WKB      []byte       // Encoded geometry, used when Geometry is nil
	EPSG     int          // CRS of the geometry, 0 for the normalizer default
	Err      error        // Record-level read failure
}

// RecordReader yields raw records until io.EOF
type RecordReader interface {
	Next() (RawRecord, error)
	Close() error
}

// RecordSource opens a fresh reader positioned at the start of a dataset
type RecordSource interface {
	Open(ctx context.Context) (RecordReader, error)
}

// Normalizer maps a raw record onto a building of one source. It returns
// ErrMissingBuildingTag for records that should not be ingested.
type Normalizer interface {
	Source() model.Source
	Normalize(rec RawRecord, geom orb.Geometry) (model.BuildingFeature, error)
}

// Stats counts what one pass over a source produced
type Stats struct {
	Read    int
	Yielded int
	Batches int
	Skipped map[string]int // Skip counts by reason
}

func (s *Stats) skip(reason string) {
	if s.Skipped == nil {
		s.Skipped = make(map[string]int)
	}
	s.Skipped[reason]++
}

// SkippedTotal returns the number of records dropped for any reason
func (s Stats) SkippedTotal() int {
	var n int
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// Skip reasons
const (
	SkipReadError = "read_error"
	SkipDecode    = "undecodable_geometry"
	SkipInvalid   = "invalid_geometry"
	SkipUntagged  = "missing_tag"
	SkipNormalize = "normalize_error"
)

// progressInterval is how many records are read between progress logs
const progressInterval = 100_000

// Ingestor turns a record source into batches of buildings
type Ingestor struct {
	source    RecordSource
	normalize Normalizer
	batchSize int
	log       *logrus.Entry
	onBatch   func(n int)
	onSkip    func(reason string)

	last Stats
}

// Option customizes an Ingestor
type Option func(*Ingestor)

// WithLogger sets the entry used for warnings and progress
func WithLogger(log *logrus.Entry) Option {
	return func(in *Ingestor) { in.log = log }
}

// WithObserver registers callbacks for yielded batches and skipped records
func WithObserver(onBatch func(n int), onSkip func(reason string)) Option {
	return func(in *Ingestor) {
		in.onBatch = onBatch
		in.onSkip = onSkip
	}
}

// NewIngestor creates an ingestor emitting batches of at most batchSize buildings
func NewIngestor(source RecordSource, normalize Normalizer, batchSize int, opts ...Option) (*Ingestor, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	in := &Ingestor{
		source:    source,
		normalize: normalize,
		batchSize: batchSize,
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.log = in.log.WithField("source", normalize.Source())

	return in, nil
}

// Batches returns a lazy sequence of batches. Every range over the sequence
// reopens the source, so iteration can be restarted from the beginning. A
// source-level failure is yielded once as a non-nil error and ends the sequence;
// record-level failures are logged and skipped.
func (in *Ingestor) Batches(ctx context.Context) iter.Seq2[[]model.BuildingFeature, error] {
	return func(yield func([]model.BuildingFeature, error) bool) {
		stats := Stats{}
		defer func() { in.last = stats }()

		reader, err := in.source.Open(ctx)
		if err != nil {
			yield(nil, fmt.Errorf("failed to open %s source: %w", in.normalize.Source(), err))
			return
		}
		defer reader.Close()

		in.log.Infof("Extracting buildings in batches of %d features", in.batchSize)

		batch := make([]model.BuildingFeature, 0, in.batchSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			rec, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				yield(nil, fmt.Errorf("error reading %s source: %w", in.normalize.Source(), err))
				return
			}
			stats.Read++

			feature, reason, err := in.build(rec)
			if err != nil {
				stats.skip(reason)
				if in.onSkip != nil {
					in.onSkip(reason)
				}
				if reason == SkipUntagged {
					in.log.Debugf("Skipping record %s: %v", rec.ID, err)
				} else {
					in.log.Warnf("Skipping record %s due to geometry error: %v", rec.ID, err)
				}
				continue
			}

			batch = append(batch, feature)
			stats.Yielded++

			if stats.Read%progressInterval == 0 {
				in.log.Infof("Processed %d records...", stats.Read)
			}

			if len(batch) >= in.batchSize {
				stats.Batches++
				in.log.Infof("Created batch #%d", stats.Batches)
				if in.onBatch != nil {
					in.onBatch(len(batch))
				}
				if !yield(batch, nil) {
					return
				}
				batch = make([]model.BuildingFeature, 0, in.batchSize)
			}
		}

		// Flush the trailing partial batch exactly once
		if len(batch) > 0 {
			stats.Batches++
			in.log.Infof("Created batch #%d in cleanup step", stats.Batches)
			if in.onBatch != nil {
				in.onBatch(len(batch))
			}
			if !yield(batch, nil) {
				return
			}
		}

		in.log.Infof("Extraction completed: %d records read, %d buildings in %d batches, %d skipped",
			stats.Read, stats.Yielded, stats.Batches, stats.SkippedTotal())
	}
}

// LastStats returns the counters of the most recent pass over the source
func (in *Ingestor) LastStats() Stats {
	return in.last
}

// Collect drains one pass of the sequence into memory
func (in *Ingestor) Collect(ctx context.Context) ([][]model.BuildingFeature, error) {
	var batches [][]model.BuildingFeature
	for batch, err := range in.Batches(ctx) {
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// build decodes, normalizes and validates one record
func (in *Ingestor) build(rec RawRecord) (model.BuildingFeature, string, error) {
	if rec.Err != nil {
		return model.BuildingFeature{}, SkipReadError, rec.Err
	}

	geom := rec.Geometry
	if geom == nil {
		decoded, err := geometry.DecodeWKB(rec.WKB)
		if err != nil {
			return model.BuildingFeature{}, SkipDecode, err
		}
		geom = decoded
	} else {
		polygonal, err := geometry.Polygonal(geom)
		if err != nil {
			return model.BuildingFeature{}, SkipDecode, err
		}
		geom = polygonal
	}

	feature, err := in.normalize.Normalize(rec, geom)
	if errors.Is(err, ErrMissingBuildingTag) {
		return model.BuildingFeature{}, SkipUntagged, err
	}
	if err != nil {
		return model.BuildingFeature{}, SkipNormalize, err
	}

	if err := geometry.Validate(feature.Geometry); err != nil {
		return model.BuildingFeature{}, SkipInvalid, err
	}

	return feature, "", nil
}
