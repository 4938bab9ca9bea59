// Package pipeline runs the conflation stages in order for one release.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"doppa/internal/config"
	"doppa/internal/conflate"
	"doppa/internal/ingest"
	"doppa/internal/model"
	"doppa/internal/monitor"
	"doppa/internal/partition"
	"doppa/internal/postgres"
	"doppa/internal/region"
	"doppa/internal/release"
	"doppa/internal/sink"
	"doppa/internal/storage"

	"github.com/sirupsen/logrus"
)

// Registrar records written partitions in the catalog
type Registrar interface {
	Register(ctx context.Context, reg postgres.Registration) (*postgres.RegionItemPG, error)
}

// Deps are the collaborators of a pipeline. Registrar may be nil.
type Deps struct {
	OSM        ingest.RecordSource
	FKB        ingest.RecordSource
	Boundaries region.Supplier
	Store      storage.FeatureStore
	Writer     sink.Writer
	Registrar  Registrar
	BaseURL    string
}

// Report summarizes one run
type Report struct {
	Release     string
	Ingested    map[model.Source]int
	Skipped     map[model.Source]int
	Stored      int // Features held by the feature store after ingestion
	Summary     conflate.Summary
	Merge       conflate.MergeStats
	Regions     []string
	Partitions  int
	FilesByItem map[string]int // Files written per region/dataset
}

// Pipeline ingests both sources, conflates them and writes every region
type Pipeline struct {
	cfg         config.Config
	deps        Deps
	classifier  *conflate.Classifier
	merger      *conflate.Merger
	clipper     *region.Clipper
	partitioner *partition.Partitioner
	log         *logrus.Entry
}

// New wires a pipeline from configuration
func New(cfg config.Config, deps Deps, log *logrus.Entry) (*Pipeline, error) {
	if deps.OSM == nil || deps.FKB == nil || deps.Boundaries == nil || deps.Store == nil || deps.Writer == nil {
		return nil, errors.New("pipeline requires both sources, a boundary supplier, a feature store and a writer")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	classifier, err := conflate.NewClassifier(conflate.Options{
		Threshold: cfg.IoUThreshold,
		Index:     cfg.CandidateIndex,
		GridScale: cfg.GridScale,
		Log:       log.WithField("component", "classifier"),
	})
	if err != nil {
		return nil, err
	}

	partitioner, err := partition.NewPartitioner(cfg.GeohashPrecision)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:         cfg,
		deps:        deps,
		classifier:  classifier,
		merger:      conflate.NewMerger(deps.Store, log.WithField("component", "merger")),
		clipper:     region.NewClipper(log.WithField("component", "clipper")),
		partitioner: partitioner,
		log:         log,
	}, nil
}

// sourceData is what ingestion keeps of one source
type sourceData struct {
	features []model.BuildingFeature
	batches  []model.Batch
	stats    ingest.Stats
}

// ValidateIdentifiers checks the release identifier and every region id
func ValidateIdentifiers(rel string, regions []string) error {
	if _, err := release.Parse(rel); err != nil {
		return err
	}
	for _, r := range regions {
		if err := release.ValidateRegion(r); err != nil {
			return err
		}
	}
	return nil
}

// Run processes the given regions for rel. Identifiers are validated before
// any source is read.
func (p *Pipeline) Run(ctx context.Context, rel string, regions []string) (Report, error) {
	if err := ValidateIdentifiers(rel, regions); err != nil {
		return Report{}, err
	}

	if len(regions) == 0 {
		all, err := p.deps.Boundaries.Regions(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("failed to list regions: %w", err)
		}
		for _, r := range all {
			if err := release.ValidateRegion(r); err != nil {
				return Report{}, err
			}
		}
		regions = all
	}

	report := Report{
		Release:     rel,
		Ingested:    map[model.Source]int{},
		Skipped:     map[model.Source]int{},
		Regions:     regions,
		FilesByItem: map[string]int{},
	}

	osm, err := p.ingest(ctx, model.SourceOSM)
	if err != nil {
		return report, err
	}
	fkb, err := p.ingest(ctx, model.SourceFKB)
	if err != nil {
		return report, err
	}
	for src, data := range map[model.Source]*sourceData{model.SourceOSM: osm, model.SourceFKB: fkb} {
		report.Ingested[src] = data.stats.Yielded
		report.Skipped[src] = data.stats.SkippedTotal()
	}

	report.Stored, err = p.deps.Store.Len(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to count stored features: %w", err)
	}
	p.log.Infof("Feature store holds %d buildings", report.Stored)

	var result conflate.Result
	err = p.stage("classify", func() error {
		var err error
		result, err = p.classifier.Classify(osm.features, fkb.features)
		return err
	})
	if err != nil {
		return report, err
	}
	result.LogSummary(p.log)
	report.Summary = result.Summary
	recordClasses(result)

	// Geometry now lives in the feature store only
	osm.features, fkb.features = nil, nil

	var merged []model.MergedFeature
	err = p.stage("merge", func() error {
		var err error
		merged, report.Merge, err = p.merger.Merge(ctx, result)
		return err
	})
	if err != nil {
		return report, err
	}
	monitor.MergeDroppedTotal.Add(float64(report.Merge.Dropped))

	rows := make([]model.Row, 0, len(merged))
	for i := range merged {
		monitor.MergedTotal.WithLabelValues(string(merged[i].Provenance)).Inc()
		rows = append(rows, merged[i].ToRow())
	}
	conflated := []model.Batch{model.NewBatch(rows)}

	// Schemas are unified once per dataset and shared by every region
	datasets := []struct {
		name    string // Path dataset segment, empty for the conflated output
		catalog string
		rows    model.Batch
	}{
		{string(model.SourceOSM), string(model.SourceOSM), region.UnifySchemas(osm.batches)},
		{string(model.SourceFKB), string(model.SourceFKB), region.UnifySchemas(fkb.batches)},
		{"", postgres.DatasetConflated, region.UnifySchemas(conflated)},
	}
	osm.batches, fkb.batches = nil, nil

	// Regions run one after another to keep memory use predictable
	for _, r := range regions {
		boundary, err := p.deps.Boundaries.Boundary(ctx, r)
		if err != nil {
			return report, err
		}

		for _, ds := range datasets {
			n, err := p.writeRegion(ctx, rel, boundary, ds.name, ds.catalog, ds.rows)
			if err != nil {
				return report, err
			}
			report.Partitions += n
			report.FilesByItem[r+"/"+ds.catalog] = n
		}
	}

	p.log.Infof("Release %s completed: %d regions, %d partition files", rel, len(regions), report.Partitions)
	return report, nil
}

// ingest streams one source into the feature store and keeps its rows
func (p *Pipeline) ingest(ctx context.Context, src model.Source) (*sourceData, error) {
	var (
		source    ingest.RecordSource
		normalize ingest.Normalizer
	)
	switch src {
	case model.SourceOSM:
		source, normalize = p.deps.OSM, ingest.OSMNormalizer{}
	default:
		source, normalize = p.deps.FKB, ingest.FKBNormalizer{EPSG: p.cfg.FKBEPSG}
	}

	in, err := ingest.NewIngestor(source, normalize, p.cfg.BatchSize,
		ingest.WithLogger(p.log.WithField("component", "ingest")),
		ingest.WithObserver(
			func(n int) { monitor.IngestedTotal.WithLabelValues(string(src)).Add(float64(n)) },
			func(reason string) { monitor.SkippedTotal.WithLabelValues(string(src), reason).Inc() },
		),
	)
	if err != nil {
		return nil, err
	}

	data := &sourceData{}
	err = p.stage("ingest_"+string(src), func() error {
		for batch, err := range in.Batches(ctx) {
			if err != nil {
				return err
			}
			if err := storage.PutFeatures(ctx, p.deps.Store, batch); err != nil {
				return err
			}

			rows := make([]model.Row, len(batch))
			for i := range batch {
				rows[i] = batch[i].ToRow()
			}
			data.batches = append(data.batches, model.NewBatch(rows))
			data.features = append(data.features, batch...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	data.stats = in.LastStats()
	return data, nil
}

// writeRegion clips, partitions, writes and registers one dataset of a region
func (p *Pipeline) writeRegion(ctx context.Context, rel string, boundary region.Boundary, dataset, catalogName string, unified model.Batch) (int, error) {
	log := p.log.WithFields(logrus.Fields{"region": boundary.Region, "dataset": catalogName})

	clipped, err := p.clipper.Clip(unified, boundary.Geometry)
	if err != nil {
		return 0, err
	}

	parts := p.partitioner.PartitionBounded(clipped, p.cfg.PartitionMaxFeatures)
	log.Infof("Partitioned %d buildings into %d files", len(clipped.Rows), len(parts))

	var assets []sink.Asset
	err = p.stage("write", func() error {
		var err error
		assets, err = p.deps.Writer.Write(ctx, sink.Target{Release: rel, Dataset: dataset, Region: boundary.Region}, parts)
		return err
	})
	if err != nil {
		return 0, err
	}
	monitor.PartitionsWrittenTotal.WithLabelValues(catalogName, boundary.Region).Add(float64(len(assets)))

	if p.deps.Registrar != nil {
		_, err := p.deps.Registrar.Register(ctx, postgres.Registration{
			Release:  rel,
			Region:   boundary.Region,
			Dataset:  catalogName,
			Boundary: boundary.GeoJSON,
			Assets:   assets,
			BaseURL:  p.deps.BaseURL,
		})
		if err != nil {
			return 0, err
		}
	}

	return len(assets), nil
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	monitor.StageDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

func recordClasses(result conflate.Result) {
	s := result.Summary
	a, b := string(result.ASource), string(result.BSource)
	monitor.ClassifiedTotal.WithLabelValues(a, string(conflate.ClassOnly)).Add(float64(s.AOnly))
	monitor.ClassifiedTotal.WithLabelValues(b, string(conflate.ClassOnly)).Add(float64(s.BOnly))
	monitor.ClassifiedTotal.WithLabelValues(a, string(conflate.ClassOverlap)).Add(float64(s.AOverlap))
	monitor.ClassifiedTotal.WithLabelValues(b, string(conflate.ClassOverlap)).Add(float64(s.BOverlap))
	monitor.ClassifiedTotal.WithLabelValues(a, string(conflate.ClassMatched)).Add(float64(s.Matched))
	monitor.ClassifiedTotal.WithLabelValues(b, string(conflate.ClassMatched)).Add(float64(s.Matched))
}
