package main

import (
	"context"
	"errors"
	"time"

	"doppa/internal/config"
	"doppa/internal/ingest"
	"doppa/internal/logger"
	"doppa/internal/monitor"
	"doppa/internal/pipeline"
	"doppa/internal/postgres"
	"doppa/internal/region"
	"doppa/internal/sink"
	"doppa/internal/storage"
	"doppa/internal/util"

	"github.com/spf13/cobra"
)

const redisFeatureTTL = 24 * time.Hour

func newConflateCommand() *cobra.Command {
	var (
		benchmark    bool
		benchmarkRun int
		baseURL      string
	)

	cmd := &cobra.Command{
		Use:   "conflate",
		Short: "Ingest both sources, conflate them and write a release",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguration()
			if err != nil {
				return err
			}
			return runConflate(cmd.Context(), cfg, baseURL, benchmark, benchmarkRun)
		},
	}

	flags := cmd.Flags()
	flags.String("osm-file", "", "OSM PBF extract")
	flags.String("fkb-file", "", "Comma-separated FKB GeoJSON text sequences (.geojsonl or .geojsonl.zst), each optionally suffixed :epsg")
	flags.Int("fkb-epsg", 4326, "EPSG code of FKB files without their own suffix")
	flags.Bool("fkb-layered", false, "FKB files hold raw layers; footprints are polygonized from the building edges")
	flags.String("boundary-file", "", "GeoJSON FeatureCollection of region boundaries")
	flags.String("release", "", "Release identifier (YYYY-MM-DD.N)")
	flags.String("regions", "", "Comma-separated region ids, all regions when empty")
	flags.String("candidate-index", config.IndexGrid, "Candidate index (grid or rtree)")
	flags.String("feature-store", config.StoreMemory, "Feature store (memory or redis)")
	flags.BoolVar(&benchmark, "benchmark", false, "Sample CPU and memory while running")
	flags.IntVar(&benchmarkRun, "benchmark-run", 1, "1-based benchmark invocation within the run")
	flags.StringVar(&baseURL, "base-url", "", "Prefix for asset hrefs in the catalog")
	bindFlags(cmd, map[string]string{
		"OSM_FILE":        "osm-file",
		"FKB_FILE":        "fkb-file",
		"FKB_EPSG":        "fkb-epsg",
		"FKB_LAYERED":     "fkb-layered",
		"BOUNDARY_FILE":   "boundary-file",
		"RELEASE":         "release",
		"REGIONS":         "regions",
		"CANDIDATE_INDEX": "candidate-index",
		"FEATURE_STORE":   "feature-store",
	})

	return cmd
}

func runConflate(ctx context.Context, cfg config.Config, baseURL string, benchmark bool, benchmarkRun int) error {
	log := logger.For("conflate")

	if cfg.OSMFile == "" || cfg.FKBFile == "" || cfg.BoundaryFile == "" {
		return errors.New("OSM_FILE, FKB_FILE and BOUNDARY_FILE are required")
	}
	if cfg.Release == "" {
		return errors.New("RELEASE is required")
	}
	if err := pipeline.ValidateIdentifiers(cfg.Release, cfg.RegionList()); err != nil {
		return err
	}
	fkb, err := fkbSource(cfg)
	if err != nil {
		return err
	}

	runID, err := util.NewRunID(time.Now(), 8)
	if err != nil {
		return err
	}
	log = log.WithField("run_id", runID)

	boundaries, err := region.LoadFileSupplier(cfg.BoundaryFile, region.DefaultIDProperty)
	if err != nil {
		return err
	}

	store, err := openFeatureStore(ctx, cfg, runID)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnf("Failed to close feature store: %v", err)
		}
	}()

	deps := pipeline.Deps{
		OSM:        ingest.NewOSMSource(cfg.OSMFile, logger.For("osm")),
		FKB:        fkb,
		Boundaries: boundaries,
		Store:      store,
		Writer:     sink.NewLocalWriter(cfg.OutputDir, logger.For("sink")),
		BaseURL:    baseURL,
	}

	if cfg.DBUrl != "" {
		db, err := postgres.Open(cfg.DBUrl, logger.For("postgres"))
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		deps.Registrar = postgres.NewCatalog(db, logger.For("catalog"))
	} else {
		log.Info("DB_URL not set, written partitions will not be registered")
	}

	p, err := pipeline.New(cfg, deps, log)
	if err != nil {
		return err
	}

	run := func(ctx context.Context) error {
		report, err := p.Run(ctx, cfg.Release, cfg.RegionList())
		if err != nil {
			return err
		}
		log.Infof("Merged %d buildings (%d pairs, %d dropped) into %d partition files",
			report.Merge.Merged, report.Merge.Pairs, report.Merge.Dropped, report.Partitions)
		return nil
	}

	if !benchmark {
		return run(ctx)
	}

	reader, err := monitor.NewProcReader()
	if err != nil {
		return err
	}
	bench, err := monitor.NewBenchmark(monitor.BenchmarkOptions{
		RunID:        runID,
		BenchmarkRun: benchmarkRun,
		Warmup:       cfg.WarmupIterations,
		Iterations:   cfg.Iterations,
		Interval:     cfg.SampleInterval,
		JoinTimeout:  cfg.SamplerJoinTimeout,
		Dir:          cfg.OutputDir,
	}, reader, logger.For("benchmark"))
	if err != nil {
		return err
	}
	return bench.Run(ctx, "conflate", run)
}

// fkbSource reads every FKB input in its own CRS. Layered inputs are
// polygonized per file.
func fkbSource(cfg config.Config) (ingest.RecordSource, error) {
	inputs, err := cfg.FKBInputs()
	if err != nil {
		return nil, err
	}

	sources := make([]ingest.RecordSource, 0, len(inputs))
	for _, in := range inputs {
		var src ingest.RecordSource = ingest.WithEPSG(ingest.NewGeoJSONSeqSource(in.Path), in.EPSG)
		if cfg.FKBLayered {
			src = ingest.NewFKBLayerSource(src, logger.For("fkb").WithField("file", in.Path))
		}
		sources = append(sources, src)
	}
	return ingest.Concat(sources...), nil
}

func openFeatureStore(ctx context.Context, cfg config.Config, runID string) (storage.FeatureStore, error) {
	if cfg.FeatureStore != config.StoreRedis {
		return storage.NewMemoryStore(), nil
	}

	client, err := storage.Connect(ctx, cfg.RedisUrl)
	if err != nil {
		return nil, err
	}
	return storage.NewRedisStore(client, runID, redisFeatureTTL, logger.For("redis")), nil
}
