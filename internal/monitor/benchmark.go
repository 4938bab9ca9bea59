// Package monitor measures CPU and memory use around pipeline invocations and
// exports pipeline metrics.
package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BenchmarkOptions configure a Benchmark
type BenchmarkOptions struct {
	RunID        string
	BenchmarkRun int // 1-based index of this benchmark invocation within the run
	Warmup       int
	Iterations   int
	Interval     time.Duration
	JoinTimeout  time.Duration
	Dir          string // Root directory for sample files
}

// Metadata describes one completed benchmark
type Metadata struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	QueryID   string    `json:"query_id"`
	RunID     string    `json:"run_id"`
}

// Benchmark runs a function repeatedly while sampling resource use
type Benchmark struct {
	opts   BenchmarkOptions
	reader CounterReader
	log    *logrus.Entry
}

// NewBenchmark creates a benchmark reading counters from reader
func NewBenchmark(opts BenchmarkOptions, reader CounterReader, log *logrus.Entry) (*Benchmark, error) {
	if opts.RunID == "" {
		return nil, fmt.Errorf("benchmark run id is required")
	}
	if opts.Iterations < 1 {
		return nil, fmt.Errorf("benchmark iterations must be at least 1, got %d", opts.Iterations)
	}
	if opts.Warmup < 0 {
		return nil, fmt.Errorf("warmup iterations must be non-negative, got %d", opts.Warmup)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("sample interval must be positive, got %s", opts.Interval)
	}
	if opts.BenchmarkRun < 1 {
		opts.BenchmarkRun = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Benchmark{opts: opts, reader: reader, log: log}, nil
}

// Run executes fn for the warmup iterations, then for the measured iterations
// with a sampler attached, writing each iteration's samples as JSON lines. The
// error of the last measured invocation is returned.
func (b *Benchmark) Run(ctx context.Context, queryID string, fn func(ctx context.Context) error) error {
	b.log.Infof("Starting benchmark for query '%s' with run ID '%s'.", queryID, b.opts.RunID)

	b.log.Infof("Executing %d warmup runs.", b.opts.Warmup)
	for i := 0; i < b.opts.Warmup; i++ {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("warmup run %d: %w", i+1, err)
		}
	}

	b.log.Infof("Warmup runs completed. Starting %d benchmark runs with sampling interval of %s.",
		b.opts.Iterations, b.opts.Interval)

	var result error
	for i := 1; i <= b.opts.Iterations; i++ {
		sampler := StartSampler(ctx, b.reader, b.opts.Interval, b.log)

		result = fn(ctx)

		samples, err := sampler.Stop(b.opts.JoinTimeout)
		if err != nil {
			b.log.Warnf("Iteration %d: %v", i, err)
		}

		if err := b.save(queryID, b.globalIteration(i), samples); err != nil {
			return err
		}
		if result != nil {
			return result
		}
	}

	b.log.Info("Benchmarking completed.")
	return b.saveMetadata(queryID)
}

// globalIteration numbers iterations across benchmark invocations of one run
func (b *Benchmark) globalIteration(i int) int {
	return i + b.opts.Iterations*(b.opts.BenchmarkRun-1)
}

func (b *Benchmark) runDir(queryID string) string {
	return filepath.Join(b.opts.Dir, "benchmarks", "run_id="+b.opts.RunID, "query_id="+queryID)
}

func (b *Benchmark) save(queryID string, iteration int, samples []Sample) error {
	dir := b.runDir(queryID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, fmt.Sprintf("iteration_%03d.jsonl", iteration))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create sample file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	b.log.Debugf("Saved %d samples to %s", len(samples), path)
	return f.Close()
}

func (b *Benchmark) saveMetadata(queryID string) error {
	b.log.Info("Saving benchmark metadata.")

	meta := Metadata{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		QueryID:   queryID,
		RunID:     b.opts.RunID,
	}

	dir := filepath.Join(b.opts.Dir, "benchmarks", "metadata")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, meta.ID+".json"), data, 0o644); err != nil {
		return err
	}

	b.log.Infof("Benchmark metadata saved with ID '%s'.", meta.ID)
	return nil
}
