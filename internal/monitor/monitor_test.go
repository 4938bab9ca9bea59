package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeReader advances every counter by a fixed step per reading
type fakeReader struct {
	mu    sync.Mutex
	n     int
	start time.Time
	block chan struct{} // Read waits on it when set
}

func (r *fakeReader) Read() (Counters, error) {
	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	n := float64(r.n)

	return Counters{
		Time:       r.start.Add(time.Duration(r.n) * time.Second),
		ProcessCPU: 0.5 * n,
		RSS:        int64(1024 * r.n),
		Cores: map[string]CoreTimes{
			"core_0": {User: n, System: n, Idle: 2 * n, Total: 4 * n},
		},
	}, nil
}

func TestSamplerCollectsSamples(t *testing.T) {
	reader := &fakeReader{start: time.Now()}
	s := StartSampler(context.Background(), reader, 5*time.Millisecond, nil)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.samples) >= 3
	}, time.Second, 5*time.Millisecond)

	samples, err := s.Stop(time.Second)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(samples), 3)

	first := samples[0]
	require.InDelta(t, 1.0, first.DeltaTime, 1e-9)
	require.InDelta(t, 0.5, first.DeltaProcessCPUTime, 1e-9)
	require.InDelta(t, 50.0, first.ProcessCPUPercentage, 1e-9)
	require.InDelta(t, 50.0, first.Cores["core_0"].Percent, 1e-9)
	require.InDelta(t, 1.0, first.Cores["core_0"].User, 1e-9)

	// Elapsed time is measured from the baseline reading
	require.InDelta(t, float64(len(samples)), samples[len(samples)-1].ElapsedTime, 1e-9)
}

func TestSamplerStopTimesOut(t *testing.T) {
	reader := &fakeReader{start: time.Now(), block: make(chan struct{})}
	defer close(reader.block)

	s := StartSampler(context.Background(), reader, time.Millisecond, nil)

	begin := time.Now()
	samples, err := s.Stop(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrJoinTimeout)
	require.Empty(t, samples)
	require.Less(t, time.Since(begin), time.Second)
}

func TestSamplerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := StartSampler(ctx, &fakeReader{start: time.Now()}, time.Millisecond, nil)
	cancel()

	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("sampler kept running after context cancellation")
	}
}

func TestBenchmarkRun(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBenchmark(BenchmarkOptions{
		RunID:        "2025-03-01-ABCDEFGH",
		BenchmarkRun: 2,
		Warmup:       1,
		Iterations:   2,
		Interval:     time.Millisecond,
		JoinTimeout:  time.Second,
		Dir:          dir,
	}, &fakeReader{start: time.Now()}, nil)
	require.NoError(t, err)

	calls := 0
	err = b.Run(context.Background(), "conflate", func(context.Context) error {
		calls++
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	runDir := filepath.Join(dir, "benchmarks", "run_id=2025-03-01-ABCDEFGH", "query_id=conflate")
	for _, name := range []string{"iteration_003.jsonl", "iteration_004.jsonl"} {
		f, err := os.Open(filepath.Join(runDir, name))
		require.NoError(t, err)

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var s Sample
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &s))
		}
		require.NoError(t, scanner.Err())
		f.Close()
	}

	meta, err := filepath.Glob(filepath.Join(dir, "benchmarks", "metadata", "*.json"))
	require.NoError(t, err)
	require.Len(t, meta, 1)
}

func TestBenchmarkReturnsRunError(t *testing.T) {
	b, err := NewBenchmark(BenchmarkOptions{
		RunID: "r", Iterations: 3, Interval: time.Millisecond, JoinTimeout: time.Second, Dir: t.TempDir(),
	}, &fakeReader{start: time.Now()}, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	calls := 0
	err = b.Run(context.Background(), "q", func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestNewBenchmarkValidates(t *testing.T) {
	_, err := NewBenchmark(BenchmarkOptions{Iterations: 1, Interval: time.Second}, nil, nil)
	require.Error(t, err)
	_, err = NewBenchmark(BenchmarkOptions{RunID: "r", Iterations: 0, Interval: time.Second}, nil, nil)
	require.Error(t, err)
	_, err = NewBenchmark(BenchmarkOptions{RunID: "r", Iterations: 1}, nil, nil)
	require.Error(t, err)
}
