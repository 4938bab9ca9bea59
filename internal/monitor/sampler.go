package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrJoinTimeout is returned by Stop when the sampler did not exit in time
var ErrJoinTimeout = errors.New("sampler did not stop within timeout")

// CoreSample is the activity of one core since sampling started
type CoreSample struct {
	User    float64 `json:"user"`
	System  float64 `json:"system"`
	Idle    float64 `json:"idle"`
	Iowait  float64 `json:"iowait"`
	Percent float64 `json:"percent"` // Busy share since the previous sample
}

// Sample is one resource reading taken during a benchmark iteration
type Sample struct {
	ElapsedTime          float64               `json:"elapsed_time"`
	DeltaTime            float64               `json:"delta_time"`
	DeltaProcessCPUTime  float64               `json:"delta_process_cpu_time"`
	ProcessCPUPercentage float64               `json:"process_cpu_percentage"`
	RSS                  int64                 `json:"rss"`
	Cores                map[string]CoreSample `json:"cores"`
}

// Sampler reads counters on a fixed interval in a background goroutine
type Sampler struct {
	reader   CounterReader
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	samples []Sample

	cancel context.CancelFunc
	done   chan struct{}
}

// StartSampler starts sampling until Stop is called or ctx is done
func StartSampler(ctx context.Context, reader CounterReader, interval time.Duration, log *logrus.Entry) *Sampler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Sampler{
		reader:   reader,
		interval: interval,
		log:      log,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go s.run(ctx)
	return s
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.done)

	start, err := s.reader.Read()
	if err != nil {
		s.log.Errorf("Sampling error: %v", err)
		return
	}
	prev := start

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur, err := s.reader.Read()
		if err != nil {
			// A failed reading is skipped; the next tick tries again
			s.log.Errorf("Sampling error: %v", err)
			continue
		}

		sample := newSample(start, prev, cur)
		ProcessCPUPercent.Set(sample.ProcessCPUPercentage)
		ProcessRSSBytes.Set(float64(sample.RSS))

		s.mu.Lock()
		s.samples = append(s.samples, sample)
		s.mu.Unlock()

		prev = cur
	}
}

// Stop cancels sampling and waits at most timeout for the goroutine to exit.
// The samples taken so far are returned even when the wait times out.
func (s *Sampler) Stop(timeout time.Duration) ([]Sample, error) {
	s.cancel()

	var err error
	select {
	case <-s.done:
	case <-time.After(timeout):
		err = ErrJoinTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.samples...), err
}

func newSample(start, prev, cur Counters) Sample {
	elapsed := cur.Time.Sub(prev.Time).Seconds()
	deltaCPU := cur.ProcessCPU - prev.ProcessCPU

	var cpuPercent float64
	if elapsed > 0 {
		cpuPercent = deltaCPU / elapsed * 100
	}

	cores := make(map[string]CoreSample, len(cur.Cores))
	for name, c := range cur.Cores {
		base := start.Cores[name]
		last := prev.Cores[name]

		var percent float64
		if total := c.Total - last.Total; total > 0 {
			percent = (1 - (c.Idle+c.Iowait-last.Idle-last.Iowait)/total) * 100
		}

		cores[name] = CoreSample{
			User:    c.User - base.User,
			System:  c.System - base.System,
			Idle:    c.Idle - base.Idle,
			Iowait:  c.Iowait - base.Iowait,
			Percent: percent,
		}
	}

	return Sample{
		ElapsedTime:          cur.Time.Sub(start.Time).Seconds(),
		DeltaTime:            elapsed,
		DeltaProcessCPUTime:  deltaCPU,
		ProcessCPUPercentage: cpuPercent,
		RSS:                  cur.RSS,
		Cores:                cores,
	}
}
