package monitor

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// CoreTimes are the cumulative CPU seconds of one core
type CoreTimes struct {
	User   float64
	System float64
	Idle   float64
	Iowait float64
	Total  float64
}

// Counters is one reading of the process and system CPU and memory counters
type Counters struct {
	Time       time.Time
	ProcessCPU float64 // User plus system CPU seconds of the process
	RSS        int64   // Resident set size in bytes
	Cores      map[string]CoreTimes
}

// CounterReader reads the current counters
type CounterReader interface {
	Read() (Counters, error)
}

// ProcReader reads counters from /proc
type ProcReader struct {
	fs procfs.FS
}

// NewProcReader opens the default proc filesystem
func NewProcReader() (*ProcReader, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	return &ProcReader{fs: fs}, nil
}

func (r *ProcReader) Read() (Counters, error) {
	now := time.Now()

	proc, err := r.fs.Self()
	if err != nil {
		return Counters{}, err
	}
	pstat, err := proc.Stat()
	if err != nil {
		return Counters{}, err
	}
	stat, err := r.fs.Stat()
	if err != nil {
		return Counters{}, err
	}

	cores := make(map[string]CoreTimes, len(stat.CPU))
	for id, cpu := range stat.CPU {
		cores[fmt.Sprintf("core_%d", id)] = CoreTimes{
			User:   cpu.User,
			System: cpu.System,
			Idle:   cpu.Idle,
			Iowait: cpu.Iowait,
			Total: cpu.User + cpu.Nice + cpu.System + cpu.Idle + cpu.Iowait +
				cpu.IRQ + cpu.SoftIRQ + cpu.Steal,
		}
	}

	return Counters{
		Time:       now,
		ProcessCPU: pstat.CPUTime(),
		RSS:        int64(pstat.ResidentMemory()),
		Cores:      cores,
	}, nil
}
