// Package monitor samples process memory while long operations run.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// MemoryStats is one sample, plus the peaks seen since Start.
type MemoryStats struct {
	AllocBytes     uint64    `json:"alloc_bytes"`
	SysBytes       uint64    `json:"sys_bytes"`
	NumGC          uint32    `json:"num_gc"`
	GoroutineCount int       `json:"goroutine_count"`
	PeakAlloc      uint64    `json:"peak_alloc_bytes"`
	PeakGoroutines int       `json:"peak_goroutines"`
	Samples        int       `json:"samples"`
	LastUpdated    time.Time `json:"last_updated"`
}

// MemoryMonitor tracks memory usage on a ticker. A nil monitor is a no-op.
type MemoryMonitor struct {
	mu      sync.RWMutex
	stats   MemoryStats
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func NewMemoryMonitor() *MemoryMonitor {
	return &MemoryMonitor{}
}

// Start samples every interval until Stop is called or ctx ends.
func (m *MemoryMonitor) Start(ctx context.Context, interval time.Duration) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.running = true
	m.stats = MemoryStats{}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.sampleLocked()

	go m.loop(ctx, interval, m.stop, m.done)
}

// Stop ends sampling, takes a final sample and returns the stats.
func (m *MemoryMonitor) Stop() MemoryStats {
	if m == nil {
		return MemoryStats{}
	}

	m.mu.Lock()

	if m.running {
		m.running = false
		close(m.stop)
		done := m.done
		m.mu.Unlock()
		<-done
		m.mu.Lock()
	}

	m.sampleLocked()
	stats := m.stats
	m.mu.Unlock()

	return stats
}

func (m *MemoryMonitor) GetStats() MemoryStats {
	if m == nil {
		return MemoryStats{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stats
}

// Summary renders stats in one line.
func Summary(s MemoryStats) string {
	return fmt.Sprintf("heap %s (peak %s), sys %s, goroutines %d (peak %d), %d GCs",
		humanize.IBytes(s.AllocBytes), humanize.IBytes(s.PeakAlloc), humanize.IBytes(s.SysBytes),
		s.GoroutineCount, s.PeakGoroutines, s.NumGC)
}

func (m *MemoryMonitor) loop(ctx context.Context, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.sampleLocked()
			m.mu.Unlock()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *MemoryMonitor) sampleLocked() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := &m.stats
	s.AllocBytes = ms.HeapAlloc
	s.SysBytes = ms.Sys
	s.NumGC = ms.NumGC
	s.GoroutineCount = runtime.NumGoroutine()
	s.PeakAlloc = max(s.PeakAlloc, ms.HeapAlloc)
	s.PeakGoroutines = max(s.PeakGoroutines, s.GoroutineCount)
	s.Samples++
	s.LastUpdated = time.Now()
}
