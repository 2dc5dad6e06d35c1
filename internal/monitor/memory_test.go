package monitor

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMemoryMonitor_StartStop(t *testing.T) {
	m := NewMemoryMonitor()
	m.Start(context.Background(), 5*time.Millisecond)

	buf := make([][]byte, 0, 16)
	for range 16 {
		buf = append(buf, make([]byte, 64*1024))
	}

	time.Sleep(30 * time.Millisecond)

	stats := m.Stop()
	_ = buf

	if stats.Samples < 2 {
		t.Errorf("Samples = %d, want at least 2", stats.Samples)
	}

	if stats.PeakAlloc < stats.AllocBytes {
		t.Errorf("PeakAlloc = %d, AllocBytes = %d", stats.PeakAlloc, stats.AllocBytes)
	}

	if stats.PeakGoroutines <= 0 {
		t.Error("PeakGoroutines should be positive")
	}

	if stats.LastUpdated.IsZero() {
		t.Error("LastUpdated should be set")
	}
}

func TestMemoryMonitor_StopIsIdempotent(t *testing.T) {
	m := NewMemoryMonitor()
	m.Start(context.Background(), time.Hour)
	m.Start(context.Background(), time.Hour)

	first := m.Stop()
	second := m.Stop()

	if second.Samples != first.Samples+1 {
		t.Errorf("Samples after second Stop = %d, want %d", second.Samples, first.Samples+1)
	}
}

func TestMemoryMonitor_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	m := NewMemoryMonitor()
	m.Start(ctx, time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the context was cancelled")
	}
}

func TestMemoryMonitor_Nil(t *testing.T) {
	var m *MemoryMonitor

	m.Start(context.Background(), time.Millisecond)

	if stats := m.Stop(); stats.Samples != 0 {
		t.Errorf("nil monitor Stop() = %+v", stats)
	}
}

func TestSummary(t *testing.T) {
	got := Summary(MemoryStats{AllocBytes: 2048, PeakAlloc: 4096, SysBytes: 1 << 20, GoroutineCount: 3, PeakGoroutines: 7, NumGC: 2})

	for _, want := range []string{"heap 2.0 KiB", "peak 4.0 KiB", "sys 1.0 MiB", "goroutines 3 (peak 7)", "2 GCs"} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary() = %q, missing %q", got, want)
		}
	}
}
