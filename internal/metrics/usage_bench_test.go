package metrics

import (
	"fmt"
	"testing"
	"time"
)

func benchSample(i int) Usage {
	return Usage{
		PID:        int32(1000 + i),
		CPUPercent: float64(i % 100),
		MemoryRSS:  uint64(i) * 4096,
		Threads:    8,
		FDs:        32,
		SampledAt:  time.Now(),
	}
}

func BenchmarkUsageHistoryAppend(b *testing.B) {
	for _, maxHistory := range []int{100, 1000} {
		b.Run(fmt.Sprintf("max_%d", maxHistory), func(b *testing.B) {
			s := NewUsageSampler(UsageConfig{Enabled: true, MaxHistory: maxHistory})
			u := benchSample(1)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s.mu.Lock()
				h := append(s.history["bench"], u)
				if len(h) > s.cfg.MaxHistory {
					h = h[len(h)-s.cfg.MaxHistory:]
				}
				s.history["bench"] = h
				s.mu.Unlock()
			}
		})
	}
}

func BenchmarkUsageReads(b *testing.B) {
	s := NewUsageSampler(UsageConfig{Enabled: true, MaxHistory: 1000})
	s.mu.Lock()
	for i := 0; i < 10; i++ {
		project := fmt.Sprintf("proj-%d", i)
		for j := 0; j < 1000; j++ {
			s.history[project] = append(s.history[project], benchSample(j))
		}
	}
	s.mu.Unlock()

	b.Run("Latest", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			s.Latest("proj-5")
		}
	})

	b.Run("History", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			s.History("proj-5")
		}
	})
}
