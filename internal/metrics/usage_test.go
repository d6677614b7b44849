package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsageSamplerDefaults(t *testing.T) {
	tests := []struct {
		name     string
		config   UsageConfig
		expected UsageConfig
	}{
		{
			name:   "default values",
			config: UsageConfig{Enabled: true},
			expected: UsageConfig{
				Enabled:    true,
				Interval:   DefaultUsageInterval,
				MaxHistory: DefaultUsageHistory,
			},
		},
		{
			name: "custom values",
			config: UsageConfig{
				Enabled:    true,
				Interval:   10 * time.Second,
				MaxHistory: 50,
			},
			expected: UsageConfig{
				Enabled:    true,
				Interval:   10 * time.Second,
				MaxHistory: 50,
			},
		},
		{
			name:   "disabled sampler",
			config: UsageConfig{Enabled: false},
			expected: UsageConfig{
				Enabled:    false,
				Interval:   DefaultUsageInterval,
				MaxHistory: DefaultUsageHistory,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewUsageSampler(tt.config)
			require.NotNil(t, s)
			assert.Equal(t, tt.expected, s.cfg)
			assert.NotNil(t, s.history)
			assert.NotNil(t, s.stopCh)
		})
	}
}

func TestUsageSamplerRegisterMetrics(t *testing.T) {
	s := NewUsageSampler(UsageConfig{Enabled: true})
	reg := prometheus.NewRegistry()

	assert.NoError(t, s.RegisterMetrics(reg))
	// Registering the same gauges again must be tolerated.
	assert.NoError(t, s.RegisterMetrics(reg))
}

func TestSampleSelf(t *testing.T) {
	pid := int32(os.Getpid())
	u, err := Sample(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, u.PID)
	assert.False(t, u.SampledAt.IsZero())
	assert.Greater(t, u.MemoryRSS, uint64(0))
}

func TestSampleMissingProcess(t *testing.T) {
	// PID 0 never refers to a sampleable child.
	_, err := Sample(0)
	assert.Error(t, err)
}

func TestUsageSamplerCollectAndHistory(t *testing.T) {
	s := NewUsageSampler(UsageConfig{Enabled: true, MaxHistory: 3})
	pid := int32(os.Getpid())

	for i := 0; i < 5; i++ {
		s.collect(map[string]int32{"self": pid})
	}

	latest, ok := s.Latest("self")
	require.True(t, ok)
	assert.Equal(t, pid, latest.PID)

	h := s.History("self")
	assert.Len(t, h, 3)
	// Oldest first: timestamps must be non-decreasing.
	for i := 1; i < len(h); i++ {
		assert.False(t, h[i].SampledAt.Before(h[i-1].SampledAt))
	}

	// A collection round without the project drops its history and gauges.
	s.collect(map[string]int32{})
	_, ok = s.Latest("self")
	assert.False(t, ok)
	assert.Empty(t, s.History("self"))
}

func TestUsageSamplerIgnoresDeadPID(t *testing.T) {
	s := NewUsageSampler(UsageConfig{Enabled: true})
	s.collect(map[string]int32{"ghost": 0})
	_, ok := s.Latest("ghost")
	assert.False(t, ok)
}

func TestUsageSamplerStartStop(t *testing.T) {
	s := NewUsageSampler(UsageConfig{
		Enabled:    true,
		Interval:   20 * time.Millisecond,
		MaxHistory: 10,
	})
	pid := int32(os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx, func() map[string]int32 {
		return map[string]int32{"self": pid}
	}))

	// Second Start must fail while running.
	assert.Error(t, s.Start(ctx, func() map[string]int32 { return nil }))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.Latest("self"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no sample collected before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	// Stop is idempotent.
	s.Stop()
}

func TestUsageSamplerDisabledStartIsNoop(t *testing.T) {
	s := NewUsageSampler(UsageConfig{Enabled: false})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NoError(t, s.Start(ctx, func() map[string]int32 { return nil }))
	s.Stop()
	assert.Empty(t, s.History("anything"))
}
