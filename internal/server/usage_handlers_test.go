package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devserd/devserd/internal/metrics"
	"github.com/devserd/devserd/internal/supervisor"
)

func setupUsageServer(t *testing.T, sampler *metrics.UsageSampler) (*httptest.Server, *supervisor.Supervisor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sup := supervisor.New(supervisor.Config{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sampler: sampler,
	})
	t.Cleanup(sup.Shutdown)
	ts := httptest.NewServer(NewRouter(sup, "/api").Handler())
	t.Cleanup(ts.Close)
	return ts, sup
}

func TestUsageHistoryEndpoints(t *testing.T) {
	sampler := metrics.NewUsageSampler(metrics.UsageConfig{
		Enabled:    true,
		Interval:   time.Second,
		MaxHistory: 10,
	})
	seeded := map[string]metrics.Usage{
		"app-1": {PID: 1234, CPUPercent: 15.5, MemoryRSS: 128 << 20, Threads: 8, FDs: 32, SampledAt: time.Now()},
		"app-2": {PID: 5678, CPUPercent: 25.0, MemoryRSS: 256 << 20, Threads: 4, FDs: 16, SampledAt: time.Now()},
	}
	for project, u := range seeded {
		sampler.AddSampleForTesting(project, u)
	}
	ts, _ := setupUsageServer(t, sampler)

	t.Run("history for seeded project", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/usage/history?project=app-1")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Project string          `json:"project"`
			History []metrics.Usage `json:"history"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))

		assert.Equal(t, "app-1", result.Project)
		require.Len(t, result.History, 1)
		assert.Equal(t, int32(1234), result.History[0].PID)
		assert.Equal(t, 15.5, result.History[0].CPUPercent)
	})

	t.Run("history missing project param", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/usage/history")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var result errorResp
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Contains(t, result.Error, "project query param required")
	})

	t.Run("history for unknown project", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/usage/history?project=nonexistent")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		var result errorResp
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Contains(t, result.Error, "no samples")
	})

	t.Run("history invalid project name", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/usage/history?project=../invalid")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var result errorResp
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Contains(t, result.Error, "invalid project")
	})
}

func TestUsageHistoryDisabled(t *testing.T) {
	ts, _ := setupUsageServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/usage/history?project=web")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var result errorResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Contains(t, result.Error, "usage sampling is disabled")
}

func TestUsageEndpointValidation(t *testing.T) {
	ts, _ := setupUsageServer(t, nil)

	t.Run("all projects empty", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/usage")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]supervisor.ResourceUsage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Empty(t, result)
	})

	t.Run("unknown project", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/usage?project=nonexistent")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid project name", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/usage?project=../invalid")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var result errorResp
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Contains(t, result.Error, "invalid project")
	})
}

func TestUsageTotalsEmpty(t *testing.T) {
	ts, _ := setupUsageServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/usage/totals")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))

	assert.Equal(t, float64(0), result["project_count"])
	assert.Equal(t, float64(0), result["total_cpu"])
	processes, ok := result["processes"].(map[string]any)
	assert.True(t, ok)
	assert.Empty(t, processes)
}

func TestUsageWithRunningProject(t *testing.T) {
	requireUnix(t)
	ts, sup := setupUsageServer(t, nil)

	_, err := sup.Start("worker", supervisor.ProjectConfig{
		Name:    "worker",
		Command: "sleep",
		Args:    []string{"30"},
	}, supervisor.Options{})
	require.NoError(t, err)
	defer func() { _ = sup.Stop("worker") }()

	t.Run("single project usage", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/usage?project=worker")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var u supervisor.ResourceUsage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
		assert.Equal(t, "worker", u.Project)
		assert.Greater(t, u.PID, 0)
		assert.Greater(t, u.UptimeSeconds, float64(0))
	})

	t.Run("totals include the project", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/usage/totals")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, float64(1), result["project_count"])

		processes, ok := result["processes"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, processes, "worker")
	})
}

func TestUsageConcurrentRequests(t *testing.T) {
	ts, _ := setupUsageServer(t, nil)

	numRequests := 20
	ch := make(chan error, numRequests)
	for i := 0; i < numRequests; i++ {
		go func() {
			resp, err := http.Get(ts.URL + "/api/usage")
			if err != nil {
				ch <- err
				return
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				ch <- fmt.Errorf("unexpected status code: %d", resp.StatusCode)
				return
			}
			ch <- nil
		}()
	}
	for i := 0; i < numRequests; i++ {
		assert.NoError(t, <-ch)
	}
}
