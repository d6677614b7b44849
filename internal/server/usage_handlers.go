package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devserd/devserd/internal/supervisor"
)

// Resource usage handlers. Point-in-time usage comes from the supervisor
// (sampler when wired, on-demand probe otherwise); history requires the
// periodic sampler.

func (r *Router) handleUsage(c *gin.Context) {
	project := c.Query("project")
	if project != "" {
		if !isSafeName(project) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid project: " + project})
			return
		}
		u, err := r.sup.Usage(project)
		if err != nil {
			writeJSON(c, notFoundStatus(err), errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, u)
		return
	}

	all := make(map[string]supervisor.ResourceUsage)
	for _, snap := range r.sup.List() {
		if u, err := r.sup.Usage(snap.Project); err == nil {
			all[snap.Project] = u
		}
	}
	writeJSON(c, http.StatusOK, all)
}

func (r *Router) handleUsageHistory(c *gin.Context) {
	sampler := r.sup.Sampler()
	if sampler == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "usage sampling is disabled"})
		return
	}
	project := c.Query("project")
	if project == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "project query param required"})
		return
	}
	if !isSafeName(project) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid project: " + project})
		return
	}
	history := sampler.History(project)
	if len(history) == 0 {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no samples for project: " + project})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"project": project,
		"history": history,
	})
}

func (r *Router) handleUsageTotals(c *gin.Context) {
	var (
		count       int
		totalCPU    float64
		totalMemory uint64
		processes   = make(map[string]supervisor.ResourceUsage)
	)
	for _, snap := range r.sup.List() {
		u, err := r.sup.Usage(snap.Project)
		if err != nil {
			continue
		}
		count++
		totalCPU += u.CPUPercent
		totalMemory += u.MemoryRSS
		processes[snap.Project] = u
	}

	var avgCPU, avgMemory float64
	if count > 0 {
		avgCPU = totalCPU / float64(count)
		avgMemory = float64(totalMemory) / float64(count)
	}
	writeJSON(c, http.StatusOK, gin.H{
		"project_count": count,
		"total_cpu":     totalCPU,
		"total_memory":  totalMemory,
		"avg_cpu":       avgCPU,
		"avg_memory":    avgMemory,
		"processes":     processes,
	})
}
