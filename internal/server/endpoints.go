package server

import (
	"github.com/gin-gonic/gin"

	"github.com/devserd/devserd/internal/supervisor"
)

// APIEndpoints exposes the control-plane handlers individually so callers
// embedding devserd can mount them on their own router with their own
// middleware. RegisterAll wires the full set onto a group, matching what
// Router.Handler serves.
type APIEndpoints struct {
	r *Router
}

// NewAPIEndpoints constructs endpoint handlers for the supervisor.
// basePath is used only for sanitization symmetry with NewRouter; the
// caller decides where handlers are actually mounted.
func NewAPIEndpoints(sup *supervisor.Supervisor, basePath string) *APIEndpoints {
	return &APIEndpoints{r: NewRouter(sup, basePath)}
}

func (e *APIEndpoints) StartHandler() gin.HandlerFunc        { return e.r.handleStart }
func (e *APIEndpoints) StopHandler() gin.HandlerFunc         { return e.r.handleStop }
func (e *APIEndpoints) RestartHandler() gin.HandlerFunc      { return e.r.handleRestart }
func (e *APIEndpoints) KillAllHandler() gin.HandlerFunc      { return e.r.handleKillAll }
func (e *APIEndpoints) StatusHandler() gin.HandlerFunc       { return e.r.handleStatus }
func (e *APIEndpoints) StatsHandler() gin.HandlerFunc        { return e.r.handleStats }
func (e *APIEndpoints) OutputHandler() gin.HandlerFunc       { return e.r.handleOutput }
func (e *APIEndpoints) HealthHandler() gin.HandlerFunc       { return e.r.handleHealth }
func (e *APIEndpoints) UsageHandler() gin.HandlerFunc        { return e.r.handleUsage }
func (e *APIEndpoints) UsageHistoryHandler() gin.HandlerFunc { return e.r.handleUsageHistory }
func (e *APIEndpoints) UsageTotalsHandler() gin.HandlerFunc  { return e.r.handleUsageTotals }
func (e *APIEndpoints) DebugRecordsHandler() gin.HandlerFunc { return e.r.handleDebugRecords }

// RegisterAll registers every endpoint on the provided group.
func (e *APIEndpoints) RegisterAll(g *gin.RouterGroup) {
	e.r.register(g)
}
