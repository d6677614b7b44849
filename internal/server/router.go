package server

import (
	"errors"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devserd/devserd/internal/event"
	"github.com/devserd/devserd/internal/proc"
	"github.com/devserd/devserd/internal/supervisor"
)

// Router provides embeddable HTTP handlers for controlling a supervisor.
// Endpoints:
//
//	POST {basePath}/start         body: start request JSON
//	POST {basePath}/stop          query: project=...&signal=TERM (signal optional)
//	POST {basePath}/restart       query: project=...
//	POST {basePath}/kill-all      query: signal=TERM (optional)
//	GET  {basePath}/status        query: project=... (single) or none (list all)
//	GET  {basePath}/stats         status bucket counts
//	GET  {basePath}/output        query: project=...&n=100 (n optional, 0 = all)
//	POST {basePath}/health        query: project=...&healthy=true|false
//	GET  {basePath}/usage         query: project=... (single) or none (all)
//	GET  {basePath}/usage/history query: project=...
//	GET  {basePath}/usage/totals  aggregate over all tracked projects
//	GET  {basePath}/debug/records internal record views
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/start, /abc/stop, /abc/status.
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.register(g.Group(r.basePath))
	return g
}

func (r *Router) register(g *gin.RouterGroup) {
	g.POST("/start", r.handleStart)
	g.POST("/stop", r.handleStop)
	g.POST("/restart", r.handleRestart)
	g.POST("/kill-all", r.handleKillAll)
	g.GET("/status", r.handleStatus)
	g.GET("/stats", r.handleStats)
	g.GET("/output", r.handleOutput)
	g.POST("/health", r.handleHealth)
	g.GET("/usage", r.handleUsage)
	g.GET("/usage/history", r.handleUsageHistory)
	g.GET("/usage/totals", r.handleUsageTotals)
	g.GET("/debug/records", r.handleDebugRecords)
}

// NewServer starts a standalone HTTP server on addr using this router.
// The returned server can be shut down via its Close or Shutdown methods.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// startRequest carries a project config plus per-start options. The config
// fields sit at the top level of the JSON object.
type startRequest struct {
	supervisor.ProjectConfig
	Options supervisor.Options `json:"options"`
}

func (r *Router) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	// Project names end up in log file paths; path-like fields come from a
	// remote caller whose cwd is not the daemon's.
	if !isSafeName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if !isSafeAbsPath(req.WorkDir) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid workdir: must be absolute path without traversal"})
		return
	}
	if !isSafeAbsPath(req.Options.WorkDir) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid options.workdir: must be absolute path without traversal"})
		return
	}
	snap, err := r.sup.Start(req.Name, req.ProjectConfig, req.Options)
	if err != nil {
		writeJSON(c, startErrStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func startErrStatus(err error) int {
	if errors.Is(err, supervisor.ErrAlreadyRunning) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func (r *Router) handleStop(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "project query param required"})
		return
	}
	sig := syscall.SIGTERM
	if s := c.Query("signal"); s != "" {
		parsed, err := proc.ParseSignal(s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		sig = parsed
	}
	if err := r.sup.StopWithSignal(project, sig); err != nil {
		writeJSON(c, notFoundStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "project query param required"})
		return
	}
	snap, err := r.sup.Restart(project)
	if err != nil {
		writeJSON(c, notFoundStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleKillAll(c *gin.Context) {
	sig := syscall.SIGTERM
	if s := c.Query("signal"); s != "" {
		parsed, err := proc.ParseSignal(s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		sig = parsed
	}
	r.sup.KillAllWithSignal(sig)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		writeJSON(c, http.StatusOK, r.sup.List())
		return
	}
	snap, ok := r.sup.Get(project)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "project not found: " + project})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleStats(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Stats())
}

func (r *Router) handleOutput(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "project query param required"})
		return
	}
	n := 0
	if s := c.Query("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid n: " + s})
			return
		}
		n = v
	}
	lines, err := r.sup.Output(project, n)
	if err != nil {
		writeJSON(c, notFoundStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"project": project, "lines": lines})
}

func (r *Router) handleHealth(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "project query param required"})
		return
	}
	healthyStr := c.Query("healthy")
	if healthyStr == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "healthy query param required"})
		return
	}
	healthy, err := strconv.ParseBool(healthyStr)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid healthy: " + healthyStr})
		return
	}
	if err := r.sup.SetHealth(project, healthy); err != nil {
		writeJSON(c, notFoundStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func notFoundStatus(err error) int {
	if errors.Is(err, supervisor.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// Debug endpoints for troubleshooting

type debugRecordInfo struct {
	Record      any    `json:"record"`
	HealthCheck string `json:"health_check"`
}

func (r *Router) handleDebugRecords(c *gin.Context) {
	snaps := r.sup.List()
	infos := make([]debugRecordInfo, len(snaps))
	for i, snap := range snaps {
		infos[i] = debugRecordInfo{
			Record:      snap,
			HealthCheck: healthLabel(snap),
		}
	}
	writeJSON(c, http.StatusOK, infos)
}

func healthLabel(snap event.Snapshot) string {
	switch {
	case snap.Status == event.StatusHealthCheckFailed:
		return "failing"
	case snap.Status == event.StatusRunning && snap.PID > 0:
		return "healthy"
	case snap.Status.Active():
		return "transitioning"
	}
	return "not_running"
}
