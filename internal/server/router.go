package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/simgate/internal/gate"
	"github.com/loykin/simgate/internal/supervisor"
)

// Controller is the slice of the supervisor the HTTP layer needs. The shell
// process polls these endpoints instead of linking against the supervisor.
type Controller interface {
	Status() supervisor.Status
	Stop()
}

// Router exposes the local control API.
// Endpoints:
//
//	GET  {basePath}/healthz   liveness of simgate itself
//	GET  {basePath}/status    combined process + gate snapshot
//	GET  {basePath}/gate      gate snapshot only
//	POST {basePath}/stop      tear the launch down
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	basePath string
}

func NewRouter(ctl Controller, basePath string) *Router {
	return &Router{ctl: ctl, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/status", r.handleStatus)
	group.GET("/gate", r.handleGate)
	group.POST("/stop", r.handleStop)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, ctl Controller) *http.Server {
	r := NewRouter(ctl, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctl.Status())
}

// handleGate reports 200 once the backend is Ready and 503 otherwise, so a
// shell can gate its own startup on a plain status-code check.
func (r *Router) handleGate(c *gin.Context) {
	snap := r.ctl.Status().Gate
	code := http.StatusServiceUnavailable
	if snap.State == gate.StateReady {
		code = http.StatusOK
	}
	c.JSON(code, snap)
}

func (r *Router) handleStop(c *gin.Context) {
	r.ctl.Stop()
	c.JSON(http.StatusOK, okResp{OK: true})
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
