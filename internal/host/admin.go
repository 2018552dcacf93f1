package host

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyhaven/keybridge/internal/observability"
)

// Admin is the companion's loopback HTTP surface for operators: health,
// readiness, metrics, and a status snapshot. It never faces the browser.
type Admin struct {
	id      string
	addr    string
	version string
	started time.Time
	status  func() map[string]any
	engine  *gin.Engine

	routesOnce sync.Once
}

func NewAdmin(id, addr, version string, status func() map[string]any) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Admin{
		id:      id,
		addr:    addr,
		version: version,
		started: time.Now(),
		status:  status,
		engine:  r,
	}
}

func (a *Admin) RegisterRoutes() {
	a.routesOnce.Do(a.registerRoutes)
}

func (a *Admin) registerRoutes() {
	a.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"service": a.id,
			"version": a.version,
		})
	})

	a.engine.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(a.started).String(),
			"service": a.id,
			"version": a.version,
		})
	})

	a.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.engine.GET("/status", func(c *gin.Context) {
		var snapshot map[string]any
		if a.status != nil {
			snapshot = a.status()
		}
		c.JSON(http.StatusOK, gin.H{
			"service": a.id,
			"status":  snapshot,
		})
	})
}

// Serve blocks on the listen address; callers run it on its own goroutine.
func (a *Admin) Serve() error {
	a.RegisterRoutes()
	return a.engine.Run(a.addr)
}

func (a *Admin) Handler() http.Handler {
	a.RegisterRoutes()
	return a.engine
}
