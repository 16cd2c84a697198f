package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlink/backend/internal/infrastructure/logger"
	"github.com/ledgerlink/backend/internal/infrastructure/pool"
	"go.uber.org/zap"
)

const healthProbeTimeout = 2 * time.Second

// PoolProbe is what the health endpoint asks of the pool manager
type PoolProbe interface {
	Ping(ctx context.Context) error
	Stats() []pool.Stats
}

// SystemHandler serves build info, liveness and store health
type SystemHandler struct {
	BaseHandler
	started time.Time
	version string
	pools   PoolProbe
}

func NewSystemHandler(version string, pools PoolProbe) *SystemHandler {
	return &SystemHandler{started: time.Now(), version: version, pools: pools}
}

// RegisterRoutes mounts the system endpoints. Health is mounted by the
// server outside the API group.
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sys := rg.Group("/system")
	sys.GET("/info", h.GetSystemInfo)
	sys.GET("/ping", h.Ping)
}

type SystemInfoResponse struct {
	Name      string `json:"name" example:"LedgerLink API"`
	Version   string `json:"version" example:"1.0.0"`
	GoVersion string `json:"go_version" example:"go1.25.5"`
	Uptime    string `json:"uptime" example:"1h30m45s"`
}

// GetSystemInfo godoc
//
//	@Summary	Build and uptime
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	APIResponse[SystemInfoResponse]
//	@Router		/system/info [get]
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:      "LedgerLink API",
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

type PingResponse struct {
	Message   string    `json:"message" example:"pong"`
	Timestamp time.Time `json:"timestamp"`
}

// Ping godoc
//
//	@Summary	Liveness
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	APIResponse[PingResponse]
//	@Router		/system/ping [get]
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{Message: "pong", Timestamp: time.Now().UTC()})
}

// HealthResponse reports store reachability and pool occupancy
type HealthResponse struct {
	Status string       `json:"status" example:"ok"`
	Pools  []pool.Stats `json:"pools"`
}

// Health borrows a connection from every pool and answers 503 while any
// store is unreachable or its pool is exhausted. The cause is logged, not
// returned.
func (h *SystemHandler) Health(c *gin.Context) {
	if h.pools == nil {
		c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK
	if err := h.pools.Ping(ctx); err != nil {
		logger.FromContext(c.Request.Context()).Warn("Health probe failed", zap.Error(err))
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	resp.Pools = h.pools.Stats()
	c.JSON(status, resp)
}
