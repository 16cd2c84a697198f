// Package router mounts handler modules under the versioned API prefix.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlink/backend/internal/interfaces/http/dto"
)

// DefaultVersion is the API prefix segment used when none is configured
const DefaultVersion = "v1"

// Module is implemented by every handler that owns API routes
type Module interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// ModuleFunc adapts a function to Module
type ModuleFunc func(rg *gin.RouterGroup)

func (f ModuleFunc) RegisterRoutes(rg *gin.RouterGroup) { f(rg) }

// API is the /api/<version> route tree. Middleware given to New applies to
// API routes only; routes added to the engine directly, such as /health,
// skip it.
type API struct {
	group *gin.RouterGroup
}

// New creates the API group on engine and answers unknown routes with the
// standard error envelope.
func New(engine *gin.Engine, version string, middleware ...gin.HandlerFunc) *API {
	if version == "" {
		version = DefaultVersion
	}
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeNotFound, "Route not found", c.GetString("request_id")))
	})
	return &API{group: engine.Group("/api/"+version, middleware...)}
}

// Mount registers each module's routes in order
func (a *API) Mount(modules ...Module) *API {
	for _, m := range modules {
		m.RegisterRoutes(a.group)
	}
	return a
}

// BasePath is the prefix every API route shares
func (a *API) BasePath() string {
	return a.group.BasePath()
}
