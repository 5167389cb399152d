package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ankaios/ankaios/internal/common/httpmw"
	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/messaging/registry"
	"github.com/ankaios/ankaios/internal/server"
)

// NewRouter builds the gin engine for the server's read-only HTTP surface.
// The wire protocol itself never touches this router; it exists purely so
// operators and dashboards can poll health and state without speaking the
// messaging protocol.
func NewRouter(core *server.Core, reg *registry.Registry, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(httpmw.RequestLogger(log, "httpapi"))
	router.Use(httpmw.OtelTracing("httpapi"))
	router.Use(Recovery(log))
	router.Use(CORS())

	h := &handler{core: core, registry: reg}

	router.GET("/health", h.health)
	v1 := router.Group("/api/v1")
	v1.GET("/state", h.completeState)
	v1.GET("/agents", h.agents)

	return router
}

type handler struct {
	core     *server.Core
	registry *registry.Registry
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) completeState(c *gin.Context) {
	var mask []string
	if raw := c.Query("fieldMask"); raw != "" {
		mask = strings.Split(raw, ",")
	}
	state, err := h.core.HandleCompleteStateRequest(mask)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "READ_FAILED", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *handler) agents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": h.registry.AgentNames()})
}
