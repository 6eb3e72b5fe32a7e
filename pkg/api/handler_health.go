package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cidadao-ai/vigia/pkg/resilience"
)

// healthHandler handles GET /health. Database trouble degrades the
// status to unhealthy; open circuit breakers only mark it degraded.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{Status: "healthy"}
	code := http.StatusOK

	if s.db != nil {
		dbHealth, err := s.db.Health(ctx)
		resp.Database = dbHealth
		if err != nil {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	if s.sources != nil {
		resp.Sources = s.sources.HealthSnapshot()
		if resp.Status == "healthy" {
			for _, h := range resp.Sources {
				if h.State != resilience.StateClosed {
					resp.Status = "degraded"
					break
				}
			}
		}
	}

	if s.workers != nil {
		resp.Queue = s.workers.Health()
	}

	c.JSON(code, resp)
}

// agentsHandler handles GET /api/v1/agents.
func (s *Server) agentsHandler(c *gin.Context) {
	ids := s.agents.RegisteredIDs()
	sort.Strings(ids)

	agents := make([]AgentStatusResponse, 0, len(ids))
	for _, id := range ids {
		agents = append(agents, AgentStatusResponse{
			ID:          id,
			Healthy:     s.agents.Healthy(id),
			Utilization: s.agents.Utilization(id),
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}
