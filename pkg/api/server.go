// Package api exposes the HTTP surface: chat (synchronous and SSE
// streaming), investigation CRUD and journal, agent and source health.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cidadao-ai/vigia/pkg/agent"
	"github.com/cidadao-ai/vigia/pkg/config"
	"github.com/cidadao-ai/vigia/pkg/database"
	"github.com/cidadao-ai/vigia/pkg/masking"
	"github.com/cidadao-ai/vigia/pkg/queue"
	"github.com/cidadao-ai/vigia/pkg/registry"
	"github.com/cidadao-ai/vigia/pkg/services"
)

// Server holds the handler dependencies.
type Server struct {
	cfg            *config.Config
	db             *database.Client
	investigations *services.InvestigationService
	memory         *services.MemoryService
	events         *services.EventService
	executor       queue.InvestigationExecutor
	agents         *agent.Pool
	sources        *registry.Registry
	workers        *queue.WorkerPool
	masker         *masking.Service
}

// NewServer creates the API server. db and workers may be nil (demo
// mode / no background queue); the corresponding health sections are
// omitted.
func NewServer(
	cfg *config.Config,
	db *database.Client,
	invs *services.InvestigationService,
	mem *services.MemoryService,
	events *services.EventService,
	executor queue.InvestigationExecutor,
	agents *agent.Pool,
	sources *registry.Registry,
	workers *queue.WorkerPool,
) *Server {
	return &Server{
		cfg:            cfg,
		db:             db,
		investigations: invs,
		memory:         mem,
		events:         events,
		executor:       executor,
		agents:         agents,
		sources:        sources,
		workers:        workers,
		masker:         masking.NewService(),
	}
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.healthHandler)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/chat/message", s.chatMessageHandler)
		v1.POST("/chat/stream", s.chatStreamHandler)

		v1.POST("/investigations", s.createInvestigationHandler)
		v1.GET("/investigations", s.listInvestigationsHandler)
		v1.GET("/investigations/:id", s.getInvestigationHandler)
		v1.GET("/investigations/:id/events", s.investigationEventsHandler)
		v1.POST("/investigations/:id/cancel", s.cancelInvestigationHandler)
		v1.GET("/investigations/public/results/:id", s.publicResultHandler)

		v1.GET("/agents", s.agentsHandler)
	}

	return r
}
