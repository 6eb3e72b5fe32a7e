package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// createInvestigationHandler handles POST /api/v1/investigations: the
// investigation is queued as pending and picked up by a worker.
func (s *Server) createInvestigationHandler(c *gin.Context) {
	var req CreateInvestigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		abortWithError(c, http.StatusBadRequest, "query is required")
		return
	}
	if len(req.Query) > maxMessageLength {
		abortWithError(c, http.StatusBadRequest, "query exceeds maximum length")
		return
	}

	inv, err := s.investigations.Create(c.Request.Context(), models.Query{
		Text:      req.Query,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, investigationView(inv))
}

// getInvestigationHandler handles GET /api/v1/investigations/:id.
func (s *Server) getInvestigationHandler(c *gin.Context) {
	inv, err := s.investigations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, investigationView(inv))
}

// listInvestigationsHandler handles GET /api/v1/investigations?session_id=.
func (s *Server) listInvestigationsHandler(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		abortWithError(c, http.StatusBadRequest, "session_id is required")
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			abortWithError(c, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	invs, err := s.investigations.ListBySession(c.Request.Context(), sessionID, limit)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	views := make([]*models.Investigation, 0, len(invs))
	for _, inv := range invs {
		views = append(views, investigationView(inv))
	}
	c.JSON(http.StatusOK, gin.H{"investigations": views})
}

// investigationEventsHandler handles GET /api/v1/investigations/:id/events.
// The after parameter makes polling resumable.
func (s *Server) investigationEventsHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.investigations.Get(c.Request.Context(), id); err != nil {
		mapServiceError(c, err)
		return
	}

	var after int64
	if raw := c.Query("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			abortWithError(c, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}

	events, err := s.events.Since(c.Request.Context(), id, after)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": toEventResponses(events)})
}

// cancelInvestigationHandler handles POST /api/v1/investigations/:id/cancel.
// Pending investigations are cancelled directly; running ones through
// the worker's cancel registry so the run stops before the status flips.
func (s *Server) cancelInvestigationHandler(c *gin.Context) {
	id := c.Param("id")
	inv, err := s.investigations.Get(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	switch inv.Status {
	case models.StatusPending:
		updated, err := s.investigations.Transition(c.Request.Context(), id, models.StatusCancelled, "user_cancelled")
		if err != nil {
			mapServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, investigationView(updated))
	case models.StatusRunning:
		if s.workers != nil && s.workers.Cancel(id) {
			c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
			return
		}
		// Not running on this pod; another replica owns it.
		abortWithError(c, http.StatusConflict, "investigation is running on another instance")
	default:
		abortWithError(c, http.StatusConflict, "investigation already finished")
	}
}

// publicResultHandler handles GET /api/v1/investigations/public/results/:id.
// Only finished investigations are exposed, with identifiers stripped.
func (s *Server) publicResultHandler(c *gin.Context) {
	inv, err := s.investigations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if !inv.Status.Terminal() {
		abortWithError(c, http.StatusNotFound, "results not available yet")
		return
	}
	pub := inv.PublicProjection()
	pub.Summary = s.masker.MaskText(pub.Summary)
	pub.Metadata = s.masker.MaskMap(pub.Metadata)
	c.JSON(http.StatusOK, pub)
}
