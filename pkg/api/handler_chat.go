package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cidadao-ai/vigia/pkg/models"
	"github.com/cidadao-ai/vigia/pkg/stream"
)

// chatMessageHandler handles POST /api/v1/chat/message: one synchronous
// investigation run, reply in the response body.
func (s *Server) chatMessageHandler(c *gin.Context) {
	req, ok := s.bindChatRequest(c)
	if !ok {
		return
	}

	inv, ok := s.startInvestigation(c, models.Query{Text: req.Message, SessionID: req.SessionID, UserID: req.UserID})
	if !ok {
		return
	}

	out, err := s.executor.Run(c.Request.Context(), inv, nil)
	if out == nil || out.Investigation == nil {
		slog.Error("Chat run returned no outcome", "investigation_id", inv.ID, "error", err)
		abortWithError(c, http.StatusInternalServerError, "internal error")
		return
	}
	if err != nil {
		// The run already persisted the terminal state and produced a
		// user-facing reply; surface both rather than a bare 500.
		slog.Warn("Chat run finished abnormally", "investigation_id", inv.ID, "error", err)
	}

	c.JSON(http.StatusOK, &ChatMessageResponse{
		SessionID:         out.Investigation.SessionID,
		MessageID:         uuid.NewString(),
		InvestigationID:   out.Investigation.ID,
		AgentID:           out.AgentID,
		AgentName:         out.AgentID,
		Message:           out.Reply,
		Confidence:        out.Confidence,
		Intent:            string(out.Intent.Type),
		Status:            string(out.Investigation.Status),
		RecordsAnalyzed:   out.Investigation.TotalRecordsAnalyzed,
		AnomaliesFound:    out.Investigation.AnomaliesFound,
		SuggestedActions:  out.SuggestedActions,
		FollowUpQuestions: out.FollowUpQuestions,
		Metadata:          out.Investigation.Metadata,
	})
}

// chatStreamHandler handles POST /api/v1/chat/stream: the same run, but
// the event sequence is written as SSE while it happens.
func (s *Server) chatStreamHandler(c *gin.Context) {
	req, ok := s.bindChatRequest(c)
	if !ok {
		return
	}

	inv, ok := s.startInvestigation(c, models.Query{Text: req.Message, SessionID: req.SessionID, UserID: req.UserID})
	if !ok {
		return
	}

	emitter := stream.NewEmitter(stream.EmitterConfig{
		BufferSize:   s.cfg.Stream.BufferSize,
		OverflowWait: s.cfg.Stream.IdleTimeout,
	})

	runCtx, cancelRun := context.WithCancel(c.Request.Context())
	defer cancelRun()
	go func() {
		if _, err := s.executor.Run(runCtx, inv, emitter); err != nil {
			slog.Warn("Streamed run finished abnormally", "investigation_id", inv.ID, "error", err)
		}
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	idle := s.cfg.Stream.IdleTimeout
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case ev, open := <-emitter.Events():
			if !open {
				if terminal := emitter.Terminal(); terminal != nil {
					s.writeEvent(c, inv.ID, *terminal)
				}
				return
			}
			if !s.writeEvent(c, inv.ID, ev) {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)
		case <-timer.C:
			slog.Warn("Stream idle timeout, closing", "investigation_id", inv.ID)
			return
		case <-c.Request.Context().Done():
			slog.Info("Stream client disconnected", "investigation_id", inv.ID)
			return
		}
	}
}

func (s *Server) writeEvent(c *gin.Context, investigationID string, ev stream.Event) bool {
	if err := stream.Encode(c.Writer, ev); err != nil {
		slog.Warn("SSE write failed", "investigation_id", investigationID, "error", err)
		return false
	}
	c.Writer.Flush()
	return true
}

func (s *Server) bindChatRequest(c *gin.Context) (*ChatMessageRequest, bool) {
	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if req.Message == "" {
		abortWithError(c, http.StatusBadRequest, "message is required")
		return nil, false
	}
	if len(req.Message) > maxMessageLength {
		abortWithError(c, http.StatusBadRequest, "message exceeds maximum length")
		return nil, false
	}
	return &req, true
}

// startInvestigation creates the record and moves it to running so the
// chat handlers own the whole lifecycle (the queue never sees it).
func (s *Server) startInvestigation(c *gin.Context, q models.Query) (*models.Investigation, bool) {
	inv, err := s.investigations.Create(c.Request.Context(), q)
	if err != nil {
		mapServiceError(c, err)
		return nil, false
	}
	inv, err = s.investigations.Transition(c.Request.Context(), inv.ID, models.StatusRunning, "")
	if err != nil {
		mapServiceError(c, err)
		return nil, false
	}
	return inv, true
}
