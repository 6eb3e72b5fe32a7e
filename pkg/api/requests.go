package api

// maxMessageLength bounds chat and investigation query bodies.
const maxMessageLength = 10_000

// ChatMessageRequest is the body for POST /api/v1/chat/message and
// POST /api/v1/chat/stream.
type ChatMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// CreateInvestigationRequest is the body for POST /api/v1/investigations.
type CreateInvestigationRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}
