package memory

import (
	"sync"
	"time"
)

// Turn is one exchange in a conversation.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkingContext is the per-session conversation window: in-memory,
// bounded, evicted on session close. Sessions idle past the TTL are
// reaped lazily.
type WorkingContext struct {
	maxTurns   int
	sessionTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]*sessionWindow
}

type sessionWindow struct {
	turns    []Turn
	lastSeen time.Time
}

// NewWorkingContext builds the store. maxTurns bounds the window per
// session (default 20); sessionTTL reaps idle sessions (default 30m).
func NewWorkingContext(maxTurns int, sessionTTL time.Duration) *WorkingContext {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	return &WorkingContext{
		maxTurns:   maxTurns,
		sessionTTL: sessionTTL,
		sessions:   make(map[string]*sessionWindow),
	}
}

// Append records a turn, trimming the window to the bound.
func (w *WorkingContext) Append(sessionID string, turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reapLocked()

	win, ok := w.sessions[sessionID]
	if !ok {
		win = &sessionWindow{}
		w.sessions[sessionID] = win
	}
	win.turns = append(win.turns, turn)
	if len(win.turns) > w.maxTurns {
		win.turns = win.turns[len(win.turns)-w.maxTurns:]
	}
	win.lastSeen = time.Now()
}

// Turns returns a copy of the session's window.
func (w *WorkingContext) Turns(sessionID string) []Turn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	win, ok := w.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Turn, len(win.turns))
	copy(out, win.turns)
	return out
}

// Close evicts the session.
func (w *WorkingContext) Close(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, sessionID)
}

func (w *WorkingContext) reapLocked() {
	cutoff := time.Now().Add(-w.sessionTTL)
	for id, win := range w.sessions {
		if win.lastSeen.Before(cutoff) {
			delete(w.sessions, id)
		}
	}
}
