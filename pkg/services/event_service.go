package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InvestigationEvent is one journaled event: a durable copy of what
// went over the stream, used for audit and post-mortem.
type InvestigationEvent struct {
	ID              int64           `json:"id"`
	InvestigationID string          `json:"investigation_id"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       time.Time       `json:"created_at"`
}

// EventStore is the persistence port for the event journal.
type EventStore interface {
	Append(ctx context.Context, e InvestigationEvent) (int64, error)
	ListSince(ctx context.Context, investigationID string, sinceID int64) ([]InvestigationEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// EventService journals investigation events.
type EventService struct {
	store EventStore
}

// NewEventService creates the service.
func NewEventService(store EventStore) *EventService {
	return &EventService{store: store}
}

// Record journals one event.
func (s *EventService) Record(ctx context.Context, investigationID, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = s.store.Append(writeCtx, InvestigationEvent{
		InvestigationID: investigationID,
		EventType:       eventType,
		Payload:         raw,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Since returns an investigation's events after sinceID, in order.
func (s *EventService) Since(ctx context.Context, investigationID string, sinceID int64) ([]InvestigationEvent, error) {
	return s.store.ListSince(ctx, investigationID, sinceID)
}

// CleanupOlderThan removes journal entries past the TTL.
func (s *EventService) CleanupOlderThan(ctx context.Context, ttlDays int) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(ttlDays) * 24 * time.Hour)
	writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.store.DeleteOlderThan(writeCtx, cutoff)
}

// PostgresEventStore is the production EventStore.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEventStore builds the store over a shared pool.
func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

func (s *PostgresEventStore) Append(ctx context.Context, e InvestigationEvent) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO investigation_events (investigation_id, event_type, payload, created_at)
		VALUES ($1,$2,$3,$4) RETURNING id`,
		e.InvestigationID, e.EventType, []byte(e.Payload), e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	return id, nil
}

func (s *PostgresEventStore) ListSince(ctx context.Context, investigationID string, sinceID int64) ([]InvestigationEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, investigation_id, event_type, payload, created_at
		FROM investigation_events
		WHERE investigation_id = $1 AND id > $2 ORDER BY id`,
		investigationID, sinceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []InvestigationEvent
	for rows.Next() {
		var e InvestigationEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.InvestigationID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresEventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM investigation_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InMemoryEventStore backs tests and database-less demo mode.
type InMemoryEventStore struct {
	mu     sync.Mutex
	nextID int64
	events []InvestigationEvent
}

// NewInMemoryEventStore builds an empty store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{}
}

func (s *InMemoryEventStore) Append(ctx context.Context, e InvestigationEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.events = append(s.events, e)
	return e.ID, nil
}

func (s *InMemoryEventStore) ListSince(ctx context.Context, investigationID string, sinceID int64) ([]InvestigationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []InvestigationEvent
	for _, e := range s.events {
		if e.InvestigationID == investigationID && e.ID > sinceID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryEventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	removed := 0
	for _, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}
