package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cidadao-ai/vigia/pkg/models"
)

// PostgresInvestigationStore is the production InvestigationStore.
type PostgresInvestigationStore struct {
	pool *pgxpool.Pool
}

// NewPostgresInvestigationStore builds the store over a shared pool.
func NewPostgresInvestigationStore(pool *pgxpool.Pool) *PostgresInvestigationStore {
	return &PostgresInvestigationStore{pool: pool}
}

const investigationColumns = `
	id, query, session_id, user_id, status, progress, current_phase,
	created_at, started_at, completed_at, claimed_by,
	total_records_analyzed, anomalies_found, summary, failure_reason,
	result_blob, metadata`

func scanInvestigation(row pgx.Row) (*models.Investigation, error) {
	var inv models.Investigation
	var status, phase string
	var metadata []byte
	err := row.Scan(
		&inv.ID, &inv.Query, &inv.SessionID, &inv.UserID, &status, &inv.Progress, &phase,
		&inv.CreatedAt, &inv.StartedAt, &inv.CompletedAt, &inv.ClaimedBy,
		&inv.TotalRecordsAnalyzed, &inv.AnomaliesFound, &inv.Summary, &inv.FailureReason,
		&inv.ResultBlob, &metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan investigation: %w", err)
	}
	inv.Status = models.InvestigationStatus(status)
	inv.CurrentPhase = models.Phase(phase)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &inv.Metadata)
	}
	return &inv, nil
}

func (s *PostgresInvestigationStore) Insert(ctx context.Context, inv *models.Investigation) error {
	metadata, err := json.Marshal(inv.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO investigations (
			id, query, session_id, user_id, status, progress, current_phase,
			created_at, total_records_analyzed, anomalies_found, summary,
			failure_reason, result_blob, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		inv.ID, inv.Query, inv.SessionID, inv.UserID, string(inv.Status),
		inv.Progress, string(inv.CurrentPhase), inv.CreatedAt,
		inv.TotalRecordsAnalyzed, inv.AnomaliesFound, inv.Summary,
		inv.FailureReason, inv.ResultBlob, metadata,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert investigation: %w", err)
	}
	return nil
}

func (s *PostgresInvestigationStore) Get(ctx context.Context, id string) (*models.Investigation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+investigationColumns+` FROM investigations WHERE id = $1`, id)
	return scanInvestigation(row)
}

// UpdateConditional reads the row FOR UPDATE inside a transaction,
// checks the expected status, applies the mutation and writes back.
func (s *PostgresInvestigationStore) UpdateConditional(ctx context.Context, id string, expect models.InvestigationStatus, mutate func(*models.Investigation)) (*models.Investigation, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+investigationColumns+` FROM investigations WHERE id = $1 FOR UPDATE`, id)
	inv, err := scanInvestigation(row)
	if err != nil {
		return nil, err
	}
	if inv.Status != expect {
		return nil, ErrConcurrentModification
	}

	mutate(inv)

	metadata, err := json.Marshal(inv.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE investigations SET
			status = $2, progress = $3, current_phase = $4,
			started_at = $5, completed_at = $6, claimed_by = $7,
			total_records_analyzed = $8, anomalies_found = $9,
			summary = $10, failure_reason = $11, result_blob = $12, metadata = $13
		WHERE id = $1`,
		inv.ID, string(inv.Status), inv.Progress, string(inv.CurrentPhase),
		inv.StartedAt, inv.CompletedAt, inv.ClaimedBy,
		inv.TotalRecordsAnalyzed, inv.AnomaliesFound,
		inv.Summary, inv.FailureReason, inv.ResultBlob, metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update investigation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return inv, nil
}

// ClaimNextPending uses SKIP LOCKED so concurrent workers never block
// on or double-claim the same row.
func (s *PostgresInvestigationStore) ClaimNextPending(ctx context.Context, workerID string) (*models.Investigation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE investigations SET
			status = 'running', started_at = now(), heartbeat_at = now(), claimed_by = $1
		WHERE id = (
			SELECT id FROM investigations
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+investigationColumns, workerID)
	inv, err := scanInvestigation(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return inv, err
}

func (s *PostgresInvestigationStore) Heartbeat(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE investigations SET heartbeat_at = now() WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("failed to heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresInvestigationStore) MarkOrphans(ctx context.Context, staleAfter time.Duration, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE investigations SET
			status = 'failed', failure_reason = $1, completed_at = now()
		WHERE status = 'running'
		  AND COALESCE(heartbeat_at, started_at, created_at) < now() - $2::interval`,
		reason, fmt.Sprintf("%f seconds", staleAfter.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to mark orphans: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresInvestigationStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Investigation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+investigationColumns+`
		 FROM investigations WHERE session_id = $1
		 ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list investigations: %w", err)
	}
	defer rows.Close()

	var out []*models.Investigation
	for rows.Next() {
		inv, err := scanInvestigation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// PostgresEpisodicStore is the production EpisodicStore.
type PostgresEpisodicStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEpisodicStore builds the store over a shared pool.
func NewPostgresEpisodicStore(pool *pgxpool.Pool) *PostgresEpisodicStore {
	return &PostgresEpisodicStore{pool: pool}
}

func (s *PostgresEpisodicStore) Append(ctx context.Context, e EpisodicEntry) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO episodic_memories (investigation_id, kind, payload, owner_id, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		e.InvestigationID, e.Kind, []byte(e.Payload), e.Owner, e.CreatedAt, e.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append episodic entry: %w", err)
	}
	return id, nil
}

func (s *PostgresEpisodicStore) ListByInvestigation(ctx context.Context, investigationID string) ([]EpisodicEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, investigation_id, kind, payload, owner_id, created_at, expires_at
		FROM episodic_memories WHERE investigation_id = $1 ORDER BY id`, investigationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodic entries: %w", err)
	}
	defer rows.Close()

	var out []EpisodicEntry
	for rows.Next() {
		var e EpisodicEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.InvestigationID, &e.Kind, &payload, &e.Owner, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan episodic entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresEpisodicStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM episodic_memories WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresEpisodicStore) Delete(ctx context.Context, investigationID, owner string) (int, error) {
	var tag pgconn.CommandTag
	var err error
	if owner == "system" {
		tag, err = s.pool.Exec(ctx,
			`DELETE FROM episodic_memories WHERE investigation_id = $1`, investigationID)
	} else {
		tag, err = s.pool.Exec(ctx,
			`DELETE FROM episodic_memories WHERE investigation_id = $1 AND owner_id = $2`,
			investigationID, owner)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete episodic entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
