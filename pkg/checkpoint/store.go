// Package checkpoint persists serializable research-state snapshots so
// sessions can be paused, cancelled, and resumed.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fathom-research/fathom/pkg/state"
)

// Checkpoint statuses.
const (
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNoCheckpoint indicates no saved snapshot exists for a session.
var ErrNoCheckpoint = errors.New("no checkpoint for session")

// Info is the caller-visible checkpoint metadata (state blob excluded).
type Info struct {
	ID           string    `db:"id" json:"id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	UserID       *string   `db:"user_id" json:"user_id,omitempty"`
	Query        string    `db:"query" json:"query"`
	Phase        string    `db:"phase" json:"phase"`
	Iteration    int       `db:"iteration" json:"iteration"`
	Status       string    `db:"status" json:"status"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Store is the checkpoint persistence interface the orchestrator and the
// HTTP surface consume.
type Store interface {
	Save(ctx context.Context, s *state.State, userID *string) (string, error)
	Load(ctx context.Context, sessionID string) (*state.State, error)
	GetInfo(ctx context.Context, sessionID string) (*Info, error)
	List(ctx context.Context, userID *string, status string, limit int) ([]Info, error)
	UpdateStatus(ctx context.Context, sessionID, status, errorMessage string) error
	Delete(ctx context.Context, sessionID string) (bool, error)
}

// SQLStore persists checkpoints in PostgreSQL.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a store over an existing handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Save upserts the snapshot for the state's session and returns the
// checkpoint id. One row per session.
func (s *SQLStore) Save(ctx context.Context, st *state.State, userID *string) (string, error) {
	if st.SessionID == "" {
		return "", fmt.Errorf("session_id is required")
	}
	blob, err := marshalBestEffort(st)
	if err != nil {
		return "", fmt.Errorf("serializing checkpoint for %s: %w", st.SessionID, err)
	}

	id := uuid.NewString()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO research_checkpoints
			(id, session_id, user_id, query, phase, iteration, state_json, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (session_id) DO UPDATE SET
			query = EXCLUDED.query,
			phase = EXCLUDED.phase,
			iteration = EXCLUDED.iteration,
			state_json = EXCLUDED.state_json,
			status = EXCLUDED.status,
			updated_at = now()
		RETURNING id`,
		id, st.SessionID, userID, st.Query, string(st.Phase), st.Iteration, blob, StatusRunning)

	var savedID string
	if err := row.Scan(&savedID); err != nil {
		return "", fmt.Errorf("saving checkpoint for %s: %w", st.SessionID, err)
	}
	return savedID, nil
}

// Load restores the saved state for a session.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*state.State, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob,
		`SELECT state_json FROM research_checkpoints WHERE session_id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for %s: %w", sessionID, err)
	}
	st, err := state.RestoreSnapshot(blob)
	if err != nil {
		return nil, fmt.Errorf("restoring checkpoint for %s: %w", sessionID, err)
	}
	return st, nil
}

const infoColumns = `id, session_id, user_id, query, phase, iteration, status, error_message, created_at, updated_at`

// GetInfo returns checkpoint metadata without the state blob.
func (s *SQLStore) GetInfo(ctx context.Context, sessionID string) (*Info, error) {
	var info Info
	err := s.db.GetContext(ctx, &info,
		`SELECT `+infoColumns+` FROM research_checkpoints WHERE session_id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("fetching checkpoint info for %s: %w", sessionID, err)
	}
	return &info, nil
}

// List returns checkpoint metadata, newest first, optionally filtered by
// user and status.
func (s *SQLStore) List(ctx context.Context, userID *string, status string, limit int) ([]Info, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + infoColumns + ` FROM research_checkpoints WHERE 1=1`
	args := []any{}
	if userID != nil {
		args = append(args, *userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args))

	var infos []Info
	if err := s.db.SelectContext(ctx, &infos, query, args...); err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	return infos, nil
}

// UpdateStatus sets the checkpoint status and optional error message.
func (s *SQLStore) UpdateStatus(ctx context.Context, sessionID, status, errorMessage string) error {
	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE research_checkpoints
		SET status = $2, error_message = $3, updated_at = now()
		WHERE session_id = $1`,
		sessionID, status, errMsg)
	if err != nil {
		return fmt.Errorf("updating checkpoint status for %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoCheckpoint
	}
	return nil
}

// Delete removes a session's checkpoint. Returns false when none existed.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM research_checkpoints WHERE session_id = $1`, sessionID)
	if err != nil {
		return false, fmt.Errorf("deleting checkpoint for %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting checkpoint for %s: %w", sessionID, err)
	}
	return n > 0, nil
}

var _ Store = (*SQLStore)(nil)

// marshalBestEffort serializes the snapshot; when direct marshaling fails
// (exotic values smuggled into chart data), it falls back to a sanitized
// projection with stringified leaves so the snapshot always round-trips
// through JSON.
func marshalBestEffort(st *state.State) ([]byte, error) {
	blob, err := st.MarshalSnapshot()
	if err == nil {
		return blob, nil
	}
	for i := range st.Charts {
		st.Charts[i].Data = sanitizeMap(st.Charts[i].Data)
		st.Charts[i].EchartsOption = sanitizeMap(st.Charts[i].EchartsOption)
	}
	return st.MarshalSnapshot()
}

func sanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, err := json.Marshal(v); err != nil {
			out[k] = fmt.Sprint(v)
		} else {
			out[k] = v
		}
	}
	return out
}
