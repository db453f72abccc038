package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maximeroux/leadforge/internal/lead"
)

const sessionColumns = `id, user_id, params, status, progress_percentage, current_step,
	actual_results, emails_found, error_message, sheet_url, sheet_name, snapshot_uri,
	started_at, completed_at, created_at`

// SessionStore persists scraping sessions in Postgres.
type SessionStore struct {
	db DB
}

// NewSessionStore constructs a SessionStore on an open pool.
func NewSessionStore(db DB) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &SessionStore{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *SessionStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Create inserts a new session row.
func (s *SessionStore) Create(ctx context.Context, sess lead.Session) error {
	params, err := json.Marshal(sess.Params)
	if err != nil {
		return fmt.Errorf("marshal search params: %w", err)
	}
	query := `
		INSERT INTO scraping_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
	`
	_, err = s.db.Exec(ctx, query,
		sess.ID,
		sess.UserID,
		params,
		string(sess.Status),
		sess.ProgressPercentage,
		sess.CurrentStep,
		sess.ActualResults,
		sess.EmailsFound,
		sess.ErrorMessage,
		sess.SheetURL,
		sess.SheetName,
		sess.SnapshotURI,
		sess.StartedAt,
		sess.CompletedAt,
		sess.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return lead.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get fetches a session by ID.
func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (lead.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM scraping_sessions WHERE id = $1;`
	sess, err := scanSession(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lead.Session{}, lead.ErrNotFound
		}
		return lead.Session{}, fmt.Errorf("select session: %w", err)
	}
	return sess, nil
}

// ListByUser returns the user's sessions, newest first.
func (s *SessionStore) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	limit, offset int,
) ([]lead.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM scraping_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT NULLIF($2, 0) OFFSET $3;
	`
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []lead.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Apply mutates the session only while its status is one of allowedFrom.
// The UPDATE carries the guard in its WHERE clause so concurrent webhook
// deliveries serialize on the row; counters stay monotonic via GREATEST
// and the timestamps are set-once via COALESCE.
func (s *SessionStore) Apply(
	ctx context.Context,
	id uuid.UUID,
	patch lead.SessionPatch,
	allowedFrom []lead.SessionStatus,
) (lead.Session, bool, error) {
	query := `
		UPDATE scraping_sessions SET
			status = COALESCE($2, status),
			progress_percentage = GREATEST(progress_percentage, COALESCE($3, 0)),
			current_step = COALESCE($4, current_step),
			actual_results = GREATEST(actual_results, COALESCE($5, 0)),
			emails_found = GREATEST(emails_found, COALESCE($6, 0)),
			error_message = COALESCE($7, error_message),
			sheet_url = COALESCE(NULLIF($8, ''), sheet_url),
			sheet_name = COALESCE(NULLIF($9, ''), sheet_name),
			snapshot_uri = COALESCE(NULLIF($10, ''), snapshot_uri),
			started_at = COALESCE(started_at, $11),
			completed_at = COALESCE(completed_at, $12)
		WHERE id = $1 AND status = ANY($13)
		RETURNING ` + sessionColumns + `;
	`
	sess, err := scanSession(s.db.QueryRow(ctx, query,
		id,
		statusArg(patch.Status),
		patch.ProgressPercentage,
		patch.CurrentStep,
		patch.ActualResults,
		patch.EmailsFound,
		patch.ErrorMessage,
		patch.SheetURL,
		patch.SheetName,
		patch.SnapshotURI,
		patch.StartedAt,
		patch.CompletedAt,
		statusList(allowedFrom),
	))
	if err == nil {
		return sess, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return lead.Session{}, false, fmt.Errorf("apply session patch: %w", err)
	}
	// Guard miss and missing row both return zero rows; re-read to tell
	// them apart.
	sess, err = s.Get(ctx, id)
	if err != nil {
		return lead.Session{}, false, err
	}
	return sess, false, nil
}

// FailAllInProgress force-fails every in_progress session owned by the user.
func (s *SessionStore) FailAllInProgress(
	ctx context.Context,
	userID uuid.UUID,
	reason string,
	at time.Time,
) (int64, error) {
	query := `
		UPDATE scraping_sessions
		SET status = $2, error_message = $3, completed_at = $4
		WHERE user_id = $1 AND status = $5;
	`
	tag, err := s.db.Exec(ctx, query, userID, string(lead.StatusFailed), reason, at, string(lead.StatusInProgress))
	if err != nil {
		return 0, fmt.Errorf("fail sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes the session; the leads FK cascades.
func (s *SessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scraping_sessions WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lead.ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (lead.Session, error) {
	var (
		sess   lead.Session
		params []byte
		status string
	)
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&params,
		&status,
		&sess.ProgressPercentage,
		&sess.CurrentStep,
		&sess.ActualResults,
		&sess.EmailsFound,
		&sess.ErrorMessage,
		&sess.SheetURL,
		&sess.SheetName,
		&sess.SnapshotURI,
		&sess.StartedAt,
		&sess.CompletedAt,
		&sess.CreatedAt,
	)
	if err != nil {
		return lead.Session{}, err
	}
	sess.Status = lead.SessionStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &sess.Params); err != nil {
			return lead.Session{}, fmt.Errorf("decode search params: %w", err)
		}
	}
	return sess, nil
}

func statusArg(status *lead.SessionStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}

func statusList(statuses []lead.SessionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

var _ lead.SessionStore = (*SessionStore)(nil)
