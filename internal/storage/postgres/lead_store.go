package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maximeroux/leadforge/internal/lead"
)

const leadColumns = `id, session_id, business_name, address, phone, email, website,
	rating, reviews_count, category, status, notes, email_status, email_verified_at,
	last_action_at, raw, created_at`

// LeadStore persists scraped leads in Postgres. Rows carry a denormalized
// user_id copied from the owning session so the per-user natural-key
// constraint and ExistingKeys scan stay single-table.
type LeadStore struct {
	db DB
}

// NewLeadStore constructs a LeadStore on an open pool.
func NewLeadStore(db DB) (*LeadStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &LeadStore{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *LeadStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// InsertBatch writes new leads. Rows colliding on the per-user natural key
// are skipped via ON CONFLICT DO NOTHING; the return value counts rows that
// actually landed.
func (s *LeadStore) InsertBatch(ctx context.Context, leads []lead.Lead) (int, error) {
	query := `
		INSERT INTO leads (` + leadColumns + `, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			(SELECT user_id FROM scraping_sessions WHERE id = $2))
		ON CONFLICT (user_id, business_name, address) DO NOTHING;
	`
	inserted := 0
	for _, l := range leads {
		tag, err := s.db.Exec(ctx, query,
			l.ID,
			l.SessionID,
			l.BusinessName,
			l.Address,
			l.Phone,
			l.Email,
			l.Website,
			l.Rating,
			l.ReviewsCount,
			l.Category,
			string(l.Status),
			l.Notes,
			string(l.EmailStatus),
			l.EmailVerifiedAt,
			l.LastActionAt,
			rawArg(l.Raw),
			l.CreatedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert lead %s: %w", l.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ExistingKeys returns the natural-key set across every session owned by
// the user.
func (s *LeadStore) ExistingKeys(ctx context.Context, userID uuid.UUID) (map[string]struct{}, error) {
	query := `SELECT business_name, address FROM leads WHERE user_id = $1;`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list lead keys: %w", err)
	}
	defer rows.Close()
	keys := make(map[string]struct{})
	for rows.Next() {
		var name, address string
		if err := rows.Scan(&name, &address); err != nil {
			return nil, fmt.Errorf("scan lead key: %w", err)
		}
		keys[lead.NaturalKey(name, address)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list lead keys: %w", err)
	}
	return keys, nil
}

// ListBySession returns the session's leads in insertion order.
func (s *LeadStore) ListBySession(
	ctx context.Context,
	sessionID uuid.UUID,
	limit, offset int,
) ([]lead.Lead, error) {
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE session_id = $1
		ORDER BY created_at, id
		LIMIT NULLIF($2, 0) OFFSET $3;
	`
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()
	var out []lead.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return out, nil
}

// Get fetches a lead by ID.
func (s *LeadStore) Get(ctx context.Context, id uuid.UUID) (lead.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1;`
	l, err := scanLead(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lead.Lead{}, lead.ErrNotFound
		}
		return lead.Lead{}, fmt.Errorf("select lead: %w", err)
	}
	return l, nil
}

// Update applies a user-driven patch and returns the resulting lead. Any
// update stamps last_action_at unless the patch carries an explicit value.
func (s *LeadStore) Update(ctx context.Context, id uuid.UUID, patch lead.LeadPatch) (lead.Lead, error) {
	query := `
		UPDATE leads SET
			status = COALESCE($2, status),
			notes = COALESCE($3, notes),
			email_status = COALESCE($4, email_status),
			email_verified_at = COALESCE($5, email_verified_at),
			last_action_at = COALESCE($6, NOW())
		WHERE id = $1
		RETURNING ` + leadColumns + `;
	`
	l, err := scanLead(s.db.QueryRow(ctx, query,
		id,
		leadStatusArg(patch.Status),
		patch.Notes,
		emailStatusArg(patch.EmailStatus),
		patch.EmailVerifiedAt,
		patch.LastActionAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lead.Lead{}, lead.ErrNotFound
		}
		return lead.Lead{}, fmt.Errorf("update lead: %w", err)
	}
	return l, nil
}

func scanLead(row pgx.Row) (lead.Lead, error) {
	var (
		l           lead.Lead
		status      string
		emailStatus string
		raw         []byte
	)
	err := row.Scan(
		&l.ID,
		&l.SessionID,
		&l.BusinessName,
		&l.Address,
		&l.Phone,
		&l.Email,
		&l.Website,
		&l.Rating,
		&l.ReviewsCount,
		&l.Category,
		&status,
		&l.Notes,
		&emailStatus,
		&l.EmailVerifiedAt,
		&l.LastActionAt,
		&raw,
		&l.CreatedAt,
	)
	if err != nil {
		return lead.Lead{}, err
	}
	l.Status = lead.LeadStatus(status)
	l.EmailStatus = lead.EmailStatus(emailStatus)
	if len(raw) > 0 {
		l.Raw = raw
	}
	return l, nil
}

func rawArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func leadStatusArg(status *lead.LeadStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}

func emailStatusArg(status *lead.EmailStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}

var _ lead.LeadStore = (*LeadStore)(nil)
