// Package ingest normalizes raw scraped batches and merges them into the
// lead store without creating duplicates across repeated deliveries.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/lead"
)

// NoEmailSentinel is the marker the worker emits when no address was found.
const NoEmailSentinel = "aucun_mail"

// defaultBusinessName replaces missing titles; kept as the worker's locale
// so spreadsheets and the store agree.
const defaultBusinessName = "Sans nom"

// Counters summarizes a raw batch before any store interaction.
type Counters struct {
	// Count is the worker-supplied override when positive, else the batch length.
	Count int
	// EmailsFound counts items with a usable email address.
	EmailsFound int
}

// Count computes batch counters. Pure; safe to call on every delivery.
func Count(items []lead.RawItem, override int) Counters {
	c := Counters{Count: len(items)}
	if override > 0 {
		c.Count = override
	}
	for _, item := range items {
		if ValidEmail(item.Email) {
			c.EmailsFound++
		}
	}
	return c
}

// ValidEmail accepts an address only when present, not the no-email
// sentinel, and syntactically containing an "@".
func ValidEmail(email string) bool {
	return email != "" && email != NoEmailSentinel && strings.Contains(email, "@")
}

// Address joins street, postal code, and city, skipping empty parts.
func Address(item lead.RawItem) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{item.Street, string(item.PostalCode), item.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// PhoneString prefixes numeric source values with "+" and passes strings
// through untouched.
func PhoneString(p lead.Phone) string {
	if p.Value == "" {
		return ""
	}
	if p.Numeric {
		return "+" + p.Value
	}
	return p.Value
}

// Outcome reports what a merge actually changed.
type Outcome struct {
	Inserted int
	Skipped  int
}

// Ingestor merges raw batches into the lead store.
type Ingestor struct {
	leads  lead.LeadStore
	ids    lead.IDGenerator
	clock  lead.Clock
	logger *zap.Logger
}

// New wires the store, id generator, clock, and logger.
func New(leads lead.LeadStore, ids lead.IDGenerator, clock lead.Clock, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{leads: leads, ids: ids, clock: clock, logger: logger}
}

// Merge normalizes the batch, drops items whose natural key already exists
// for the owning user, and inserts the rest. Re-delivering an identical
// batch inserts zero rows, which is what makes at-least-once callbacks safe
// without any locking.
func (i *Ingestor) Merge(ctx context.Context, sessionID, userID uuid.UUID, items []lead.RawItem) (Outcome, error) {
	if len(items) == 0 {
		return Outcome{}, nil
	}
	existing, err := i.leads.ExistingKeys(ctx, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load existing lead keys: %w", err)
	}

	now := i.clock.Now()
	toInsert := make([]lead.Lead, 0, len(items))
	skipped := 0
	for _, item := range items {
		rec, err := i.buildLead(sessionID, item, now)
		if err != nil {
			return Outcome{}, err
		}
		key := rec.Key()
		if _, dup := existing[key]; dup {
			skipped++
			continue
		}
		// Also dedupe within the batch itself.
		existing[key] = struct{}{}
		toInsert = append(toInsert, rec)
	}

	inserted := 0
	if len(toInsert) > 0 {
		inserted, err = i.leads.InsertBatch(ctx, toInsert)
		if err != nil {
			return Outcome{}, fmt.Errorf("insert lead batch: %w", err)
		}
	}
	if skipped > 0 {
		i.logger.Debug("skipped duplicate leads",
			zap.String("session_id", sessionID.String()),
			zap.Int("skipped", skipped),
		)
	}
	return Outcome{Inserted: inserted, Skipped: skipped + (len(toInsert) - inserted)}, nil
}

func (i *Ingestor) buildLead(sessionID uuid.UUID, item lead.RawItem, now time.Time) (lead.Lead, error) {
	id, err := i.ids.NewID()
	if err != nil {
		return lead.Lead{}, fmt.Errorf("generate lead id: %w", err)
	}
	name := item.Title
	if name == "" {
		name = defaultBusinessName
	}
	email := ""
	if ValidEmail(item.Email) {
		email = item.Email
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return lead.Lead{}, fmt.Errorf("encode raw item: %w", err)
	}
	return lead.Lead{
		ID:           id,
		SessionID:    sessionID,
		BusinessName: name,
		Address:      Address(item),
		Phone:        PhoneString(item.Phone),
		Email:        email,
		Website:      item.Website,
		Rating:       item.Rating,
		ReviewsCount: item.ReviewsCount,
		Category:     item.Category,
		Status:       lead.LeadToContact,
		EmailStatus:  lead.EmailUnverified,
		Raw:          raw,
		CreatedAt:    now,
	}, nil
}
