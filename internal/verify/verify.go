// Package verify classifies lead email addresses and records the outcome.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/ingest"
	"github.com/maximeroux/leadforge/internal/lead"
)

// Verifier classifies a single email address.
type Verifier interface {
	Verify(ctx context.Context, email string) (lead.EmailStatus, error)
}

// Heuristic is a deliverability placeholder used until a real SMTP or
// provider check is wired. Addresses carrying "test" are flagged risky and
// addresses carrying "error" invalid, which keeps demo data honest.
type Heuristic struct{}

// Verify classifies the address by its textual content.
func (Heuristic) Verify(_ context.Context, email string) (lead.EmailStatus, error) {
	lowered := strings.ToLower(email)
	switch {
	case strings.Contains(lowered, "error"):
		return lead.EmailInvalid, nil
	case strings.Contains(lowered, "test"):
		return lead.EmailRisky, nil
	default:
		return lead.EmailValid, nil
	}
}

// Service runs verification against stored leads.
type Service struct {
	leads    lead.LeadStore
	verifier Verifier
	clock    lead.Clock
	logger   *zap.Logger
}

// NewService wires the lead store and verifier.
func NewService(leads lead.LeadStore, verifier Verifier, clock lead.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{leads: leads, verifier: verifier, clock: clock, logger: logger}
}

// VerifyLead checks the lead's email and persists the new status together
// with the verification time. Leads without a usable address are marked
// invalid without calling the verifier.
func (s *Service) VerifyLead(ctx context.Context, leadID uuid.UUID) (lead.Lead, error) {
	current, err := s.leads.Get(ctx, leadID)
	if err != nil {
		return lead.Lead{}, fmt.Errorf("load lead %s: %w", leadID, err)
	}

	status := lead.EmailInvalid
	if current.Email != "" && current.Email != ingest.NoEmailSentinel {
		status, err = s.verifier.Verify(ctx, current.Email)
		if err != nil {
			return lead.Lead{}, fmt.Errorf("verify email: %w", err)
		}
	}

	now := s.clock.Now()
	updated, err := s.leads.Update(ctx, leadID, lead.LeadPatch{
		EmailStatus:     &status,
		EmailVerifiedAt: &now,
	})
	if err != nil {
		return lead.Lead{}, fmt.Errorf("record verification: %w", err)
	}

	s.logger.Info("email verified",
		zap.String("lead_id", leadID.String()),
		zap.String("email_status", string(status)),
	)
	return updated, nil
}
