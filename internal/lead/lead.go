package lead

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LeadStatus tracks where a lead sits in the outreach workflow.
type LeadStatus string

// Workflow statuses persisted on each lead.
const (
	LeadToContact  LeadStatus = "to_contact"
	LeadInProgress LeadStatus = "in_progress"
	LeadQualified  LeadStatus = "qualified"
	LeadConverted  LeadStatus = "converted"
	LeadRejected   LeadStatus = "rejected"
)

// EmailStatus is the verification state of a lead's email address.
type EmailStatus string

// Email verification statuses.
const (
	EmailUnverified EmailStatus = "unverified"
	EmailVerifying  EmailStatus = "verifying"
	EmailValid      EmailStatus = "valid"
	EmailRisky      EmailStatus = "risky"
	EmailInvalid    EmailStatus = "invalid"
)

// Lead is one scraped business entity attached to a session.
type Lead struct {
	ID              uuid.UUID       `json:"id"`
	SessionID       uuid.UUID       `json:"session_id"`
	BusinessName    string          `json:"business_name"`
	Address         string          `json:"address,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Email           string          `json:"email,omitempty"`
	Website         string          `json:"website,omitempty"`
	Rating          float64         `json:"rating,omitempty"`
	ReviewsCount    int             `json:"reviews_count,omitempty"`
	Category        string          `json:"category,omitempty"`
	Status          LeadStatus      `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	EmailStatus     EmailStatus     `json:"email_status"`
	EmailVerifiedAt *time.Time      `json:"email_last_verified_at,omitempty"`
	LastActionAt    *time.Time      `json:"last_action_at,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NaturalKey builds the per-user deduplication key. The address defaults to
// the empty string so records without one still collide on the name alone.
func NaturalKey(businessName, address string) string {
	return businessName + "|" + address
}

// Key returns the lead's own natural key.
func (l Lead) Key() string {
	return NaturalKey(l.BusinessName, l.Address)
}

// LeadPatch describes a user-driven lead mutation. Nil fields are untouched.
type LeadPatch struct {
	Status          *LeadStatus
	Notes           *string
	EmailStatus     *EmailStatus
	EmailVerifiedAt *time.Time
	LastActionAt    *time.Time
}

// Phone accepts both JSON forms the worker emits: a bare number or a
// string. Numeric sources are flagged so normalization can prefix them.
type Phone struct {
	Value   string
	Numeric bool
}

// UnmarshalJSON keeps the textual form and records whether the source was numeric.
func (p *Phone) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*p = Phone{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode phone string: %w", err)
		}
		*p = Phone{Value: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode phone number: %w", err)
	}
	*p = Phone{Value: n.String(), Numeric: true}
	return nil
}

// MarshalJSON round-trips the original form.
func (p Phone) MarshalJSON() ([]byte, error) {
	if p.Numeric {
		return []byte(p.Value), nil
	}
	out, err := json.Marshal(p.Value)
	if err != nil {
		return nil, fmt.Errorf("encode phone: %w", err)
	}
	return out, nil
}

// FlexString tolerates numeric JSON values for fields the worker sometimes
// sends as numbers (postal codes in particular).
type FlexString string

// UnmarshalJSON accepts strings, numbers, and null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// RawItem is one record in the worker's scraped batch. Field names follow
// the worker's spreadsheet column headers and must not be changed.
type RawItem struct {
	Category     string          `json:"Nom de catégorie,omitempty"`
	MapsURL      string          `json:"URL Google Maps,omitempty"`
	Title        string          `json:"Titre,omitempty"`
	Street       string          `json:"Rue,omitempty"`
	City         string          `json:"Ville,omitempty"`
	PostalCode   FlexString      `json:"Code postal,omitempty"`
	Email        string          `json:"Email,omitempty"`
	Website      string          `json:"Site web,omitempty"`
	Phone        Phone           `json:"Téléphone,omitempty"`
	Rating       float64         `json:"Score total,omitempty"`
	ReviewsCount int             `json:"Nombre d'avis,omitempty"`
	OpeningHours json.RawMessage `json:"Heures d'ouverture,omitempty"`
	Info         json.RawMessage `json:"Infos,omitempty"`
	Summary      string          `json:"Résumé,omitempty"`
}
