package model

import (
	"time"

	"github.com/google/uuid"
)

// ContactStatus represents the lifecycle state of an expert contact.
type ContactStatus string

const (
	ContactStatusPending   ContactStatus = "pending"
	ContactStatusActive    ContactStatus = "active"
	ContactStatusInactive  ContactStatus = "inactive"
	ContactStatusSuspended ContactStatus = "suspended"
)

// ExpertiseTag is a named area of expertise with a confidence score.
type ExpertiseTag struct {
	Name        string  `json:"name"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Contact is an expert who can be routed questions and paid for cited
// contributions. Contacts are soft-deleted, never removed.
type Contact struct {
	ID                 uuid.UUID      `json:"id"`
	PhoneNumber        string         `json:"phone_number"`
	Email              string         `json:"email,omitempty"`
	Name               string         `json:"name"`
	Bio                string         `json:"bio,omitempty"`
	ExpertiseSummary   string         `json:"expertise_summary,omitempty"`
	ExpertiseTags      []ExpertiseTag `json:"expertise_tags,omitempty"`
	TrustScore         float64        `json:"trust_score"`
	ResponseRate       float64        `json:"response_rate"`
	AvgResponseMinutes float64        `json:"avg_response_time_minutes"`
	IsAvailable        bool           `json:"is_available"`
	MaxQueriesPerDay   int            `json:"max_queries_per_day"`
	TotalEarningsCents int64          `json:"total_earnings_cents"`
	TotalContributions int            `json:"total_contributions"`
	Status             ContactStatus  `json:"status"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          *time.Time     `json:"deleted_at,omitempty"`
}

// Matchable reports whether the contact can be considered as a candidate:
// active, available, and not soft-deleted.
func (c *Contact) Matchable() bool {
	return c.Status == ContactStatusActive && c.IsAvailable && c.DeletedAt == nil
}

// Location returns the location block from the contact's metadata, or nil.
func (c *Contact) Location() map[string]any {
	if c.Metadata == nil {
		return nil
	}
	loc, _ := c.Metadata["location"].(map[string]any)
	return loc
}

// TagNames returns the names of the contact's expertise tags.
func (c *Contact) TagNames() []string {
	names := make([]string, 0, len(c.ExpertiseTags))
	for _, t := range c.ExpertiseTags {
		names = append(names, t.Name)
	}
	return names
}
