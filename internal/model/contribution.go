package model

import (
	"time"

	"github.com/google/uuid"
)

// Contribution is one expert's free-text response to one query. A row is
// created when the expert is invited; ResponseText stays empty until a reply
// arrives. At most one contribution exists per (query, contact) pair.
type Contribution struct {
	ID                uuid.UUID  `json:"id"`
	QueryID           uuid.UUID  `json:"query_id"`
	ContactID         *uuid.UUID `json:"contact_id,omitempty"`
	ResponseText      string     `json:"response_text"`
	ConfidenceScore   float64    `json:"confidence_score"`
	RequestedAt       time.Time  `json:"requested_at"`
	RespondedAt       *time.Time `json:"responded_at,omitempty"`
	WasUsed           bool       `json:"was_used"`
	RelevanceScore    float64    `json:"relevance_score"`
	PayoutAmountCents int64      `json:"payout_amount_cents"`
	// DisplayName covers contributions without a linked contact when
	// generating citation handles.
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Responded reports whether the expert has recorded a reply.
func (c *Contribution) Responded() bool {
	return c.RespondedAt != nil
}
