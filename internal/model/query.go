package model

import (
	"time"

	"github.com/google/uuid"
)

// QueryStatus represents the lifecycle state of a query.
type QueryStatus string

const (
	QueryStatusPending    QueryStatus = "pending"
	QueryStatusRouting    QueryStatus = "routing"
	QueryStatusCollecting QueryStatus = "collecting"
	QueryStatusCompiling  QueryStatus = "compiling"
	QueryStatusCompleted  QueryStatus = "completed"
	QueryStatusFailed     QueryStatus = "failed"
	QueryStatusCancelled  QueryStatus = "cancelled"
)

// validTransitions is the full lifecycle table. Terminal states have no
// outgoing transitions.
var validTransitions = map[QueryStatus][]QueryStatus{
	QueryStatusPending:    {QueryStatusRouting, QueryStatusFailed, QueryStatusCancelled},
	QueryStatusRouting:    {QueryStatusCollecting, QueryStatusFailed, QueryStatusCancelled},
	QueryStatusCollecting: {QueryStatusCompiling, QueryStatusFailed, QueryStatusCancelled},
	QueryStatusCompiling:  {QueryStatusCompleted, QueryStatusFailed},
	QueryStatusCompleted:  {},
	QueryStatusFailed:     {},
	QueryStatusCancelled:  {},
}

// CanTransitionTo reports whether moving from s to next is a valid
// lifecycle transition.
func (s QueryStatus) CanTransitionTo(next QueryStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s QueryStatus) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Query is one user question moving through the routing, collection,
// synthesis, and settlement pipeline.
type Query struct {
	ID               uuid.UUID      `json:"id"`
	UserPhone        string         `json:"user_phone"`
	QuestionText     string         `json:"question_text"`
	Status           QueryStatus    `json:"status"`
	MinExperts       int            `json:"min_experts"`
	MaxExperts       int            `json:"max_experts"`
	TimeoutMinutes   int            `json:"timeout_minutes"`
	TotalCostCents   int64          `json:"total_cost_cents"`
	PlatformFeeCents int64          `json:"platform_fee_cents"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        *time.Time     `json:"deleted_at,omitempty"`
}

// MatchScores is the per-component score breakdown for one candidate.
// EmbeddingSimilarity is keyword overlap under the hood; the name is kept
// for wire compatibility with earlier clients.
type MatchScores struct {
	EmbeddingSimilarity float64 `json:"embedding_similarity"`
	TagOverlap          float64 `json:"tag_overlap"`
	TrustScore          float64 `json:"trust_score"`
	AvailabilityBoost   float64 `json:"availability_boost"`
	ResponsivenessRate  float64 `json:"responsiveness_rate"`
	GeographicBoost     float64 `json:"geographic_boost"`
	FinalScore          float64 `json:"final_score"`
}

// MatchRecord is a stored match result for a query. These were previously
// stashed in the query's context bag; they are first-class rows now so
// concurrent updates don't race on a single JSON blob.
type MatchRecord struct {
	ID                 uuid.UUID   `json:"id"`
	QueryID            uuid.UUID   `json:"query_id"`
	ContactID          uuid.UUID   `json:"contact_id"`
	Scores             MatchScores `json:"scores"`
	Reasons            []string    `json:"reasons,omitempty"`
	WaveGroup          int         `json:"wave_group"`
	DistanceKm         *float64    `json:"distance_km,omitempty"`
	TimezoneOffset     *int        `json:"timezone_offset,omitempty"`
	AvailabilityStatus string      `json:"availability_status"`
	RecentQueryCount   int         `json:"recent_query_count"`
	CreatedAt          time.Time   `json:"created_at"`
}

// OutreachStatus is the delivery outcome for one expert notification.
type OutreachStatus string

const (
	OutreachStatusSent    OutreachStatus = "sent"
	OutreachStatusFailed  OutreachStatus = "failed"
	OutreachStatusSkipped OutreachStatus = "skipped"
)

// OutreachRecord is one notification attempt to one expert for one query.
// The 24-hour recent-contact exclusion and the 7-day query count both scan
// these rows.
type OutreachRecord struct {
	ID        uuid.UUID      `json:"id"`
	QueryID   uuid.UUID      `json:"query_id"`
	ContactID uuid.UUID      `json:"contact_id"`
	Channel   string         `json:"channel"`
	Status    OutreachStatus `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
