package model

import (
	"time"

	"github.com/google/uuid"
)

// CompiledAnswer is the synthesized answer for a query. Exactly one exists
// per query once synthesis succeeds.
type CompiledAnswer struct {
	ID                    uuid.UUID  `json:"id"`
	QueryID               uuid.UUID  `json:"query_id"`
	FinalAnswer           string     `json:"final_answer"`
	Summary               string     `json:"summary,omitempty"`
	ConfidenceScore       float64    `json:"confidence_score"`
	CompilationMethod     string     `json:"compilation_method"`
	CompilationPrompt     string     `json:"compilation_prompt,omitempty"`
	CompilationTokensUsed int64      `json:"compilation_tokens_used"`
	KeyInsights           []string   `json:"key_insights,omitempty"`
	Citations             []Citation `json:"citations,omitempty"`
	AcceptedAt            *time.Time `json:"accepted_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Citation links one claim in the compiled answer back to the contribution
// it came from. Confidence is copied from the contribution's self-reported
// score; a true per-claim confidence from the generative step is a known
// open item.
type Citation struct {
	ID               uuid.UUID  `json:"id"`
	CompiledAnswerID uuid.UUID  `json:"compiled_answer_id"`
	ContributionID   uuid.UUID  `json:"contribution_id"`
	ContactID        *uuid.UUID `json:"contact_id,omitempty"`
	Handle           string     `json:"handle"`
	ClaimText        string     `json:"claim_text"`
	SourceExcerpt    string     `json:"source_excerpt"`
	PositionInAnswer int        `json:"position_in_answer"`
	Confidence       float64    `json:"confidence"`
	CreatedAt        time.Time  `json:"created_at"`
}
