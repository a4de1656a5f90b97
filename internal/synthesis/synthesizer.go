package synthesis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// Compilation methods recorded on the answer.
const (
	MethodLLM                = "llm_synthesis"
	MethodSingleContribution = "single_contribution"
)

// Store is the persistence surface the synthesizer needs.
type Store interface {
	GetQuery(ctx context.Context, id uuid.UUID) (*model.Query, error)
	UpdateQueryStatus(ctx context.Context, id uuid.UUID, status model.QueryStatus, errorMessage string) error
	ListContributions(ctx context.Context, queryID uuid.UUID) ([]*model.Contribution, error)
	GetContactsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Contact, error)
	SaveCompiledAnswer(ctx context.Context, answer *model.CompiledAnswer) error
	MarkContributionUsed(ctx context.Context, id uuid.UUID, relevanceScore float64) error
}

// Settler distributes payment for a completed answer. Settlement failures
// never undo a completed answer; they are logged and retried out of band.
type Settler interface {
	Settle(ctx context.Context, query *model.Query, answer *model.CompiledAnswer) error
}

// Synthesizer compiles expert contributions into the query's final answer.
type Synthesizer struct {
	store   Store
	gen     Generator
	settler Settler
}

// NewSynthesizer creates a Synthesizer. The settler may be nil, in which
// case completed answers are left unsettled.
func NewSynthesizer(store Store, gen Generator, settler Settler) *Synthesizer {
	return &Synthesizer{store: store, gen: gen, settler: settler}
}

// Synthesize compiles the answer for one query, persists it with its
// citations, marks the query completed, and triggers settlement.
func (s *Synthesizer) Synthesize(ctx context.Context, queryID uuid.UUID) (*model.CompiledAnswer, error) {
	query, err := s.store.GetQuery(ctx, queryID)
	if err != nil {
		return nil, eris.Wrap(err, "synthesis: load query")
	}

	switch query.Status {
	case model.QueryStatusCollecting:
		if err := s.store.UpdateQueryStatus(ctx, queryID, model.QueryStatusCompiling, ""); err != nil {
			return nil, eris.Wrap(err, "synthesis: mark compiling")
		}
	case model.QueryStatusCompiling:
		// Already mid-compile, likely a retry.
	default:
		return nil, eris.New(fmt.Sprintf("synthesis: query in status %s cannot be compiled", query.Status))
	}

	all, err := s.store.ListContributions(ctx, queryID)
	if err != nil {
		return nil, eris.Wrap(err, "synthesis: list contributions")
	}

	var responded []*model.Contribution
	for _, c := range all {
		if c.Responded() && c.ResponseText != "" {
			responded = append(responded, c)
		}
	}
	if len(responded) == 0 {
		return nil, s.fail(ctx, queryID, "no expert responses to compile")
	}
	sort.Slice(responded, func(i, j int) bool {
		return responded[i].RequestedAt.Before(responded[j].RequestedAt)
	})

	contacts, err := s.store.GetContactsByIDs(ctx, contactIDs(responded))
	if err != nil {
		return nil, eris.Wrap(err, "synthesis: load contributors")
	}
	handles := AssignHandles(responded, contacts)

	byHandle := make(map[string]*model.Contribution, len(responded))
	for _, c := range responded {
		byHandle[handles[c.ID]] = c
	}

	var gen *GeneratedAnswer
	method := MethodLLM
	if len(responded) == 1 {
		gen = singleContributionAnswer(responded[0], handles[responded[0].ID], contributorName(responded[0], contacts))
		method = MethodSingleContribution
	} else {
		entries := make([]PromptEntry, len(responded))
		for i, c := range responded {
			entries[i] = PromptEntry{Handle: handles[c.ID], Text: c.ResponseText}
		}

		gen, err = s.gen.Generate(ctx, query.QuestionText, entries)
		if err != nil {
			failErr := s.fail(ctx, queryID, "answer generation failed: "+err.Error())
			zap.L().Error("synthesis: generation failed",
				zap.String("query_id", queryID.String()),
				zap.Error(err),
			)
			return nil, failErr
		}
	}

	answerID := uuid.New()
	citations := ExtractCitations(answerID, gen.Answer, byHandle)
	if len(citations) == 0 {
		return nil, s.fail(ctx, queryID, "compiled answer contains no citations")
	}

	weights := ComputeWeights(citations)
	for id, w := range weights {
		if err := s.store.MarkContributionUsed(ctx, id, w); err != nil {
			return nil, eris.Wrap(err, "synthesis: mark contribution used")
		}
	}

	now := time.Now()
	answer := &model.CompiledAnswer{
		ID:                    answerID,
		QueryID:               queryID,
		FinalAnswer:           gen.Answer,
		Summary:               gen.Summary,
		ConfidenceScore:       gen.Confidence,
		CompilationMethod:     method,
		CompilationPrompt:     gen.Prompt,
		CompilationTokensUsed: gen.TokensUsed,
		KeyInsights:           gen.KeyInsights,
		Citations:             citations,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.SaveCompiledAnswer(ctx, answer); err != nil {
		return nil, eris.Wrap(err, "synthesis: save answer")
	}

	if err := s.store.UpdateQueryStatus(ctx, queryID, model.QueryStatusCompleted, ""); err != nil {
		return nil, eris.Wrap(err, "synthesis: mark completed")
	}

	zap.L().Info("synthesis: answer compiled",
		zap.String("query_id", queryID.String()),
		zap.String("method", method),
		zap.Int("contributions", len(responded)),
		zap.Int("citations", len(citations)),
	)

	if s.settler != nil {
		if err := s.settler.Settle(ctx, query, answer); err != nil {
			zap.L().Error("synthesis: settlement failed, answer stands",
				zap.String("query_id", queryID.String()),
				zap.Error(err),
			)
		}
	}

	return answer, nil
}

// singleContributionAnswer short-circuits the LLM when only one expert
// responded: the answer is their text followed by an attribution line naming
// the expert alongside the citation marker.
func singleContributionAnswer(c *model.Contribution, handle, name string) *GeneratedAnswer {
	if name == "" {
		name = "an anonymous expert"
	}
	return &GeneratedAnswer{
		Answer:     fmt.Sprintf("%s\n\nAnswered by %s [@%s].", c.ResponseText, name, handle),
		Summary:    truncate(c.ResponseText, excerptLen),
		Confidence: c.ConfidenceScore,
	}
}

// contributorName resolves the name shown for a contribution, preferring the
// contact record over the free-form display name.
func contributorName(c *model.Contribution, contacts map[uuid.UUID]*model.Contact) string {
	if c.ContactID != nil {
		if contact, ok := contacts[*c.ContactID]; ok && contact.Name != "" {
			return contact.Name
		}
	}
	return c.DisplayName
}

// fail moves the query to failed with the given message and returns it as
// the synthesis error. The status update is best effort.
func (s *Synthesizer) fail(ctx context.Context, queryID uuid.UUID, message string) error {
	if err := s.store.UpdateQueryStatus(ctx, queryID, model.QueryStatusFailed, message); err != nil {
		zap.L().Error("synthesis: failed to record failure",
			zap.String("query_id", queryID.String()),
			zap.Error(err),
		)
	}
	return eris.New("synthesis: " + message)
}

func contactIDs(contributions []*model.Contribution) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(contributions))
	seen := make(map[uuid.UUID]struct{}, len(contributions))
	for _, c := range contributions {
		if c.ContactID == nil {
			continue
		}
		if _, dup := seen[*c.ContactID]; dup {
			continue
		}
		seen[*c.ContactID] = struct{}{}
		ids = append(ids, *c.ContactID)
	}
	return ids
}
