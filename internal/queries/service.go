// Package queries manages query lifecycle: creation, status transitions,
// and progress snapshots.
package queries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/config"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/store"
)

// ErrInvalidTransition marks a rejected status change.
var ErrInvalidTransition = errors.New("queries: invalid status transition")

// Defaults applied when a create request leaves fields unset.
const (
	defaultMinExperts     = 3
	defaultMaxExperts     = 10
	defaultTimeoutMinutes = 60
)

// Store is the persistence surface the service needs.
type Store interface {
	CreateQuery(ctx context.Context, query *model.Query) error
	GetQuery(ctx context.Context, id uuid.UUID) (*model.Query, error)
	ListQueries(ctx context.Context, filter Filter) ([]*model.Query, error)
	UpdateQueryStatus(ctx context.Context, id uuid.UUID, status model.QueryStatus, errorMessage string) error
	ListContributions(ctx context.Context, queryID uuid.UUID) ([]*model.Contribution, error)
	ListMatches(ctx context.Context, queryID uuid.UUID) ([]*model.MatchRecord, error)
	// GetCompiledAnswer returns nil when the query has no answer yet.
	GetCompiledAnswer(ctx context.Context, queryID uuid.UUID) (*model.CompiledAnswer, error)
	MarkAnswerAccepted(ctx context.Context, queryID uuid.UUID) error
}

// Filter narrows ListQueries.
type Filter = store.QueryFilter

// CreateParams are the caller-supplied fields for a new query.
type CreateParams struct {
	UserPhone      string
	QuestionText   string
	MinExperts     int
	MaxExperts     int
	TimeoutMinutes int
	TotalCostCents int64
	Context        map[string]any
}

// ProceedPolicy decides when a collecting query has enough responses to
// compile. Pluggable so operators can trade answer quality for latency.
type ProceedPolicy interface {
	ShouldProceed(query *model.Query, contributions []*model.Contribution) bool
}

type minResponses struct {
	n int
}

// MinResponses proceeds once at least n contributions have responses.
func MinResponses(n int) ProceedPolicy {
	return minResponses{n: n}
}

func (p minResponses) ShouldProceed(_ *model.Query, contributions []*model.Contribution) bool {
	responded := 0
	for _, c := range contributions {
		if c.Responded() && c.ResponseText != "" {
			responded++
		}
	}
	return responded >= p.n
}

// Service manages query lifecycle.
type Service struct {
	store  Store
	cfg    config.LedgerConfig
	policy ProceedPolicy
}

// NewService creates a Service. A nil policy defaults to requiring a single
// response.
func NewService(store Store, cfg config.LedgerConfig, policy ProceedPolicy) *Service {
	if policy == nil {
		policy = MinResponses(1)
	}
	return &Service{store: store, cfg: cfg, policy: policy}
}

// Create validates and persists a new query in pending status. The budget
// must cover the per-expert price for at least the minimum expert count.
func (s *Service) Create(ctx context.Context, params CreateParams) (*model.Query, error) {
	if params.UserPhone == "" {
		return nil, eris.New("queries: user phone is required")
	}
	if params.QuestionText == "" {
		return nil, eris.New("queries: question text is required")
	}

	if params.MinExperts <= 0 {
		params.MinExperts = defaultMinExperts
	}
	if params.MaxExperts <= 0 {
		params.MaxExperts = defaultMaxExperts
	}
	if params.MaxExperts < params.MinExperts {
		return nil, eris.New("queries: max experts below min experts")
	}
	if params.TimeoutMinutes <= 0 {
		params.TimeoutMinutes = defaultTimeoutMinutes
	}

	minBudget := int64(params.MinExperts) * s.cfg.QueryPriceCents
	if params.TotalCostCents == 0 {
		params.TotalCostCents = minBudget
	}
	if params.TotalCostCents < minBudget {
		return nil, eris.New(fmt.Sprintf(
			"queries: budget %d cents cannot cover %d experts at %d cents each",
			params.TotalCostCents, params.MinExperts, s.cfg.QueryPriceCents,
		))
	}

	now := time.Now()
	query := &model.Query{
		ID:             uuid.New(),
		UserPhone:      params.UserPhone,
		QuestionText:   params.QuestionText,
		Status:         model.QueryStatusPending,
		MinExperts:     params.MinExperts,
		MaxExperts:     params.MaxExperts,
		TimeoutMinutes: params.TimeoutMinutes,
		TotalCostCents: params.TotalCostCents,
		Context:        params.Context,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateQuery(ctx, query); err != nil {
		return nil, eris.Wrap(err, "queries: create")
	}

	zap.L().Info("queries: created",
		zap.String("query_id", query.ID.String()),
		zap.Int64("total_cost_cents", query.TotalCostCents),
	)

	return query, nil
}

// Get returns one query.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Query, error) {
	query, err := s.store.GetQuery(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "queries: get")
	}
	return query, nil
}

// List returns queries matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*model.Query, error) {
	out, err := s.store.ListQueries(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "queries: list")
	}
	return out, nil
}

// UpdateStatus moves a query to a new status, enforcing the lifecycle table.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status model.QueryStatus, errorMessage string) error {
	query, err := s.store.GetQuery(ctx, id)
	if err != nil {
		return eris.Wrap(err, "queries: get for status update")
	}

	if !query.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, query.Status, status)
	}

	if err := s.store.UpdateQueryStatus(ctx, id, status, errorMessage); err != nil {
		return eris.Wrap(err, "queries: update status")
	}

	zap.L().Info("queries: status changed",
		zap.String("query_id", id.String()),
		zap.String("from", string(query.Status)),
		zap.String("to", string(status)),
	)
	return nil
}

// Cancel moves a query to cancelled if its current state allows it.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	return s.UpdateStatus(ctx, id, model.QueryStatusCancelled, reason)
}

// ReadyForSynthesis reports whether the proceed policy is satisfied for a
// collecting query.
func (s *Service) ReadyForSynthesis(ctx context.Context, id uuid.UUID) (bool, error) {
	query, err := s.store.GetQuery(ctx, id)
	if err != nil {
		return false, eris.Wrap(err, "queries: get for readiness")
	}
	if query.Status != model.QueryStatusCollecting {
		return false, nil
	}

	contributions, err := s.store.ListContributions(ctx, id)
	if err != nil {
		return false, eris.Wrap(err, "queries: list contributions")
	}
	return s.policy.ShouldProceed(query, contributions), nil
}

// AcceptAnswer records the requester's acceptance of a completed query's
// answer.
func (s *Service) AcceptAnswer(ctx context.Context, id uuid.UUID) (*model.CompiledAnswer, error) {
	query, err := s.store.GetQuery(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "queries: get for acceptance")
	}
	if query.Status != model.QueryStatusCompleted {
		return nil, eris.New(fmt.Sprintf("queries: cannot accept answer for %s query", query.Status))
	}

	if err := s.store.MarkAnswerAccepted(ctx, id); err != nil {
		return nil, eris.Wrap(err, "queries: mark answer accepted")
	}

	answer, err := s.store.GetCompiledAnswer(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "queries: load accepted answer")
	}

	zap.L().Info("queries: answer accepted", zap.String("query_id", id.String()))
	return answer, nil
}

// Snapshot is a progress report for one query.
type Snapshot struct {
	Query             *model.Query          `json:"query"`
	MatchedExperts    int                   `json:"matched_experts"`
	InvitedExperts    int                   `json:"invited_experts"`
	ReceivedResponses int                   `json:"received_responses"`
	ProgressPercent   int                   `json:"progress_percent"`
	Answer            *model.CompiledAnswer `json:"answer,omitempty"`
	ReadyForSynthesis bool                  `json:"ready_for_synthesis"`
}

// progressPercent maps lifecycle state to a coarse completion figure. A
// collecting query advances between 50 and 75 with each received response.
func progressPercent(status model.QueryStatus, received, invited int) int {
	switch status {
	case model.QueryStatusPending:
		return 10
	case model.QueryStatusRouting:
		return 25
	case model.QueryStatusCollecting:
		if invited == 0 {
			return 50
		}
		return 50 + 25*received/invited
	case model.QueryStatusCompiling:
		return 90
	case model.QueryStatusCompleted, model.QueryStatusFailed, model.QueryStatusCancelled:
		return 100
	default:
		return 0
	}
}

// Status assembles the progress snapshot for one query.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	query, err := s.store.GetQuery(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "queries: get for status")
	}

	matches, err := s.store.ListMatches(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "queries: list matches")
	}

	contributions, err := s.store.ListContributions(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "queries: list contributions")
	}
	received := 0
	for _, c := range contributions {
		if c.Responded() && c.ResponseText != "" {
			received++
		}
	}

	answer, err := s.store.GetCompiledAnswer(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "queries: load answer")
	}

	return &Snapshot{
		Query:             query,
		MatchedExperts:    len(matches),
		InvitedExperts:    len(contributions),
		ReceivedResponses: received,
		ProgressPercent:   progressPercent(query.Status, received, len(contributions)),
		Answer:            answer,
		ReadyForSynthesis: query.Status == model.QueryStatusCollecting && s.policy.ShouldProceed(query, contributions),
	}, nil
}
