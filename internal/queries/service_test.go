package queries

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/config"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

type fakeQueryStore struct {
	queries       map[uuid.UUID]*model.Query
	contributions map[uuid.UUID][]*model.Contribution
	matches       map[uuid.UUID][]*model.MatchRecord
	answers       map[uuid.UUID]*model.CompiledAnswer
}

func newFakeQueryStore() *fakeQueryStore {
	return &fakeQueryStore{
		queries:       make(map[uuid.UUID]*model.Query),
		contributions: make(map[uuid.UUID][]*model.Contribution),
		matches:       make(map[uuid.UUID][]*model.MatchRecord),
		answers:       make(map[uuid.UUID]*model.CompiledAnswer),
	}
}

func (f *fakeQueryStore) CreateQuery(_ context.Context, q *model.Query) error {
	f.queries[q.ID] = q
	return nil
}

func (f *fakeQueryStore) GetQuery(_ context.Context, id uuid.UUID) (*model.Query, error) {
	q, ok := f.queries[id]
	if !ok {
		return nil, errors.New("query not found")
	}
	return q, nil
}

func (f *fakeQueryStore) ListQueries(_ context.Context, filter Filter) ([]*model.Query, error) {
	var out []*model.Query
	for _, q := range f.queries {
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		if filter.UserPhone != "" && q.UserPhone != filter.UserPhone {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (f *fakeQueryStore) UpdateQueryStatus(_ context.Context, id uuid.UUID, status model.QueryStatus, message string) error {
	q, ok := f.queries[id]
	if !ok {
		return errors.New("query not found")
	}
	q.Status = status
	q.ErrorMessage = message
	return nil
}

func (f *fakeQueryStore) ListContributions(_ context.Context, queryID uuid.UUID) ([]*model.Contribution, error) {
	return f.contributions[queryID], nil
}

func (f *fakeQueryStore) ListMatches(_ context.Context, queryID uuid.UUID) ([]*model.MatchRecord, error) {
	return f.matches[queryID], nil
}

func (f *fakeQueryStore) GetCompiledAnswer(_ context.Context, queryID uuid.UUID) (*model.CompiledAnswer, error) {
	return f.answers[queryID], nil
}

func (f *fakeQueryStore) MarkAnswerAccepted(_ context.Context, queryID uuid.UUID) error {
	a, ok := f.answers[queryID]
	if !ok {
		return errors.New("answer not found")
	}
	now := time.Now()
	a.AcceptedAt = &now
	return nil
}

func ledgerConfig() config.LedgerConfig {
	return config.LedgerConfig{
		ContributorPoolPct: 0.70,
		PlatformPct:        0.20,
		ReferralPct:        0.10,
		QueryPriceCents:    50,
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	store := newFakeQueryStore()
	svc := NewService(store, ledgerConfig(), nil)

	q, err := svc.Create(context.Background(), CreateParams{
		UserPhone:    "+15550001111",
		QuestionText: "How do I scale postgres?",
	})
	require.NoError(t, err)

	assert.Equal(t, model.QueryStatusPending, q.Status)
	assert.Equal(t, defaultMinExperts, q.MinExperts)
	assert.Equal(t, defaultMaxExperts, q.MaxExperts)
	assert.Equal(t, defaultTimeoutMinutes, q.TimeoutMinutes)
	// Default budget covers the minimum expert count at the per-expert price.
	assert.Equal(t, int64(150), q.TotalCostCents)
	assert.Contains(t, store.queries, q.ID)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newFakeQueryStore(), ledgerConfig(), nil)

	tests := []struct {
		name    string
		params  CreateParams
		wantErr string
	}{
		{
			name:    "missing phone",
			params:  CreateParams{QuestionText: "q"},
			wantErr: "user phone",
		},
		{
			name:    "missing question",
			params:  CreateParams{UserPhone: "+15550001111"},
			wantErr: "question text",
		},
		{
			name: "max below min",
			params: CreateParams{
				UserPhone: "+15550001111", QuestionText: "q",
				MinExperts: 5, MaxExperts: 2,
			},
			wantErr: "max experts below min",
		},
		{
			name: "budget too small",
			params: CreateParams{
				UserPhone: "+15550001111", QuestionText: "q",
				MinExperts: 3, TotalCostCents: 100,
			},
			wantErr: "cannot cover",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.params)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestUpdateStatusEnforcesLifecycle(t *testing.T) {
	store := newFakeQueryStore()
	svc := NewService(store, ledgerConfig(), nil)

	q, err := svc.Create(context.Background(), CreateParams{
		UserPhone: "+15550001111", QuestionText: "q",
	})
	require.NoError(t, err)

	// pending -> routing -> collecting is legal.
	require.NoError(t, svc.UpdateStatus(context.Background(), q.ID, model.QueryStatusRouting, ""))
	require.NoError(t, svc.UpdateStatus(context.Background(), q.ID, model.QueryStatusCollecting, ""))

	// collecting -> completed skips compiling.
	err = svc.UpdateStatus(context.Background(), q.ID, model.QueryStatusCompleted, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorContains(t, err, "collecting to completed")
	assert.Equal(t, model.QueryStatusCollecting, store.queries[q.ID].Status)
}

func TestUpdateStatusTerminalStatesAreFinal(t *testing.T) {
	store := newFakeQueryStore()
	svc := NewService(store, ledgerConfig(), nil)

	q, err := svc.Create(context.Background(), CreateParams{
		UserPhone: "+15550001111", QuestionText: "q",
	})
	require.NoError(t, err)
	require.NoError(t, svc.UpdateStatus(context.Background(), q.ID, model.QueryStatusFailed, "timed out"))

	for _, next := range []model.QueryStatus{
		model.QueryStatusPending, model.QueryStatusRouting, model.QueryStatusCompleted,
	} {
		err := svc.UpdateStatus(context.Background(), q.ID, next, "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
}

func TestCancel(t *testing.T) {
	store := newFakeQueryStore()
	svc := NewService(store, ledgerConfig(), nil)

	q, err := svc.Create(context.Background(), CreateParams{
		UserPhone: "+15550001111", QuestionText: "q",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), q.ID, "user asked"))
	assert.Equal(t, model.QueryStatusCancelled, store.queries[q.ID].Status)
	assert.Equal(t, "user asked", store.queries[q.ID].ErrorMessage)
}

func respondedAt(tm time.Time) *time.Time {
	return &tm
}

func TestReadyForSynthesis(t *testing.T) {
	store := newFakeQueryStore()
	svc := NewService(store, ledgerConfig(), MinResponses(2))

	q, err := svc.Create(context.Background(), CreateParams{
		UserPhone: "+15550001111", QuestionText: "q",
	})
	require.NoError(t, err)
	store.queries[q.ID].Status = model.QueryStatusCollecting

	now := time.Now()
	store.contributions[q.ID] = []*model.Contribution{
		{ID: uuid.New(), ResponseText: "a", RespondedAt: respondedAt(now)},
		{ID: uuid.New()}, // invited, no reply
	}

	ready, err := svc.ReadyForSynthesis(context.Background(), q.ID)
	require.NoError(t, err)
	assert.False(t, ready)

	store.contributions[q.ID] = append(store.contributions[q.ID], &model.Contribution{
		ID: uuid.New(), ResponseText: "b", RespondedAt: respondedAt(now),
	})

	ready, err = svc.ReadyForSynthesis(context.Background(), q.ID)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestReadyForSynthesisWrongStatus(t *testing.T) {
	store := newFakeQueryStore()
	svc := NewService(store, ledgerConfig(), nil)

	q, err := svc.Create(context.Background(), CreateParams{
		UserPhone: "+15550001111", QuestionText: "q",
	})
	require.NoError(t, err)

	ready, err := svc.ReadyForSynthesis(context.Background(), q.ID)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestStatusSnapshot(t *testing.T) {
	store := newFakeQueryStore()
	svc := NewService(store, ledgerConfig(), nil)

	q, err := svc.Create(context.Background(), CreateParams{
		UserPhone: "+15550001111", QuestionText: "q",
	})
	require.NoError(t, err)
	store.queries[q.ID].Status = model.QueryStatusCollecting

	now := time.Now()
	store.matches[q.ID] = []*model.MatchRecord{{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()}}
	store.contributions[q.ID] = []*model.Contribution{
		{ID: uuid.New(), ResponseText: "a", RespondedAt: respondedAt(now)},
		{ID: uuid.New()},
	}

	snap, err := svc.Status(context.Background(), q.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.MatchedExperts)
	assert.Equal(t, 2, snap.InvitedExperts)
	assert.Equal(t, 1, snap.ReceivedResponses)
	// Collecting with 1 of 2 responses: 50 + 25*1/2.
	assert.Equal(t, 62, snap.ProgressPercent)
	assert.Nil(t, snap.Answer)
	assert.True(t, snap.ReadyForSynthesis)
}

func TestAcceptAnswer(t *testing.T) {
	store := newFakeQueryStore()
	svc := NewService(store, ledgerConfig(), nil)

	q, err := svc.Create(context.Background(), CreateParams{
		UserPhone: "+15550001111", QuestionText: "q",
	})
	require.NoError(t, err)
	store.answers[q.ID] = &model.CompiledAnswer{ID: uuid.New(), QueryID: q.ID, FinalAnswer: "use indexes"}

	// Only completed queries can have their answer accepted.
	_, err = svc.AcceptAnswer(context.Background(), q.ID)
	assert.ErrorContains(t, err, "cannot accept")

	store.queries[q.ID].Status = model.QueryStatusCompleted
	answer, err := svc.AcceptAnswer(context.Background(), q.ID)
	require.NoError(t, err)
	require.NotNil(t, answer.AcceptedAt)
	assert.Equal(t, "use indexes", answer.FinalAnswer)
}
