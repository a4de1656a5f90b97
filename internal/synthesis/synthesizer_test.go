package synthesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

type statusUpdate struct {
	status  model.QueryStatus
	message string
}

type fakeSynthStore struct {
	query         *model.Query
	contributions []*model.Contribution
	contacts      map[uuid.UUID]*model.Contact
	updates       []statusUpdate
	saved         *model.CompiledAnswer
	used          map[uuid.UUID]float64
}

func (f *fakeSynthStore) GetQuery(_ context.Context, id uuid.UUID) (*model.Query, error) {
	if f.query == nil || f.query.ID != id {
		return nil, errors.New("query not found")
	}
	return f.query, nil
}

func (f *fakeSynthStore) UpdateQueryStatus(_ context.Context, _ uuid.UUID, status model.QueryStatus, message string) error {
	f.updates = append(f.updates, statusUpdate{status, message})
	return nil
}

func (f *fakeSynthStore) ListContributions(_ context.Context, _ uuid.UUID) ([]*model.Contribution, error) {
	return f.contributions, nil
}

func (f *fakeSynthStore) GetContactsByIDs(_ context.Context, _ []uuid.UUID) (map[uuid.UUID]*model.Contact, error) {
	return f.contacts, nil
}

func (f *fakeSynthStore) SaveCompiledAnswer(_ context.Context, answer *model.CompiledAnswer) error {
	f.saved = answer
	return nil
}

func (f *fakeSynthStore) MarkContributionUsed(_ context.Context, id uuid.UUID, relevance float64) error {
	if f.used == nil {
		f.used = make(map[uuid.UUID]float64)
	}
	f.used[id] = relevance
	return nil
}

type fakeGenerator struct {
	answer *GeneratedAnswer
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ []PromptEntry) (*GeneratedAnswer, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type fakeSettler struct {
	settled *model.CompiledAnswer
	err     error
}

func (f *fakeSettler) Settle(_ context.Context, _ *model.Query, answer *model.CompiledAnswer) error {
	if f.err != nil {
		return f.err
	}
	f.settled = answer
	return nil
}

func synthFixture() (*fakeSynthStore, *model.Contribution, *model.Contribution) {
	queryID := uuid.New()
	alex := &model.Contact{ID: uuid.New(), Name: "Alex Smith"}
	bob := &model.Contact{ID: uuid.New(), Name: "Bob Jones"}

	now := time.Now()
	later := now.Add(time.Minute)
	c1 := &model.Contribution{
		ID: uuid.New(), QueryID: queryID, ContactID: &alex.ID,
		ResponseText: "Use read replicas.", ConfidenceScore: 0.9,
		RequestedAt: now, RespondedAt: &now,
	}
	c2 := &model.Contribution{
		ID: uuid.New(), QueryID: queryID, ContactID: &bob.ID,
		ResponseText: "Partition by time.", ConfidenceScore: 0.7,
		RequestedAt: later, RespondedAt: &later,
	}

	store := &fakeSynthStore{
		query: &model.Query{
			ID: queryID, QuestionText: "How do I scale postgres?",
			Status: model.QueryStatusCollecting,
		},
		contributions: []*model.Contribution{c1, c2},
		contacts:      map[uuid.UUID]*model.Contact{alex.ID: alex, bob.ID: bob},
	}
	return store, c1, c2
}

func TestSynthesizeMultiContribution(t *testing.T) {
	store, c1, c2 := synthFixture()
	gen := &fakeGenerator{answer: &GeneratedAnswer{
		Answer:     "Replicas scale reads [@asmi]. Partitioning helps writes [@bjon]. Replicas aid failover too [@asmi].",
		Summary:    "Replicate and partition.",
		Confidence: 0.85,
		TokensUsed: 1200,
	}}
	settler := &fakeSettler{}

	answer, err := NewSynthesizer(store, gen, settler).Synthesize(context.Background(), store.query.ID)
	require.NoError(t, err)
	require.NotNil(t, answer)

	assert.Equal(t, MethodLLM, answer.CompilationMethod)
	require.Len(t, answer.Citations, 3)

	require.Len(t, store.updates, 2)
	assert.Equal(t, model.QueryStatusCompiling, store.updates[0].status)
	assert.Equal(t, model.QueryStatusCompleted, store.updates[1].status)

	assert.InDelta(t, 2.0/3.0, store.used[c1.ID], 1e-9)
	assert.InDelta(t, 1.0/3.0, store.used[c2.ID], 1e-9)

	require.NotNil(t, store.saved)
	assert.Equal(t, answer.ID, store.saved.ID)
	require.NotNil(t, settler.settled)
	assert.Equal(t, answer.ID, settler.settled.ID)
}

func TestSynthesizeSingleContributionSkipsModel(t *testing.T) {
	store, c1, _ := synthFixture()
	store.contributions = store.contributions[:1]

	gen := &fakeGenerator{err: errors.New("must not be called")}
	answer, err := NewSynthesizer(store, gen, nil).Synthesize(context.Background(), store.query.ID)
	require.NoError(t, err)

	assert.Zero(t, gen.calls)
	assert.Equal(t, MethodSingleContribution, answer.CompilationMethod)
	assert.Contains(t, answer.FinalAnswer, c1.ResponseText)
	// The attribution line names the expert next to the citation marker.
	assert.Contains(t, answer.FinalAnswer, "Answered by Alex Smith [@asmi]")

	require.Len(t, answer.Citations, 1)
	assert.InDelta(t, 1.0, store.used[c1.ID], 1e-9)
	assert.InDelta(t, c1.ConfidenceScore, answer.ConfidenceScore, 1e-9)
}

func TestSynthesizeGenerationFailure(t *testing.T) {
	store, _, _ := synthFixture()
	gen := &fakeGenerator{err: errors.New("model overloaded")}
	settler := &fakeSettler{}

	_, err := NewSynthesizer(store, gen, settler).Synthesize(context.Background(), store.query.ID)
	require.Error(t, err)

	last := store.updates[len(store.updates)-1]
	assert.Equal(t, model.QueryStatusFailed, last.status)
	assert.Contains(t, last.message, "model overloaded")
	assert.Nil(t, settler.settled)
}

func TestSynthesizeNoCitationsFails(t *testing.T) {
	store, _, _ := synthFixture()
	gen := &fakeGenerator{answer: &GeneratedAnswer{Answer: "An answer with no attribution at all."}}

	_, err := NewSynthesizer(store, gen, nil).Synthesize(context.Background(), store.query.ID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no citations")

	last := store.updates[len(store.updates)-1]
	assert.Equal(t, model.QueryStatusFailed, last.status)
	assert.Nil(t, store.saved)
}

func TestSynthesizeNoResponsesFails(t *testing.T) {
	store, _, _ := synthFixture()
	for _, c := range store.contributions {
		c.RespondedAt = nil
	}

	_, err := NewSynthesizer(store, &fakeGenerator{}, nil).Synthesize(context.Background(), store.query.ID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no expert responses")
}

func TestSynthesizeRejectsWrongStatus(t *testing.T) {
	store, _, _ := synthFixture()
	store.query.Status = model.QueryStatusPending

	_, err := NewSynthesizer(store, &fakeGenerator{}, nil).Synthesize(context.Background(), store.query.ID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "pending")
	assert.Empty(t, store.updates)
}

func TestSynthesizeSettlementFailureDoesNotRevert(t *testing.T) {
	store, _, _ := synthFixture()
	gen := &fakeGenerator{answer: &GeneratedAnswer{
		Answer: "Replicas scale reads [@asmi]. Partitioning helps [@bjon].",
	}}
	settler := &fakeSettler{err: errors.New("ledger unavailable")}

	answer, err := NewSynthesizer(store, gen, settler).Synthesize(context.Background(), store.query.ID)
	require.NoError(t, err)
	require.NotNil(t, answer)

	last := store.updates[len(store.updates)-1]
	assert.Equal(t, model.QueryStatusCompleted, last.status)
}
