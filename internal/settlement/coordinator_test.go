package settlement

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/config"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/ledger"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

type memLedgerStore struct {
	split   *model.PayoutSplit
	entries []*model.LedgerEntry
}

func (m *memLedgerStore) GetPayoutSplit(_ context.Context, queryID uuid.UUID) (*model.PayoutSplit, error) {
	if m.split != nil && m.split.QueryID == queryID {
		return m.split, nil
	}
	return nil, nil
}

func (m *memLedgerStore) SavePayoutSplit(_ context.Context, split *model.PayoutSplit) error {
	m.split = split
	return nil
}

func (m *memLedgerStore) InsertLedgerEntries(_ context.Context, entries []*model.LedgerEntry) error {
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memLedgerStore) AccountEntries(_ context.Context, _, _ string, _ int) ([]*model.LedgerEntry, error) {
	return nil, nil
}

func (m *memLedgerStore) EntriesByTransaction(_ context.Context, _ uuid.UUID) ([]*model.LedgerEntry, error) {
	return nil, nil
}

func (m *memLedgerStore) AddContactEarnings(_ context.Context, _ uuid.UUID, _ int64) error {
	return nil
}

func (m *memLedgerStore) SetContributionPayout(_ context.Context, _ uuid.UUID, _ int64) error {
	return nil
}

type payoutNote struct {
	contactID uuid.UUID
	amount    int64
}

type fakeNotifier struct {
	notes []payoutNote
	err   error
}

func (f *fakeNotifier) NotifyPayout(_ context.Context, contactID, _ uuid.UUID, amount int64) error {
	if f.err != nil {
		return f.err
	}
	f.notes = append(f.notes, payoutNote{contactID, amount})
	return nil
}

func fixture() (*model.Query, *model.CompiledAnswer, uuid.UUID) {
	query := &model.Query{
		ID:             uuid.New(),
		UserPhone:      "+15550001111",
		Status:         model.QueryStatusCompleted,
		TotalCostCents: 500,
	}
	contactID := uuid.New()
	answer := &model.CompiledAnswer{
		ID:      uuid.New(),
		QueryID: query.ID,
		Citations: []model.Citation{
			{ID: uuid.New(), ContributionID: uuid.New(), ContactID: &contactID},
		},
	}
	return query, answer, contactID
}

func newCoordinator(store ledger.Store, notifier Notifier) *Coordinator {
	cfg := config.LedgerConfig{ContributorPoolPct: 0.70, PlatformPct: 0.20, ReferralPct: 0.10}
	return NewCoordinator(ledger.NewEngine(store, cfg), notifier)
}

func TestSettleNotifiesContributors(t *testing.T) {
	store := &memLedgerStore{}
	notifier := &fakeNotifier{}
	query, answer, contactID := fixture()

	err := newCoordinator(store, notifier).Settle(context.Background(), query, answer)
	require.NoError(t, err)

	require.Len(t, notifier.notes, 1)
	assert.Equal(t, contactID, notifier.notes[0].contactID)
	assert.Equal(t, int64(350), notifier.notes[0].amount)
	require.NotNil(t, store.split)
}

func TestSettleDuplicateIsNoOp(t *testing.T) {
	store := &memLedgerStore{}
	query, answer, _ := fixture()

	coord := newCoordinator(store, nil)
	require.NoError(t, coord.Settle(context.Background(), query, answer))

	entries := len(store.entries)
	require.NoError(t, coord.Settle(context.Background(), query, answer))
	assert.Len(t, store.entries, entries)
}

func TestSettlePropagatesLedgerErrors(t *testing.T) {
	store := &memLedgerStore{}
	query, answer, _ := fixture()
	answer.Citations = nil

	err := newCoordinator(store, nil).Settle(context.Background(), query, answer)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrNoCitations)
}

func TestSettleNotifierFailureIsLoggedOnly(t *testing.T) {
	store := &memLedgerStore{}
	notifier := &fakeNotifier{err: assert.AnError}
	query, answer, _ := fixture()

	err := newCoordinator(store, notifier).Settle(context.Background(), query, answer)
	require.NoError(t, err)
	require.NotNil(t, store.split)
}
