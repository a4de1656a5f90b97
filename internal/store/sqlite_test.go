package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testContact(phone string) *model.Contact {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Contact{
		ID:          uuid.New(),
		PhoneNumber: phone,
		Name:        "Alex Smith",
		Bio:         "Backend engineer",
		ExpertiseTags: []model.ExpertiseTag{
			{Name: "postgresql", Category: "databases", Confidence: 0.9},
		},
		TrustScore:       0.8,
		IsAvailable:      true,
		MaxQueriesPerDay: 10,
		Status:           model.ContactStatusActive,
		Metadata:         map[string]any{"channels": []any{"sms"}},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func testQuery(phone string) *model.Query {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Query{
		ID:             uuid.New(),
		UserPhone:      phone,
		QuestionText:   "how do I tune postgres for writes?",
		Status:         model.QueryStatusPending,
		MinExperts:     3,
		MaxExperts:     10,
		TimeoutMinutes: 60,
		TotalCostCents: 500,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestContactRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testContact("+15550001111")
	require.NoError(t, s.CreateContact(ctx, c))

	got, err := s.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.PhoneNumber, got.PhoneNumber)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, c.ExpertiseTags, got.ExpertiseTags)
	assert.Equal(t, c.TrustScore, got.TrustScore)
	assert.True(t, got.IsAvailable)
	assert.Equal(t, model.ContactStatusActive, got.Status)
	require.NotNil(t, got.Metadata)

	got.Name = "Alexandra Smith"
	got.TrustScore = 0.9
	require.NoError(t, s.UpdateContact(ctx, got))

	updated, err := s.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alexandra Smith", updated.Name)
	assert.Equal(t, 0.9, updated.TrustScore)
}

func TestGetContactNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetContact(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetContactsByIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testContact("+15550001111")
	b := testContact("+15550002222")
	require.NoError(t, s.CreateContact(ctx, a))
	require.NoError(t, s.CreateContact(ctx, b))

	got, err := s.GetContactsByIDs(ctx, []uuid.UUID{a.ID, b.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.PhoneNumber, got[a.ID].PhoneNumber)
	assert.Equal(t, b.PhoneNumber, got[b.ID].PhoneNumber)

	empty, err := s.GetContactsByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListContactsOnlyMatchable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := testContact("+15550001111")
	require.NoError(t, s.CreateContact(ctx, active))

	suspended := testContact("+15550002222")
	suspended.Status = model.ContactStatusSuspended
	require.NoError(t, s.CreateContact(ctx, suspended))

	unavailable := testContact("+15550003333")
	unavailable.IsAvailable = false
	require.NoError(t, s.CreateContact(ctx, unavailable))

	got, err := s.ListContacts(ctx, ContactFilter{OnlyMatchable: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)
}

func TestAddContactEarnings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testContact("+15550001111")
	require.NoError(t, s.CreateContact(ctx, c))

	require.NoError(t, s.AddContactEarnings(ctx, c.ID, 175))
	require.NoError(t, s.AddContactEarnings(ctx, c.ID, 105))

	got, err := s.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(280), got.TotalEarningsCents)
	assert.Equal(t, 2, got.TotalContributions)

	assert.ErrorIs(t, s.AddContactEarnings(ctx, uuid.New(), 50), ErrNotFound)
}

func TestQueryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := testQuery("+15550009999")
	q.Context = map[string]any{"source": "sms"}
	require.NoError(t, s.CreateQuery(ctx, q))

	got, err := s.GetQuery(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.QuestionText, got.QuestionText)
	assert.Equal(t, model.QueryStatusPending, got.Status)
	assert.Equal(t, "sms", got.Context["source"])

	require.NoError(t, s.UpdateQueryStatus(ctx, q.ID, model.QueryStatusRouting, ""))
	require.NoError(t, s.UpdateQueryStatus(ctx, q.ID, model.QueryStatusFailed, "no experts matched"))

	failed, err := s.GetQuery(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueryStatusFailed, failed.Status)
	assert.Equal(t, "no experts matched", failed.ErrorMessage)
}

func TestListQueriesFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testQuery("+15550001111")
	second := testQuery("+15550002222")
	require.NoError(t, s.CreateQuery(ctx, first))
	require.NoError(t, s.CreateQuery(ctx, second))
	require.NoError(t, s.UpdateQueryStatus(ctx, second.ID, model.QueryStatusRouting, ""))

	pending, err := s.ListQueries(ctx, QueryFilter{Status: model.QueryStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	byPhone, err := s.ListQueries(ctx, QueryFilter{UserPhone: "+15550002222"})
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
	assert.Equal(t, second.ID, byPhone[0].ID)
}

func TestSaveAndListMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := testQuery("+15550009999")
	require.NoError(t, s.CreateQuery(ctx, q))

	low := testContact("+15550001111")
	high := testContact("+15550002222")
	require.NoError(t, s.CreateContact(ctx, low))
	require.NoError(t, s.CreateContact(ctx, high))

	distance := 12.5
	matches := []*model.MatchRecord{
		{
			ID:        uuid.New(),
			QueryID:   q.ID,
			ContactID: low.ID,
			Scores:    model.MatchScores{FinalScore: 0.4},
			Reasons:   []string{"tag overlap"},
			WaveGroup: 1,
			CreatedAt: time.Now().UTC(),
		},
		{
			ID:         uuid.New(),
			QueryID:    q.ID,
			ContactID:  high.ID,
			Scores:     model.MatchScores{FinalScore: 0.9},
			Reasons:    []string{"strong expertise match"},
			WaveGroup:  1,
			DistanceKm: &distance,
			CreatedAt:  time.Now().UTC(),
		},
	}
	require.NoError(t, s.SaveMatches(ctx, matches))

	got, err := s.ListMatches(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by final score descending.
	assert.Equal(t, high.ID, got[0].ContactID)
	assert.Equal(t, 0.9, got[0].Scores.FinalScore)
	require.NotNil(t, got[0].DistanceKm)
	assert.Equal(t, 12.5, *got[0].DistanceKm)
	assert.Equal(t, []string{"tag overlap"}, got[1].Reasons)

	// Re-saving the same pair updates instead of failing the unique index.
	matches[0].Scores.FinalScore = 0.95
	require.NoError(t, s.SaveMatches(ctx, matches[:1]))
	got, err = s.ListMatches(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, low.ID, got[0].ContactID)
}

func TestOutreachCountsSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := testQuery("+15550009999")
	require.NoError(t, s.CreateQuery(ctx, q))
	other := testQuery("+15550008888")
	require.NoError(t, s.CreateQuery(ctx, other))
	c := testContact("+15550001111")
	require.NoError(t, s.CreateContact(ctx, c))

	now := time.Now().UTC()
	records := []*model.OutreachRecord{
		{ID: uuid.New(), QueryID: q.ID, ContactID: c.ID, Channel: "sms", Status: model.OutreachStatusSent, CreatedAt: now.Add(-1 * time.Hour)},
		{ID: uuid.New(), QueryID: q.ID, ContactID: c.ID, Channel: "sms", Status: model.OutreachStatusSent, CreatedAt: now.Add(-72 * time.Hour)},
		{ID: uuid.New(), QueryID: q.ID, ContactID: c.ID, Channel: "sms", Status: model.OutreachStatusSkipped, Detail: "rate limited", CreatedAt: now.Add(-1 * time.Hour)},
	}
	require.NoError(t, s.SaveOutreach(ctx, records))

	day, err := s.OutreachCountsSince(ctx, other.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, day[c.ID])

	week, err := s.OutreachCountsSince(ctx, other.ID, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, week[c.ID])

	// A query's own outreach never counts against it on a re-route.
	self, err := s.OutreachCountsSince(ctx, q.ID, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, self[c.ID])
}

func TestContributionFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := testQuery("+15550009999")
	require.NoError(t, s.CreateQuery(ctx, q))
	c := testContact("+15550001111")
	require.NoError(t, s.CreateContact(ctx, c))

	now := time.Now().UTC().Truncate(time.Second)
	contrib := &model.Contribution{
		ID:          uuid.New(),
		QueryID:     q.ID,
		ContactID:   &c.ID,
		RequestedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateContribution(ctx, contrib))

	has, err := s.HasContribution(ctx, q.ID, c.ID)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasContribution(ctx, q.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.RecordResponse(ctx, contrib.ID, "use WAL mode and batch writes", 0.85))
	require.NoError(t, s.MarkContributionUsed(ctx, contrib.ID, 0.6))
	require.NoError(t, s.SetContributionPayout(ctx, contrib.ID, 175))

	got, err := s.GetContribution(ctx, contrib.ID)
	require.NoError(t, err)
	assert.Equal(t, "use WAL mode and batch writes", got.ResponseText)
	assert.Equal(t, 0.85, got.ConfidenceScore)
	require.NotNil(t, got.RespondedAt)
	assert.True(t, got.WasUsed)
	assert.Equal(t, 0.6, got.RelevanceScore)
	assert.Equal(t, int64(175), got.PayoutAmountCents)
	require.NotNil(t, got.ContactID)
	assert.Equal(t, c.ID, *got.ContactID)

	list, err := s.ListContributions(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCompiledAnswerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := testQuery("+15550009999")
	require.NoError(t, s.CreateQuery(ctx, q))
	c := testContact("+15550001111")
	require.NoError(t, s.CreateContact(ctx, c))

	now := time.Now().UTC().Truncate(time.Second)
	contrib := &model.Contribution{
		ID: uuid.New(), QueryID: q.ID, ContactID: &c.ID,
		RequestedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateContribution(ctx, contrib))

	missing, err := s.GetCompiledAnswer(ctx, q.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	answerID := uuid.New()
	answer := &model.CompiledAnswer{
		ID:                    answerID,
		QueryID:               q.ID,
		FinalAnswer:           "Enable WAL mode [@asmi].",
		Summary:               "Enable WAL mode.",
		ConfidenceScore:       0.85,
		CompilationMethod:     "llm_synthesis",
		CompilationTokensUsed: 431,
		KeyInsights:           []string{"WAL mode helps write throughput"},
		Citations: []model.Citation{
			{
				ID:               uuid.New(),
				CompiledAnswerID: answerID,
				ContributionID:   contrib.ID,
				ContactID:        &c.ID,
				Handle:           "asmi",
				ClaimText:        "Enable WAL mode [@asmi].",
				SourceExcerpt:    "use WAL mode and batch writes",
				PositionInAnswer: 0,
				Confidence:       0.85,
				CreatedAt:        now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.SaveCompiledAnswer(ctx, answer))

	got, err := s.GetCompiledAnswer(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, answer.FinalAnswer, got.FinalAnswer)
	assert.Equal(t, answer.KeyInsights, got.KeyInsights)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "asmi", got.Citations[0].Handle)
	assert.Equal(t, contrib.ID, got.Citations[0].ContributionID)
	assert.Equal(t, 0, got.Citations[0].PositionInAnswer)
	assert.Nil(t, got.AcceptedAt)

	require.NoError(t, s.MarkAnswerAccepted(ctx, q.ID))
	got, err = s.GetCompiledAnswer(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AcceptedAt)

	assert.ErrorIs(t, s.MarkAnswerAccepted(ctx, uuid.New()), ErrNotFound)

	// One answer per query.
	assert.Error(t, s.SaveCompiledAnswer(ctx, answer))
}

func TestLedgerEntriesAndPayoutSplit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := testQuery("+15550009999")
	require.NoError(t, s.CreateQuery(ctx, q))

	txID := uuid.New()
	contactID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	entries := []*model.LedgerEntry{
		{
			ID: uuid.New(), TransactionID: txID,
			TransactionType: model.TransactionQueryPayment,
			AccountType:     model.AccountTypeUser, AccountID: "+15550009999",
			EntryType: model.LedgerEntryDebit, AmountCents: 500, Currency: "USD",
			QueryID: &q.ID, Description: "query payment", CreatedAt: now,
		},
		{
			ID: uuid.New(), TransactionID: txID,
			TransactionType: model.TransactionQueryPayment,
			AccountType:     model.AccountTypeContributor, AccountID: contactID.String(),
			EntryType: model.LedgerEntryCredit, AmountCents: 350, Currency: "USD",
			QueryID: &q.ID, ContactID: &contactID,
			Metadata:  map[string]any{"weight": 1.0},
			CreatedAt: now,
		},
		{
			ID: uuid.New(), TransactionID: txID,
			TransactionType: model.TransactionQueryPayment,
			AccountType:     model.AccountTypePlatform, AccountID: model.PlatformRevenueAccount,
			EntryType: model.LedgerEntryCredit, AmountCents: 150, Currency: "USD",
			QueryID: &q.ID, CreatedAt: now,
		},
	}
	require.NoError(t, s.InsertLedgerEntries(ctx, entries))

	byTx, err := s.EntriesByTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Len(t, byTx, 3)

	userEntries, err := s.AccountEntries(ctx, model.AccountTypeUser, "+15550009999", 0)
	require.NoError(t, err)
	require.Len(t, userEntries, 1)
	assert.Equal(t, model.LedgerEntryDebit, userEntries[0].EntryType)
	assert.Equal(t, int64(500), userEntries[0].AmountCents)

	contribEntries, err := s.AccountEntries(ctx, model.AccountTypeContributor, contactID.String(), 0)
	require.NoError(t, err)
	require.Len(t, contribEntries, 1)
	assert.Equal(t, 1.0, contribEntries[0].Metadata["weight"])

	missing, err := s.GetPayoutSplit(ctx, q.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	split := &model.PayoutSplit{
		ID: uuid.New(), QueryID: q.ID,
		TotalAmountCents: 500, ContributorPoolCents: 350,
		PlatformFeeCents: 100, ReferralBonusCents: 50,
		Distribution: []model.PayoutShare{
			{CitationID: uuid.New(), ContributionID: uuid.New(), ContactID: &contactID, Weight: 1.0, PayoutCents: 350},
		},
		IsProcessed: true,
		ProcessedAt: &now,
		CreatedAt:   now,
	}
	require.NoError(t, s.SavePayoutSplit(ctx, split))

	got, err := s.GetPayoutSplit(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(350), got.ContributorPoolCents)
	assert.True(t, got.IsProcessed)
	require.Len(t, got.Distribution, 1)
	assert.Equal(t, int64(350), got.Distribution[0].PayoutCents)

	// Settlement is once per query.
	assert.Error(t, s.SavePayoutSplit(ctx, split))
}
