package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/config"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/ledger"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/matching"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/outreach"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/queries"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/scoring"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/settlement"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/store"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/synthesis"
)

type fakeSMSNotifier struct{}

func (fakeSMSNotifier) Channel() string { return "sms" }

func (fakeSMSNotifier) Notify(context.Context, *model.Contact, *model.Query) error {
	return nil
}

// echoGenerator compiles a fixed answer citing every contributor.
type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, _ string, entries []synthesis.PromptEntry) (*synthesis.GeneratedAnswer, error) {
	answer := "The experts agree."
	for _, e := range entries {
		answer += fmt.Sprintf(" %s [@%s].", e.Text, e.Handle)
	}
	return &synthesis.GeneratedAnswer{
		Answer:     answer,
		Summary:    "Combined expert view.",
		Confidence: 0.8,
		TokensUsed: 100,
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Matching: config.MatchingConfig{
			EmbeddingWeight:      0.45,
			TagOverlapWeight:     0.20,
			TrustScoreWeight:     0.15,
			AvailabilityWeight:   0.10,
			ResponsivenessWeight: 0.10,
			DefaultLimit:         10,
			WaveSize:             3,
		},
		Ledger: config.LedgerConfig{
			ContributorPoolPct: 0.70,
			PlatformPct:        0.20,
			ReferralPct:        0.10,
			QueryPriceCents:    50,
		},
		Outreach: config.OutreachConfig{
			PerExpertPerHour:  4,
			MaxConcurrent:     3,
			RecentContactHrs:  24,
			RecentQueryWindow: 7,
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	cfg := testConfig()
	rng := rand.New(rand.NewPCG(7, 11))

	engine := scoring.NewEngine(scoring.WeightsFromConfig(cfg.Matching), rng)
	selector := matching.NewSelector(engine, st, cfg.Matching, cfg.Outreach, rng)

	registry := outreach.NewRegistry()
	registry.Register(fakeSMSNotifier{})
	orch := outreach.NewOrchestrator(st, registry, outreach.NewThrottle(cfg.Outreach.PerExpertPerHour), cfg.Outreach)

	ledgerEngine := ledger.NewEngine(st, cfg.Ledger)
	settler := settlement.NewCoordinator(ledgerEngine, nil)
	synth := synthesis.NewSynthesizer(st, echoGenerator{}, settler)

	qs := queries.NewService(st, cfg.Ledger, nil)

	srv := httptest.NewServer(NewServer(st, qs, selector, orch, synth, ledgerEngine).Router())
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createExpert(t *testing.T, baseURL, phone, name string, tags []string) *model.Contact {
	t.Helper()
	expertiseTags := make([]model.ExpertiseTag, len(tags))
	for i, tag := range tags {
		expertiseTags[i] = model.ExpertiseTag{Name: tag, Confidence: 0.9}
	}
	resp := postJSON(t, baseURL+"/api/contacts", map[string]any{
		"phone_number":      phone,
		"name":              name,
		"bio":               "works with " + tags[0],
		"expertise_summary": "deep experience in " + tags[0],
		"expertise_tags":    expertiseTags,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON[*model.Contact](t, resp)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQueryPipeline(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	createExpert(t, srv.URL, "+15550000001", "Alex Smith", []string{"postgresql", "databases"})
	createExpert(t, srv.URL, "+15550000002", "Maria Garcia", []string{"postgresql", "performance"})
	createExpert(t, srv.URL, "+15550000003", "Sam Jones", []string{"cooking", "baking"})

	resp := postJSON(t, srv.URL+"/api/queries", map[string]any{
		"user_phone":       "+15559990000",
		"question_text":    "how should I tune postgresql for heavy writes?",
		"total_cost_cents": 500,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	query := decodeJSON[*model.Query](t, resp)
	assert.Equal(t, model.QueryStatusPending, query.Status)

	resp = postJSON(t, srv.URL+"/api/queries/"+query.ID.String()+"/route", map[string]any{
		"tags": []string{"postgresql", "databases"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	routed := decodeJSON[routeQueryResponse](t, resp)
	require.NotEmpty(t, routed.Matches)
	require.NotEmpty(t, routed.Outreach)
	for _, rec := range routed.Outreach {
		assert.Equal(t, model.OutreachStatusSent, rec.Status)
	}

	contributions, err := st.ListContributions(ctx, query.ID)
	require.NoError(t, err)
	require.NotEmpty(t, contributions)

	for _, c := range contributions {
		resp = postJSON(t, srv.URL+"/api/contributions/"+c.ID.String()+"/response", map[string]any{
			"response_text": "Batch your writes and raise checkpoint intervals.",
			"confidence":    0.9,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp = postJSON(t, srv.URL+"/api/queries/"+query.ID.String()+"/synthesize", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	answer := decodeJSON[*model.CompiledAnswer](t, resp)
	require.NotEmpty(t, answer.Citations)

	statusResp, err := http.Get(srv.URL + "/api/queries/" + query.ID.String() + "/status")
	require.NoError(t, err)
	snapshot := decodeJSON[*queries.Snapshot](t, statusResp)
	assert.Equal(t, model.QueryStatusCompleted, snapshot.Query.Status)
	assert.Equal(t, 100, snapshot.ProgressPercent)
	require.NotNil(t, snapshot.Answer)

	resp = postJSON(t, srv.URL+"/api/queries/"+query.ID.String()+"/accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accepted := decodeJSON[*model.CompiledAnswer](t, resp)
	require.NotNil(t, accepted.AcceptedAt)

	// Settlement ran: the user paid, the platform took its fee.
	balResp, err := http.Get(srv.URL + "/api/ledger/balance/user/+15559990000")
	require.NoError(t, err)
	balance := decodeJSON[balanceResponse](t, balResp)
	assert.Equal(t, int64(-500), balance.BalanceCents)

	platResp, err := http.Get(srv.URL + "/api/ledger/balance/platform/" + model.PlatformRevenueAccount)
	require.NoError(t, err)
	platform := decodeJSON[balanceResponse](t, platResp)
	assert.Equal(t, int64(100), platform.BalanceCents)

	split, err := st.GetPayoutSplit(ctx, query.ID)
	require.NoError(t, err)
	require.NotNil(t, split)
	assert.Equal(t, int64(500), split.TotalAmountCents)
	assert.Equal(t, int64(350), split.ContributorPoolCents)
}

func TestRouteQueryNoExperts(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/queries", map[string]any{
		"user_phone":       "+15559990000",
		"question_text":    "anyone around?",
		"total_cost_cents": 500,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	query := decodeJSON[*model.Query](t, resp)

	resp = postJSON(t, srv.URL+"/api/queries/"+query.ID.String()+"/route", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	statusResp, err := http.Get(srv.URL + "/api/queries/" + query.ID.String())
	require.NoError(t, err)
	failed := decodeJSON[*model.Query](t, statusResp)
	assert.Equal(t, model.QueryStatusFailed, failed.Status)
}

func TestCancelQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/queries", map[string]any{
		"user_phone":       "+15559990000",
		"question_text":    "never mind",
		"total_cost_cents": 500,
	})
	query := decodeJSON[*model.Query](t, resp)

	resp = postJSON(t, srv.URL+"/api/queries/"+query.ID.String()+"/cancel", map[string]any{
		"reason": "user cancelled",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Terminal states reject further transitions.
	resp = postJSON(t, srv.URL+"/api/queries/"+query.ID.String()+"/cancel", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSynthesizePendingQueryRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/queries", map[string]any{
		"user_phone":       "+15559990000",
		"question_text":    "too early",
		"total_cost_cents": 500,
	})
	query := decodeJSON[*model.Query](t, resp)

	resp = postJSON(t, srv.URL+"/api/queries/"+query.ID.String()+"/synthesize", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetQueryNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/queries/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/queries/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
