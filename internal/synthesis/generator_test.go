package synthesis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/config"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/resilience"
	"github.com/brianellis1997/ErrandBoy-sub000/pkg/anthropic"
)

type fakeAnthropicClient struct {
	responses []string
	errs      []error
	calls     int
	lastReq   anthropic.MessageRequest
}

func (f *fakeAnthropicClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.lastReq = req
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := f.responses[min(i, len(f.responses)-1)]
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func newTestGenerator(client anthropic.Client) Generator {
	g := NewGenerator(client, config.AnthropicConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 2048}).(*anthropicGenerator)
	g.retry.InitialBackoff = 1
	g.retry.MaxBackoff = 1
	return g
}

func TestGenerateParsesModelOutput(t *testing.T) {
	client := &fakeAnthropicClient{responses: []string{
		"```json\n{\"answer\": \"Scale out [@asmi].\", \"summary\": \"Scale out.\", \"confidence\": 0.8, \"key_insights\": [\"replicas\"]}\n```",
	}}

	got, err := newTestGenerator(client).Generate(context.Background(), "how?", []PromptEntry{{Handle: "asmi", Text: "scale out"}})
	require.NoError(t, err)

	assert.Equal(t, "Scale out [@asmi].", got.Answer)
	assert.Equal(t, "Scale out.", got.Summary)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	assert.Equal(t, []string{"replicas"}, got.KeyInsights)
	assert.Equal(t, int64(150), got.TokensUsed)

	assert.Contains(t, client.lastReq.Messages[0].Content, "[@asmi]")
	assert.Contains(t, client.lastReq.Messages[0].Content, "how?")
	require.Len(t, client.lastReq.System, 1)
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	client := &fakeAnthropicClient{
		errs:      []error{resilience.NewTransientError(errors.New("overloaded"), 529)},
		responses: []string{`{"answer": "ok [@a]", "confidence": 0.5}`},
	}

	got, err := newTestGenerator(client).Generate(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, "ok [@a]", got.Answer)
}

func TestGenerateRejectsUnparseableOutput(t *testing.T) {
	client := &fakeAnthropicClient{responses: []string{"I cannot answer that."}}

	_, err := newTestGenerator(client).Generate(context.Background(), "q", nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "parse model output")
}

func TestGenerateRejectsEmptyAnswer(t *testing.T) {
	client := &fakeAnthropicClient{responses: []string{`{"answer": "", "confidence": 0.1}`}}

	_, err := newTestGenerator(client).Generate(context.Background(), "q", nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "empty answer")
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Here you go: {"a":1} hope that helps`, `{"a":1}`},
		{"no object", "nothing here", "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}
