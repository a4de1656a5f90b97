package synthesis

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/config"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/resilience"
	"github.com/brianellis1997/ErrandBoy-sub000/pkg/anthropic"
)

// GeneratedAnswer is the model's compiled output plus call accounting.
type GeneratedAnswer struct {
	Answer      string
	Summary     string
	Confidence  float64
	KeyInsights []string
	Prompt      string
	TokensUsed  int64
}

// Generator produces a compiled answer from expert contributions.
type Generator interface {
	Generate(ctx context.Context, question string, entries []PromptEntry) (*GeneratedAnswer, error)
}

// anthropicGenerator implements Generator against the Anthropic API with
// retries on transient failures.
type anthropicGenerator struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
	retry  resilience.RetryConfig
}

// NewGenerator creates the production Generator.
func NewGenerator(client anthropic.Client, cfg config.AnthropicConfig) Generator {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "synthesize")
	return &anthropicGenerator{client: client, cfg: cfg, retry: retry}
}

func (g *anthropicGenerator) Generate(ctx context.Context, question string, entries []PromptEntry) (*GeneratedAnswer, error) {
	prompt := buildUserPrompt(question, entries)

	resp, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return g.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     g.cfg.Model,
			MaxTokens: g.cfg.MaxTokens,
			System: []anthropic.SystemBlock{
				{Text: synthesisSystemPrompt, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
			},
			Messages: []anthropic.Message{
				{Role: "user", Content: prompt},
			},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "synthesis: create message")
	}

	resp.Usage.LogCost(g.cfg.Model, "synthesis")

	var parsed struct {
		Answer      string   `json:"answer"`
		Summary     string   `json:"summary"`
		Confidence  float64  `json:"confidence"`
		KeyInsights []string `json:"key_insights"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp.FirstText())), &parsed); err != nil {
		return nil, eris.Wrap(err, "synthesis: parse model output")
	}
	if parsed.Answer == "" {
		return nil, eris.New("synthesis: model returned empty answer")
	}

	return &GeneratedAnswer{
		Answer:      parsed.Answer,
		Summary:     parsed.Summary,
		Confidence:  parsed.Confidence,
		KeyInsights: parsed.KeyInsights,
		Prompt:      prompt,
		TokensUsed:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// cleanJSON strips markdown code fences and any prose around the outermost
// JSON object. Models occasionally wrap output despite instructions.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
