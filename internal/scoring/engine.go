// Package scoring computes multi-factor match scores for (query, expert)
// pairs. Scoring is pure given its inputs; the only nondeterminism is a
// small tie-breaking jitter owned by the Engine's rand source.
package scoring

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/config"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/geo"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// Geographic boost parameters: up to geoMaxBoost added for co-located
// experts, decaying linearly to zero at geoMaxDistanceKm.
const (
	geoMaxBoost      = 0.2
	geoMaxDistanceKm = 100.0
)

// Similarity floor: raw keyword scores below rerollThreshold re-roll into
// [rerollMin, rerollMax] so sparse lexical overlap still produces usable
// rankings. This is a deliberate usability guarantee.
const (
	rerollThreshold = 0.2
	rerollMin       = 0.15
	rerollMax       = 0.35
)

// Weights are the five base component weights. They should sum to ~1.0.
type Weights struct {
	Embedding      float64
	TagOverlap     float64
	Trust          float64
	Availability   float64
	Responsiveness float64
}

// WeightsFromConfig builds Weights from the matching configuration.
func WeightsFromConfig(cfg config.MatchingConfig) Weights {
	return Weights{
		Embedding:      cfg.EmbeddingWeight,
		TagOverlap:     cfg.TagOverlapWeight,
		Trust:          cfg.TrustScoreWeight,
		Availability:   cfg.AvailabilityWeight,
		Responsiveness: cfg.ResponsivenessWeight,
	}
}

// DefaultWeights returns the production default weighting.
func DefaultWeights() Weights {
	return Weights{
		Embedding:      0.45,
		TagOverlap:     0.20,
		Trust:          0.15,
		Availability:   0.10,
		Responsiveness: 0.10,
	}
}

// Input carries the query-side context for scoring one candidate.
type Input struct {
	QuestionText  string
	QueryTags     []string
	QueryCoord    *geom.Coord
	LocalQuery    bool
	LocationBoost bool
}

// Engine scores candidates against a query.
type Engine struct {
	weights Weights
	rng     *rand.Rand
}

// NewEngine creates an Engine. A nil rng gets a fresh PCG source; tests pass
// a seeded one for reproducibility.
func NewEngine(w Weights, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{weights: w, rng: rng}
}

// Score computes the full breakdown for one candidate. The returned distance
// is non-nil only when a geographic boost was resolvable.
func (e *Engine) Score(in Input, c *model.Contact) (model.MatchScores, *float64) {
	similarity := e.similarity(in.QuestionText, c)
	tagOverlap := TagOverlap(c, in.QueryTags)
	availability := availabilityBoost(c)
	responsiveness := c.ResponseRate

	var geoBoost float64
	var distanceKm *float64
	if in.LocalQuery && in.LocationBoost {
		expertCoord := geo.ExtractCoordinates(c.Location())
		geoBoost = geo.Boost(in.QueryCoord, expertCoord, geoMaxBoost, geoMaxDistanceKm)
		if in.QueryCoord != nil && expertCoord != nil {
			d := geo.Haversine(*in.QueryCoord, *expertCoord)
			distanceKm = &d
		}
	}

	final := e.weights.Embedding*similarity +
		e.weights.TagOverlap*tagOverlap +
		e.weights.Trust*c.TrustScore +
		e.weights.Availability*availability +
		e.weights.Responsiveness*responsiveness +
		geoBoost // additive, not weighted

	final = clamp01(final)

	return model.MatchScores{
		EmbeddingSimilarity: similarity,
		TagOverlap:          tagOverlap,
		TrustScore:          c.TrustScore,
		AvailabilityBoost:   availability,
		ResponsivenessRate:  responsiveness,
		GeographicBoost:     geoBoost,
		FinalScore:          final,
	}, distanceKm
}

// similarity is KeywordSimilarity plus the jitter and floor re-roll.
func (e *Engine) similarity(questionText string, c *model.Contact) float64 {
	score := KeywordSimilarity(questionText, c)

	// Jitter breaks ties between near-identical profiles.
	score += e.rng.Float64()*0.2 - 0.1
	score = clamp01(score)

	if c.TrustScore > 0.7 {
		score += 0.1
	}

	if score < rerollThreshold {
		score = rerollMin + e.rng.Float64()*(rerollMax-rerollMin)
	}

	return clamp01(score)
}

// KeywordSimilarity is the raw lexical overlap between the question's
// non-stopword tokens and the expert's bio, expertise summary, and tag
// names/descriptions, clipped to [0,1]. Exported for direct testing without
// jitter or floor adjustments.
func KeywordSimilarity(questionText string, c *model.Contact) float64 {
	keywords := QueryKeywords(questionText)
	if len(keywords) == 0 {
		return 0
	}

	var score float64
	score += float64(overlapCount(keywords, tokenSet(c.Bio))) * 0.3
	score += float64(overlapCount(keywords, tokenSet(c.ExpertiseSummary))) * 0.4

	tagWords := make(map[string]struct{})
	for _, tag := range c.ExpertiseTags {
		for w := range tokenSet(tag.Name) {
			tagWords[w] = struct{}{}
		}
		for w := range tokenSet(tag.Description) {
			tagWords[w] = struct{}{}
		}
	}
	score += float64(overlapCount(keywords, tagWords)) * 0.5

	return math.Min(1.0, score/float64(len(keywords)))
}

// stopWords are excluded from keyword matching.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {}, "how": {}, "what": {},
	"when": {}, "where": {}, "why": {}, "who": {}, "i": {}, "you": {},
	"me": {}, "my": {}, "your": {}, "can": {}, "should": {}, "would": {},
}

// QueryKeywords tokenizes a question into its lowercase non-stopword terms.
func QueryKeywords(questionText string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(questionText)) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[w] = struct{}{}
	}
	return out
}

func overlapCount(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

// TagOverlap is the Jaccard similarity between the query's derived tags and
// the expert's tag names. Returns 0.5 (neutral) when the query has no tags,
// 0 when the expert has none.
func TagOverlap(c *model.Contact, queryTags []string) float64 {
	if len(queryTags) == 0 {
		return 0.5
	}

	expertTags := make(map[string]struct{}, len(c.ExpertiseTags))
	for _, t := range c.ExpertiseTags {
		expertTags[strings.ToLower(t.Name)] = struct{}{}
	}
	if len(expertTags) == 0 {
		return 0
	}

	querySet := make(map[string]struct{}, len(queryTags))
	for _, t := range queryTags {
		querySet[strings.ToLower(t)] = struct{}{}
	}

	intersection := overlapCount(querySet, expertTags)
	union := len(querySet) + len(expertTags) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func availabilityBoost(c *model.Contact) float64 {
	if c.IsAvailable {
		return 1.0
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
