package synthesis

import (
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// citationPattern matches inline [@handle] markers in a compiled answer.
var citationPattern = regexp.MustCompile(`\[@(\w+)\]`)

// sentenceBoundary splits an answer into sentences for claim extraction.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// excerptLen is how much of the source contribution each citation keeps.
const excerptLen = 200

// claimWindow is the fallback context radius when no sentence boundary can
// be resolved around a citation marker.
const claimWindow = 50

// ExtractCitations parses [@handle] markers out of a compiled answer and
// resolves each to its contribution. Markers with unknown handles are
// dropped. Positions are 0-based in answer order.
func ExtractCitations(answerID uuid.UUID, answer string, byHandle map[string]*model.Contribution) []model.Citation {
	matches := citationPattern.FindAllStringSubmatchIndex(answer, -1)
	if len(matches) == 0 {
		return nil
	}

	now := time.Now()
	citations := make([]model.Citation, 0, len(matches))
	for _, m := range matches {
		handle := answer[m[2]:m[3]]
		contrib, ok := byHandle[handle]
		if !ok {
			continue
		}

		citations = append(citations, model.Citation{
			ID:               uuid.New(),
			CompiledAnswerID: answerID,
			ContributionID:   contrib.ID,
			ContactID:        contrib.ContactID,
			Handle:           handle,
			ClaimText:        claimText(answer, m[0]),
			SourceExcerpt:    truncate(contrib.ResponseText, excerptLen),
			PositionInAnswer: len(citations),
			Confidence:       contrib.ConfidenceScore,
			CreatedAt:        now,
		})
	}

	return citations
}

// claimText returns the sentence containing the citation marker at
// markerPos, falling back to a fixed window of surrounding characters.
func claimText(answer string, markerPos int) string {
	pos := 0
	for _, sentence := range sentenceBoundary.Split(answer, -1) {
		// The +2 allows the marker to sit on the boundary itself.
		if markerPos >= pos && markerPos < pos+len(sentence)+2 {
			return sentence
		}
		pos += len(sentence) + 2
	}

	start := markerPos - claimWindow
	if start < 0 {
		start = 0
	}
	end := markerPos + claimWindow
	if end > len(answer) {
		end = len(answer)
	}
	return answer[start:end]
}

// ComputeWeights turns citations into per-contribution payout weights: each
// contribution's share of the total citation count, normalized to sum to 1.
func ComputeWeights(citations []model.Citation) map[uuid.UUID]float64 {
	if len(citations) == 0 {
		return nil
	}

	counts := make(map[uuid.UUID]int)
	for _, c := range citations {
		counts[c.ContributionID]++
	}

	total := float64(len(citations))
	weights := make(map[uuid.UUID]float64, len(counts))
	for id, n := range counts {
		weights[id] = float64(n) / total
	}
	return weights
}
