package synthesis

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

func respondedContrib(text string, confidence float64) *model.Contribution {
	contactID := uuid.New()
	return &model.Contribution{
		ID:              uuid.New(),
		ContactID:       &contactID,
		ResponseText:    text,
		ConfidenceScore: confidence,
	}
}

func TestExtractCitations(t *testing.T) {
	alice := respondedContrib("Use read replicas for scaling reads.", 0.9)
	bob := respondedContrib("Partition large tables by time.", 0.7)
	byHandle := map[string]*model.Contribution{"asmi": alice, "bjon": bob}

	answer := "Read replicas handle read scaling [@asmi]. For writes, partition by time [@bjon]. Replicas also help with failover [@asmi]."
	answerID := uuid.New()

	citations := ExtractCitations(answerID, answer, byHandle)
	require.Len(t, citations, 3)

	assert.Equal(t, "asmi", citations[0].Handle)
	assert.Equal(t, alice.ID, citations[0].ContributionID)
	assert.Equal(t, alice.ContactID, citations[0].ContactID)
	assert.Equal(t, 0, citations[0].PositionInAnswer)
	assert.Contains(t, citations[0].ClaimText, "Read replicas handle read scaling")
	assert.Equal(t, alice.ResponseText, citations[0].SourceExcerpt)
	assert.InDelta(t, 0.9, citations[0].Confidence, 1e-9)

	assert.Equal(t, "bjon", citations[1].Handle)
	assert.Equal(t, 1, citations[1].PositionInAnswer)
	assert.Contains(t, citations[1].ClaimText, "partition by time")

	assert.Equal(t, 2, citations[2].PositionInAnswer)
	assert.Equal(t, answerID, citations[2].CompiledAnswerID)
}

func TestExtractCitationsDropsUnknownHandles(t *testing.T) {
	alice := respondedContrib("Something useful.", 0.8)
	byHandle := map[string]*model.Contribution{"asmi": alice}

	answer := "A real claim [@asmi]. A hallucinated one [@ghost]."
	citations := ExtractCitations(uuid.New(), answer, byHandle)

	require.Len(t, citations, 1)
	assert.Equal(t, "asmi", citations[0].Handle)
}

func TestExtractCitationsNoMarkers(t *testing.T) {
	citations := ExtractCitations(uuid.New(), "No citations here at all.", nil)
	assert.Empty(t, citations)
}

func TestSourceExcerptTruncated(t *testing.T) {
	long := respondedContrib(strings.Repeat("x", 500), 0.5)
	byHandle := map[string]*model.Contribution{"long": long}

	citations := ExtractCitations(uuid.New(), "Claim [@long].", byHandle)
	require.Len(t, citations, 1)
	assert.Len(t, citations[0].SourceExcerpt, excerptLen)
}

func TestClaimTextFallbackWindow(t *testing.T) {
	// One giant unbroken sentence forces the window fallback for markers
	// deep inside it.
	alice := respondedContrib("text", 0.5)
	byHandle := map[string]*model.Contribution{"asmi": alice}

	answer := strings.Repeat("word ", 100) + "[@asmi]" + strings.Repeat(" word", 100)
	citations := ExtractCitations(uuid.New(), answer, byHandle)
	require.Len(t, citations, 1)
	// The whole text is one "sentence", so the claim is the full span here;
	// what matters is the marker's neighborhood is present.
	assert.Contains(t, citations[0].ClaimText, "[@asmi]")
}

func TestComputeWeights(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	citations := []model.Citation{
		{ContributionID: a},
		{ContributionID: a},
		{ContributionID: b},
	}

	weights := ComputeWeights(citations)
	require.Len(t, weights, 2)
	assert.InDelta(t, 2.0/3.0, weights[a], 1e-9)
	assert.InDelta(t, 1.0/3.0, weights[b], 1e-9)

	var sum float64
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestComputeWeightsEmpty(t *testing.T) {
	assert.Nil(t, ComputeWeights(nil))
}
