package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func neighborsWithSimilarity(sims ...float64) []Neighbor {
	out := make([]Neighbor, 0, len(sims))
	for i, s := range sims {
		out = append(out, Neighbor{
			SourceType: SourceLesson,
			SourceID:   "lesson:" + string(rune('a'+i)),
			ChunkID:    "lesson:" + string(rune('a'+i)),
			Distance:   1 - s,
		})
	}
	return out
}

func similarities(results []SimilarityResult) []float64 {
	out := make([]float64, 0, len(results))
	for _, r := range results {
		out = append(out, r.Similarity)
	}
	return out
}

func TestRankNeighbors_ThresholdAndLimit(t *testing.T) {
	neighbors := neighborsWithSimilarity(0.9, 0.6, 0.5, 0.3, 0.1, 0.05, 0.04, 0.03, 0.02, 0.01)

	results := RankNeighbors(neighbors, SearchOptions{Limit: 3, Threshold: 0.4})
	require.Len(t, results, 3)
	assert.InDeltaSlice(t, []float64{0.9, 0.6, 0.5}, similarities(results), 1e-9)
}

func TestRankNeighbors_ThresholdIsExclusive(t *testing.T) {
	results := RankNeighbors(neighborsWithSimilarity(0.75, 0.5, 0.25), SearchOptions{Limit: 10, Threshold: 0.5})
	require.Len(t, results, 1)
	assert.InDelta(t, 0.75, results[0].Similarity, 1e-9)
}

func TestRankNeighbors_SortedAndStable(t *testing.T) {
	neighbors := neighborsWithSimilarity(0.6, 0.8, 0.6, 0.7)

	results := RankNeighbors(neighbors, SearchOptions{Limit: 10, Threshold: 0})
	require.Len(t, results, 4)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
	// equal similarities keep store order
	assert.Equal(t, "lesson:a", results[2].SourceID)
	assert.Equal(t, "lesson:c", results[3].SourceID)
}

func TestRankNeighbors_Empty(t *testing.T) {
	assert.Empty(t, RankNeighbors(nil, DefaultSearchOptions(ModeSearch)))
}

func TestSearchOptions(t *testing.T) {
	assert.Equal(t, SearchOptions{Limit: 3, Threshold: 0.4}, DefaultSearchOptions(ModeRecall))
	assert.Equal(t, SearchOptions{Limit: 5, Threshold: 0.5}, DefaultSearchOptions(ModeSearch))

	assert.NoError(t, SearchOptions{Limit: 1, Threshold: 0}.Validate())
	assert.NoError(t, SearchOptions{Limit: 1, Threshold: 1}.Validate())

	for _, o := range []SearchOptions{{Limit: 0, Threshold: 0.5}, {Limit: 3, Threshold: -0.1}, {Limit: 3, Threshold: 1.5}} {
		err := o.Validate()
		require.Error(t, err)
		assert.True(t, IsConfiguration(err))
	}
}
