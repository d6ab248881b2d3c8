package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ranked(ids ...string) []*Result {
	out := make([]*Result, len(ids))
	for i, id := range ids {
		out[i] = &Result{ID: id}
	}
	return out
}

func fusedIDs(results []*Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestFuseRRF_TopOfBothListsWinsFusion(t *testing.T) {
	keyword := ranked("a", "b", "c")
	semantic := ranked("a", "c", "d")

	fused := fuseRRF(keyword, semantic, 60, 1, 1)
	require.NotEmpty(t, fused)
	assert.Equal(t, "a", fused[0].ID)
	assert.Equal(t, 1, fused[0].KeywordRank)
	assert.Equal(t, 1, fused[0].SemanticRank)
}

func TestFuseRRF_SingleSignalItemsSurvive(t *testing.T) {
	fused := fuseRRF(ranked("a", "b"), ranked("c"), 60, 1, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, fusedIDs(fused))

	for _, r := range fused {
		if r.ID == "b" {
			assert.Equal(t, 2, r.KeywordRank)
			assert.Zero(t, r.SemanticRank)
		}
	}
}

func TestFuseRRF_OverlapBeatsSingleSignal(t *testing.T) {
	// "b" is mid-list in both; "a" and "c" each lead one list only.
	// 1/(60+2)+1/(60+2) > 1/(60+1), so the overlap wins.
	fused := fuseRRF(ranked("a", "b"), ranked("c", "b"), 60, 1, 1)
	assert.Equal(t, "b", fused[0].ID)
}

func TestFuseRRF_TieBreaksByRankThenID(t *testing.T) {
	// "x" and "y" get identical fused scores from symmetric positions.
	fused := fuseRRF(ranked("x", "y"), ranked("y", "x"), 60, 1, 1)
	require.Len(t, fused, 2)
	assert.Equal(t, "x", fused[0].ID, "equal score and equal best rank falls back to ID order")
	assert.Equal(t, "y", fused[1].ID)
}

func TestFuseRRF_WeightsShiftTheBalance(t *testing.T) {
	keyword := ranked("kw")
	semantic := ranked("sem")

	fused := fuseRRF(keyword, semantic, 60, 3, 1)
	assert.Equal(t, "kw", fused[0].ID)

	fused = fuseRRF(keyword, semantic, 60, 1, 3)
	assert.Equal(t, "sem", fused[0].ID)
}

func TestFuseRRF_Deterministic(t *testing.T) {
	keyword := ranked("a", "b", "c", "d")
	semantic := ranked("d", "c", "b", "a")

	first := fusedIDs(fuseRRF(keyword, semantic, 60, 1, 1))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, fusedIDs(fuseRRF(ranked("a", "b", "c", "d"), ranked("d", "c", "b", "a"), 60, 1, 1)))
	}
}
