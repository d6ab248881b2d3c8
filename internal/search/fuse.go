package search

import "sort"

// DefaultRRFConstant is the reciprocal rank fusion rank offset.
const DefaultRRFConstant = 60

// fusedCandidate accumulates a result's ranks across signals.
type fusedCandidate struct {
	result       *Result
	keywordRank  int // 1-based, 0 when absent
	semanticRank int
	score        float64
}

// fuseRRF merges two ranked lists with weighted reciprocal rank fusion:
//
//	score(d) = kw/(k + rank_kw(d)) + sem/(k + rank_sem(d))
//
// Ordering is deterministic: fused score descending, then best individual
// rank, then ID. An item ranked first in both lists is always first fused.
func fuseRRF(keyword, semantic []*Result, k int, kwWeight, semWeight float64) []*Result {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byID := make(map[string]*fusedCandidate)
	merge := func(list []*Result, weight float64, semanticSide bool) {
		for i, res := range list {
			rank := i + 1
			cand, ok := byID[res.ID]
			if !ok {
				cand = &fusedCandidate{result: res}
				byID[res.ID] = cand
			}
			if semanticSide {
				cand.semanticRank = rank
			} else {
				cand.keywordRank = rank
			}
			cand.score += weight / float64(k+rank)
		}
	}
	merge(keyword, kwWeight, false)
	merge(semantic, semWeight, true)

	fused := make([]*fusedCandidate, 0, len(byID))
	for _, cand := range byID {
		fused = append(fused, cand)
	}
	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if ar, br := bestRank(a), bestRank(b); ar != br {
			return ar < br
		}
		return a.result.ID < b.result.ID
	})

	out := make([]*Result, len(fused))
	for i, cand := range fused {
		res := cand.result
		res.Score = cand.score
		res.KeywordRank = cand.keywordRank
		res.SemanticRank = cand.semanticRank
		out[i] = res
	}
	return out
}

func bestRank(c *fusedCandidate) int {
	best := c.keywordRank
	if best == 0 || (c.semanticRank != 0 && c.semanticRank < best) {
		best = c.semanticRank
	}
	return best
}
