package memory

import (
	"math"
)

// MaximalMarginalRelevance picks k indices from candidates, balancing similarity
// to the query against similarity to already selected candidates. lambda=1
// ranks purely by relevance, lambda=0 purely by diversity.
func MaximalMarginalRelevance(query []float32, candidates [][]float32, lambda float64, k int) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	best := 0
	for i, c := range candidates {
		relevance[i] = cosineSimilarity(query, c)
		if relevance[i] > relevance[best] {
			best = i
		}
	}

	selected := []int{best}
	picked := make([]bool, len(candidates))
	picked[best] = true

	// maxSim[i] is the highest similarity of candidate i to any selected candidate
	maxSim := make([]float64, len(candidates))
	for i, c := range candidates {
		maxSim[i] = cosineSimilarity(c, candidates[best])
	}

	for len(selected) < k {
		next := -1
		nextScore := math.Inf(-1)
		for i := range candidates {
			if picked[i] {
				continue
			}
			score := lambda*relevance[i] - (1-lambda)*maxSim[i]
			if score > nextScore {
				next, nextScore = i, score
			}
		}
		if next < 0 {
			break
		}

		selected = append(selected, next)
		picked[next] = true
		for i, c := range candidates {
			if picked[i] {
				continue
			}
			if s := cosineSimilarity(c, candidates[next]); s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}

	return selected
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 if
// either is zero or their lengths differ
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
