// -----------------------------------------------------------------------
// Diversity Filter - maximal marginal relevance selection with a hard
// per-topic cap
// -----------------------------------------------------------------------

package ranking

import "math"

const (
	// DefaultLambda is the rank/diversity trade-off: higher favors
	// rank score, lower favors novelty against already-selected items.
	DefaultLambda = 0.7

	// maxPerTopic caps how many items one topic may place.
	maxPerTopic = 2
)

// ApplyMMR greedily selects up to n candidates maximizing
// lambda*rankScore - (1-lambda)*maxSimilarityToSelected. No topic
// contributes more than two items; score ties break by publishedAt
// descending.
func ApplyMMR(candidates []*Candidate, n int, lambda float64) []*Candidate {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	if lambda <= 0 || lambda > 1 {
		lambda = DefaultLambda
	}

	selected := make([]*Candidate, 0, n)
	topicCounts := make(map[string]int)
	used := make([]bool, len(candidates))

	for len(selected) < n {
		bestIdx := -1
		bestValue := math.Inf(-1)

		for i, c := range candidates {
			if used[i] {
				continue
			}
			if tid := c.TopicID(); tid != "" && topicCounts[tid] >= maxPerTopic {
				continue
			}

			penalty := 0.0
			for _, s := range selected {
				if sim := Similarity(c, s); sim > penalty {
					penalty = sim
				}
			}

			value := lambda*c.RankScore - (1-lambda)*penalty
			switch {
			case bestIdx == -1 || value > bestValue:
				bestIdx, bestValue = i, value
			case value == bestValue && c.News.PublishedAt.After(candidates[bestIdx].News.PublishedAt):
				bestIdx = i
			}
		}

		if bestIdx == -1 {
			break
		}

		pick := candidates[bestIdx]
		used[bestIdx] = true
		selected = append(selected, pick)
		if tid := pick.TopicID(); tid != "" {
			topicCounts[tid]++
		}
	}

	return selected
}
