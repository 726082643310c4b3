package dedup

import "github.com/ignite/list-loader/internal/domain"

// PotentialDuplicate is an advisory near-match between two records
// whose keys differ but look alike. It never affects the partition;
// reports surface it for a human to review.
type PotentialDuplicate struct {
	Record     domain.ImportRecord
	Candidate  domain.ImportRecord
	Distance   int
	Similarity float64
}

// FindPotentialDuplicates compares the derived keys of all record
// pairs and reports those whose similarity is at least minSimilarity
// but below exact equality. Pairwise comparison is quadratic; this is
// meant for post-run reporting, not the submission path.
func (e *Engine) FindPotentialDuplicates(records []domain.ImportRecord, minSimilarity float64) []PotentialDuplicate {
	if minSimilarity <= 0 || minSimilarity > 1 {
		minSimilarity = 0.85
	}

	strategy := e.Strategy()
	keys := make([]string, len(records))
	for i, record := range records {
		keys[i] = strategy.Key(record)
	}

	var matches []PotentialDuplicate
	for i := 0; i < len(records); i++ {
		if keys[i] == "" {
			continue
		}
		for j := i + 1; j < len(records); j++ {
			if keys[j] == "" || keys[i] == keys[j] {
				continue
			}

			dist := levenshtein(keys[i], keys[j])
			longest := len(keys[i])
			if len(keys[j]) > longest {
				longest = len(keys[j])
			}
			similarity := 1 - float64(dist)/float64(longest)
			if similarity >= minSimilarity {
				matches = append(matches, PotentialDuplicate{
					Record:     records[i],
					Candidate:  records[j],
					Distance:   dist,
					Similarity: similarity,
				})
			}
		}
	}
	return matches
}

// levenshtein computes edit distance with the two-row variant, O(min)
// extra space.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost

			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
