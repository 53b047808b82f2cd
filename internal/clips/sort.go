package clips

import "sort"

// SortByScore orders candidates by composite score, highest first, with ties broken by earlier start.
func SortByScore(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Start < cands[j].Start
	})
}
