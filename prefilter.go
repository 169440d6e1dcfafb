package examauditor

// TopicPrefilter cheaply groups questions that could plausibly duplicate each
// other, so the expensive pairwise fuzzy comparison never runs across the whole
// catalog. It is recall-biased: false positives are fine, a missed true
// duplicate is not.
type TopicPrefilter struct {
	// SharedKeyTerms is how many key terms two questions must share to land in
	// the same bucket.
	SharedKeyTerms int
	// GroupingThreshold is the loose signature-ratio fallback for texts too
	// short to share enough key terms.
	GroupingThreshold float64
}

// stopWords holds French and English function words that carry no topical
// signal. Tokens are matched after lowering and accent folding, so the French
// entries appear unaccented.
var stopWords = map[string]struct{}{
	// French
	"avec": {}, "cette": {}, "cela": {}, "ceux": {}, "celle": {}, "celles": {},
	"dans": {}, "donc": {}, "elle": {}, "elles": {}, "entre": {}, "etre": {},
	"fait": {}, "faire": {}, "ils": {}, "leur": {}, "leurs": {}, "mais": {},
	"meme": {}, "nous": {}, "parmi": {}, "pour": {}, "quand": {}, "quel": {},
	"quelle": {}, "quelles": {}, "quels": {}, "sans": {}, "sont": {},
	"suivantes": {}, "suivants": {}, "tous": {}, "toutes": {}, "vous": {},
	// English
	"about": {}, "after": {}, "also": {}, "been": {}, "before": {}, "between": {},
	"both": {}, "does": {}, "each": {}, "following": {}, "from": {}, "have": {},
	"into": {}, "more": {}, "most": {}, "much": {}, "other": {}, "some": {},
	"such": {}, "than": {}, "that": {}, "their": {}, "them": {}, "then": {},
	"there": {}, "these": {}, "they": {}, "this": {}, "those": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "will": {},
	"with": {}, "would": {}, "your": {},
}

// KeyTerms extracts the topical vocabulary of a text: alphabetic tokens of
// length >= 4 with stop-words removed.
func KeyTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, tok := range tokenize(text) {
		if len([]rune(tok)) < 4 {
			continue
		}
		if !isAlphabetic(tok) {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		terms[tok] = struct{}{}
	}
	return terms
}

func isAlphabetic(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// Buckets partitions the question set. Two questions share a bucket when they
// share at least SharedKeyTerms key terms, or when their signatures compare
// above GroupingThreshold; bucket membership is transitive (single linkage).
// Returned buckets contain indexes into the input slice; singletons are
// omitted since they have no pair to compare.
func (p *TopicPrefilter) Buckets(questions []Question) [][]int {
	n := len(questions)
	if n < 2 {
		return nil
	}

	terms := make([]map[string]struct{}, n)
	sigs := make([]string, n)
	for i, q := range questions {
		terms[i] = KeyTerms(q.Text)
		sigs[i] = string(Normalize(q.Text))
	}

	// Inverted index: term -> question indexes. Candidate pairs share at
	// least one term; sparse texts fall back to the ratio check below.
	byTerm := make(map[string][]int)
	for i, ts := range terms {
		for t := range ts {
			byTerm[t] = append(byTerm[t], i)
		}
	}
	shared := make(map[[2]int]int)
	for _, idxs := range byTerm {
		for a := 0; a < len(idxs); a++ {
			for b := a + 1; b < len(idxs); b++ {
				shared[[2]int{idxs[a], idxs[b]}]++
			}
		}
	}

	uf := newUnionFind(n)
	for pair, count := range shared {
		if count >= p.SharedKeyTerms {
			uf.union(pair[0], pair[1])
			continue
		}
		if FuzzyRatio(sigs[pair[0]], sigs[pair[1]]) >= p.GroupingThreshold {
			uf.union(pair[0], pair[1])
		}
	}

	// Texts with fewer than SharedKeyTerms key terms can never satisfy the
	// shared-term branch, so the ratio branch is their only route into a
	// bucket; compare them against everything. Pairs where both sides carry a
	// full term set but share none are treated as non-duplicates without a
	// ratio check.
	for i := 0; i < n; i++ {
		if len(terms[i]) >= p.SharedKeyTerms {
			continue
		}
		for j := 0; j < n; j++ {
			if i == j || uf.find(i) == uf.find(j) {
				continue
			}
			if FuzzyRatio(sigs[i], sigs[j]) >= p.GroupingThreshold {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}
	var buckets [][]int
	for _, members := range groups {
		if len(members) > 1 {
			buckets = append(buckets, members)
		}
	}
	return buckets
}
