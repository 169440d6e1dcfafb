package examauditor

import "sort"

// unionFind is a plain disjoint-set forest with union by rank and path halving.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// ClusterBuilder groups duplicate questions. Exact signature matches are
// unioned across the whole set; fuzzy matches are only checked within
// prefilter buckets to keep the pairwise comparison bounded.
type ClusterBuilder struct {
	DuplicateThreshold float64
	Prefilter          *TopicPrefilter
}

// Build computes duplicate clusters over the question set. Clusters of size 1
// are dropped. Output ordering and keep selection are deterministic for a
// given input set.
func (b *ClusterBuilder) Build(questions []Question) []Cluster {
	n := len(questions)
	if n < 2 {
		return nil
	}

	canon := make([]string, n)
	bySig := make(map[Signature][]int)
	for i, q := range questions {
		canon[i] = Canonical(q.Text)
		sig := Normalize(q.Text)
		bySig[sig] = append(bySig[sig], i)
	}

	uf := newUnionFind(n)
	for _, idxs := range bySig {
		for i := 1; i < len(idxs); i++ {
			uf.union(idxs[0], idxs[i])
		}
	}

	for _, bucket := range b.Prefilter.Buckets(questions) {
		for a := 0; a < len(bucket); a++ {
			for c := a + 1; c < len(bucket); c++ {
				i, j := bucket[a], bucket[c]
				if uf.find(i) == uf.find(j) {
					continue
				}
				if FuzzyRatio(canon[i], canon[j]) >= b.DuplicateThreshold {
					uf.union(i, j)
				}
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	var clusters []Cluster
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		qs := make([]Question, len(members))
		for i, idx := range members {
			qs[i] = questions[idx]
		}
		keep := chooseKeep(qs)
		cluster := Cluster{KeepID: keep}
		for _, q := range qs {
			cluster.Members = append(cluster.Members, q.ID)
			if q.ID != keep {
				cluster.RemoveIDs = append(cluster.RemoveIDs, q.ID)
			}
		}
		sort.Strings(cluster.Members)
		sort.Strings(cluster.RemoveIDs)
		clusters = append(clusters, cluster)
	}
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].KeepID < clusters[j].KeepID
	})
	return clusters
}

// chooseKeep nominates the cluster member to survive: longest non-empty
// explanation, then a complete 4-option set, then earliest creation time, then
// smallest id. The chain is a total order, so the choice is reproducible.
func chooseKeep(members []Question) string {
	best := members[0]
	for _, q := range members[1:] {
		if keepPrefers(q, best) {
			best = q
		}
	}
	return best.ID
}

func keepPrefers(a, b Question) bool {
	if la, lb := len(a.Explanation), len(b.Explanation); la != lb {
		return la > lb
	}
	fa, fb := len(a.Options) == 4, len(b.Options) == 4
	if fa != fb {
		return fa
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
