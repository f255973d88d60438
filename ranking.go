package cardcache

import "github.com/google/btree"

type rankGroup struct {
	card   int64
	probes []*Probe
}

// RankedResult maps resolved cardinalities to the probes sharing them,
// iterated ascending. Ties are grouped under one cardinality; order
// within a group is unspecified. Not safe for concurrent mutation; the
// aggregator builds it single-threaded in the poll loop.
type RankedResult struct {
	tree  *btree.BTreeG[*rankGroup]
	count int
}

func NewRankedResult() *RankedResult {
	return &RankedResult{
		tree: btree.NewG(2, func(a, b *rankGroup) bool { return a.card < b.card }),
	}
}

func (r *RankedResult) add(card int64, p *Probe) {
	if g, ok := r.tree.Get(&rankGroup{card: card}); ok {
		g.probes = append(g.probes, p)
	} else {
		r.tree.ReplaceOrInsert(&rankGroup{card: card, probes: []*Probe{p}})
	}
	r.count++
}

// Min returns the smallest resolved cardinality and its probes.
func (r *RankedResult) Min() (int64, []*Probe, bool) {
	g, ok := r.tree.Min()
	if !ok {
		return 0, nil, false
	}
	return g.card, g.probes, true
}

// Ascend visits cardinality groups smallest-first until fn returns
// false.
func (r *RankedResult) Ascend(fn func(cardinality int64, probes []*Probe) bool) {
	r.tree.Ascend(func(g *rankGroup) bool { return fn(g.card, g.probes) })
}

// Len is the number of ranked probes.
func (r *RankedResult) Len() int { return r.count }

// Groups is the number of distinct cardinalities.
func (r *RankedResult) Groups() int { return r.tree.Len() }
