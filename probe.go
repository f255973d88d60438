package cardcache

import (
	"sync/atomic"

	"github.com/unkn0wn-root/cardcache/store"
)

// Probe is one candidate indexed column: the column identifier and the
// value ranges to count, grouped per counter column family. The
// resolved cardinality slot is written by the aggregator as an output
// parameter and outlives the call, so a probe abandoned to the
// background after an early return is still filled in eventually.
type Probe struct {
	Column string

	ranges map[string][]store.ValueRange

	card     atomic.Int64
	resolved atomic.Bool
}

func NewProbe(column string) *Probe {
	return &Probe{Column: column, ranges: make(map[string][]store.ValueRange)}
}

// AddRange registers a value range to probe under the given counter
// column family. Returns the probe for chaining.
func (p *Probe) AddRange(family string, r store.ValueRange) *Probe {
	p.ranges[family] = append(p.ranges[family], r)
	return p
}

// Cardinality returns the resolved cardinality and whether it has been
// resolved yet. Safe to call concurrently with a running aggregation.
func (p *Probe) Cardinality() (int64, bool) {
	if !p.resolved.Load() {
		return 0, false
	}
	return p.card.Load(), true
}

func (p *Probe) setCardinality(n int64) {
	p.card.Store(n)
	p.resolved.Store(true)
}
