package cardcache

import "testing"

func TestRankedResultAscendingWithTies(t *testing.T) {
	a, b, c := NewProbe("a"), NewProbe("b"), NewProbe("c")

	r := NewRankedResult()
	r.add(5, a)
	r.add(1, b)
	r.add(5, c)

	if r.Len() != 3 || r.Groups() != 2 {
		t.Fatalf("Len = %d Groups = %d, want 3 and 2", r.Len(), r.Groups())
	}

	min, probes, ok := r.Min()
	if !ok || min != 1 || len(probes) != 1 || probes[0] != b {
		t.Fatalf("Min = %d %v %v", min, probes, ok)
	}

	var cards []int64
	var sizes []int
	r.Ascend(func(card int64, probes []*Probe) bool {
		cards = append(cards, card)
		sizes = append(sizes, len(probes))
		return true
	})
	if len(cards) != 2 || cards[0] != 1 || cards[1] != 5 || sizes[0] != 1 || sizes[1] != 2 {
		t.Fatalf("Ascend visited cards %v sizes %v", cards, sizes)
	}

	// early termination
	visited := 0
	r.Ascend(func(int64, []*Probe) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Fatalf("Ascend ignored stop: visited %d groups", visited)
	}
}

func TestRankedResultEmpty(t *testing.T) {
	r := NewRankedResult()
	if _, _, ok := r.Min(); ok {
		t.Fatalf("Min on empty result reported a group")
	}
	if r.Len() != 0 || r.Groups() != 0 {
		t.Fatalf("empty result has Len %d Groups %d", r.Len(), r.Groups())
	}
}

func TestProbeCardinalitySlot(t *testing.T) {
	p := NewProbe("row.age")
	if _, ok := p.Cardinality(); ok {
		t.Fatalf("fresh probe reports resolved")
	}
	p.setCardinality(12)
	n, ok := p.Cardinality()
	if !ok || n != 12 {
		t.Fatalf("Cardinality = %d %v", n, ok)
	}
}
