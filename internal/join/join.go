// Package join implements the hash-keyed join engine used by the binary
// expression operators (spec.md §4.6); the group-by node partitions its
// series on its own and does not call this package. It provides
// INNER/LEFT/RIGHT/OUTER/CROSS/
// NATURAL_OUTER(disjoint)/TERNARY variants over series partitioned by a
// 64-bit tag-key hash.
package join

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/tsqueng/coreengine/internal/tsdata"
)

// Variant selects the join semantics applied to matching key buckets.
type Variant int

const (
	Inner Variant = iota
	Left
	Right
	Outer
	Cross
	NaturalOuter // "disjoint": only emit when either side's bucket is missing
	Ternary
)

// KeySelector computes the 64-bit partition key for a series from an
// explicit tag-key list, "all common tags", or a caller-supplied function;
// spec.md §4.6 leaves the selection strategy open, so callers build this
// from whichever their query config declares.
type KeySelector func(tags map[string]string) uint64

// KeysFromTagList builds a KeySelector over an explicit ordered list of tag
// keys, hashing their concatenated "k=v" pairs with a stable non-cryptographic
// hash (the same xxhash used for row-key salting, per spec.md's "configured
// tag-key selector").
func KeysFromTagList(tagKeys []string) KeySelector {
	sorted := append([]string{}, tagKeys...)
	sort.Strings(sorted)
	return func(tags map[string]string) uint64 {
		h := xxhash.New()
		for _, k := range sorted {
			h.WriteString(k)
			h.WriteString("=")
			h.WriteString(tags[k])
			h.WriteString(";")
		}
		return h.Sum64()
	}
}

// Pair is one emitted (left, right) combination; either side may be the
// zero value (nil ID) when the variant allows a missing side.
type Pair struct {
	Left, Right tsdata.Series
	HasLeft     bool
	HasRight    bool
}

// TernaryTuple is one emitted (left, right, condition) combination for the
// Ternary variant.
type TernaryTuple struct {
	Left, Right, Cond tsdata.Series
}

func bucket(series []tsdata.Series, key KeySelector) map[uint64][]tsdata.Series {
	m := make(map[uint64][]tsdata.Series)
	for _, s := range series {
		k := key(s.Tags)
		m[k] = append(m[k], s)
	}
	return m
}

// Run partitions left and right by key and emits pairs per variant. Tie
// breaks (multiple series sharing a key) always emit the full Cartesian
// product of that key's bucketed lists (spec.md §4.6 "Tie-breaks").
func Run(left, right []tsdata.Series, key KeySelector, variant Variant) []Pair {
	lb := bucket(left, key)
	rb := bucket(right, key)

	keys := map[uint64]bool{}
	for k := range lb {
		keys[k] = true
	}
	for k := range rb {
		keys[k] = true
	}

	ordered := make([]uint64, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	var out []Pair
	for _, k := range ordered {
		ls, lok := lb[k]
		rs, rok := rb[k]
		out = append(out, emit(ls, lok, rs, rok, variant)...)
	}
	return out
}

func emit(ls []tsdata.Series, lok bool, rs []tsdata.Series, rok bool, variant Variant) []Pair {
	switch variant {
	case Inner:
		if !lok || !rok {
			return nil
		}
		return cartesian(ls, rs)
	case Left:
		if !lok {
			return nil
		}
		if !rok {
			return oneSided(ls, true)
		}
		return cartesian(ls, rs)
	case Right:
		if !rok {
			return nil
		}
		if !lok {
			return oneSided(rs, false)
		}
		return cartesian(ls, rs)
	case Outer:
		switch {
		case lok && rok:
			return cartesian(ls, rs)
		case lok:
			return oneSided(ls, true)
		case rok:
			return oneSided(rs, false)
		default:
			return nil
		}
	case Cross:
		if !lok || !rok {
			return nil
		}
		return cartesian(ls, rs)
	case NaturalOuter:
		switch {
		case lok && !rok:
			return oneSided(ls, true)
		case rok && !lok:
			return oneSided(rs, false)
		default:
			return nil
		}
	default:
		return nil
	}
}

func oneSided(series []tsdata.Series, isLeft bool) []Pair {
	out := make([]Pair, len(series))
	for i, s := range series {
		if isLeft {
			out[i] = Pair{Left: s, HasLeft: true}
		} else {
			out[i] = Pair{Right: s, HasRight: true}
		}
	}
	return out
}

func cartesian(ls, rs []tsdata.Series) []Pair {
	out := make([]Pair, 0, len(ls)*len(rs))
	for _, l := range ls {
		for _, r := range rs {
			out = append(out, Pair{Left: l, Right: r, HasLeft: true, HasRight: true})
		}
	}
	return out
}

// RunTernary partitions three sets by key and emits the Cartesian product
// of (left, right, cond) per matching key, used by the ternary expression
// operator (spec.md §4.6 TERNARY variant).
func RunTernary(left, right, cond []tsdata.Series, key KeySelector) []TernaryTuple {
	lb := bucket(left, key)
	rb := bucket(right, key)
	cb := bucket(cond, key)

	keys := map[uint64]bool{}
	for k := range lb {
		keys[k] = true
	}
	ordered := make([]uint64, 0, len(keys))
	for k := range keys {
		if _, ok := rb[k]; !ok {
			continue
		}
		if _, ok := cb[k]; !ok {
			continue
		}
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	var out []TernaryTuple
	for _, k := range ordered {
		for _, l := range lb[k] {
			for _, r := range rb[k] {
				for _, c := range cb[k] {
					out = append(out, TernaryTuple{Left: l, Right: r, Cond: c})
				}
			}
		}
	}
	return out
}
