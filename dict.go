package main

import (
	"github.com/jcorbin/march/internal/blob"
)

// dictEntry is one word binding. A name may carry several entries
// (overloads) chained newest-first; entries are immutable after insertion
// except for attaching a lazy CID once a token-only definition is
// specialized.
type dictEntry struct {
	name        string
	addr        uint64    // runtime address, primitives only
	cid         *blob.CID // compiled definition, user words only
	primID      uint16
	sig         Signature
	isPrimitive bool
	isImmediate bool
	handler     func(c *Compiler, src *tokenSource) error
	tokens      []Token // retained body for lazy monomorphization
	priority    int
	next        *dictEntry
}

// Dictionary maps names to overload chains.
type Dictionary struct {
	entries map[string]*dictEntry
	count   int
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{entries: make(map[string]*dictEntry)}
}

// Len returns the number of entries across all chains.
func (d *Dictionary) Len() int { return d.count }

// Add prepends an entry to the name's chain; multiple entries per name
// are legal and resolve by typed lookup.
func (d *Dictionary) Add(e *dictEntry) {
	e.priority = e.sig.priority()
	e.next = d.entries[e.name]
	d.entries[e.name] = e
	d.count++
}

// Lookup returns the head of the chain: the most recently registered
// overload. Used where overload selection is irrelevant (immediate words,
// primitive-address resolution).
func (d *Dictionary) Lookup(name string) *dictEntry {
	return d.entries[name]
}

// LookupTyped scans the chain scoring each candidate against the top of
// the compile-time stack and returns the maximum; ties break toward the
// higher-priority (more concrete) signature.
func (d *Dictionary) LookupTyped(name string, ts typeStack) *dictEntry {
	var best *dictEntry
	bestScore := -1
	for e := d.entries[name]; e != nil; e = e.next {
		score := matchScore(e.sig, ts)
		if score < 0 {
			continue
		}
		if score > bestScore || (score == bestScore && best != nil && e.priority > best.priority) {
			best, bestScore = e, score
		}
	}
	return best
}
