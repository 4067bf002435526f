// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// HistoryEntry is one previously committed vbucket map together with the
// options it was generated under.
type HistoryEntry struct {
	Map  VBucketMap
	Opts MapOpts
}

// MapHistory is a bounded, ordered record of previously committed vbucket
// maps for one bucket. It is consulted by the Map Generator (to prefer
// reuse of recent chains) and the Delta Recovery Planner (to locate a past
// map compatible with a recovering node's retained vbuckets).
//
// It is backed by golang-lru's Cache rather than a hand-rolled ring buffer:
// the cache's LRU eviction gives a bounded, most-recent-favored history,
// and Keys() returns entries oldest-to-newest, which is exactly the
// iteration order the planner and generator need.
type MapHistory struct {
	cache *lru.Cache[int, HistoryEntry]
	next  int
}

// NewMapHistory builds a history bounded to size entries.
func NewMapHistory(size int) *MapHistory {
	if size <= 0 {
		size = 10
	}
	c, err := lru.New[int, HistoryEntry](size)
	if err != nil {
		// Only returned for size <= 0, which is excluded above.
		panic(err)
	}
	return &MapHistory{cache: c}
}

// Append records a newly committed map, evicting the oldest entry if the
// history is already at capacity.
func (h *MapHistory) Append(m VBucketMap, opts MapOpts) {
	h.cache.Add(h.next, HistoryEntry{Map: m.Clone(), Opts: opts})
	h.next++
}

// Entries returns the retained history, oldest first.
func (h *MapHistory) Entries() []HistoryEntry {
	keys := h.cache.Keys()
	out := make([]HistoryEntry, 0, len(keys))
	for _, k := range keys {
		if e, ok := h.cache.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained entries.
func (h *MapHistory) Len() int {
	return h.cache.Len()
}
