// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"encoding/hex"
	"hash"
	"hash/fnv"
	"sort"
	"strconv"
)

// optsHasher builds a deterministic fingerprint for MapOpts. Field order is
// fixed so that Hash is stable across process restarts.
type optsHasher struct {
	h hash.Hash64
}

func newOptsHasher() *optsHasher {
	return &optsHasher{h: fnv.New64a()}
}

func (o *optsHasher) writeInt(v int) {
	o.h.Write([]byte(strconv.Itoa(v)))
	o.h.Write([]byte{0})
}

func (o *optsHasher) writeTags(tags Tags) {
	if len(tags) == 0 {
		o.h.Write([]byte("no-tags"))
		return
	}
	keys := make([]string, 0, len(tags))
	for n := range tags {
		keys = append(keys, string(n))
	}
	sort.Strings(keys)
	for _, k := range keys {
		o.h.Write([]byte(k))
		o.h.Write([]byte{':'})
		o.h.Write([]byte(tags[NodeID(k)]))
		o.h.Write([]byte{0})
	}
}

func (o *optsHasher) sum() string {
	return hex.EncodeToString(o.h.Sum(nil))
}
