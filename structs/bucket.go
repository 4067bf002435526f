// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package structs

// BucketType distinguishes the two kinds of bucket the orchestrator
// dispatches over: a membase bucket gets a full vbucket map and
// replication, a memcached bucket is a flat server list.
type BucketType string

const (
	BucketMembase   BucketType = "membase"
	BucketMemcached BucketType = "memcached"
)

// MapOpts is the set of options used to generate a vbucket map. A staged
// delta-recovery map is only taken as-is by the generator when its
// MapOpts hash equals the current one (see IsTriviallyCompatiblePastMap);
// the generator's reuse of history chains does not compare options.
type MapOpts struct {
	NumReplicas int
	NumVbuckets int
	Tags        Tags // nil when fewer than two non-empty groups intersect the keep-set
}

// Hash returns a stable fingerprint of the options, used as BucketConfig's
// MapOptsHash to detect when a stored map was generated under options that
// no longer match the bucket's current configuration. Legacy compatibility
// fields (e.g. a replication_topology marker kept only for wire
// compatibility with long-retired server versions) are intentionally not
// reproduced here.
func (o MapOpts) Hash() string {
	h := newOptsHasher()
	h.writeInt(o.NumReplicas)
	h.writeInt(o.NumVbuckets)
	h.writeTags(o.Tags)
	return h.sum()
}

// BucketConfig is the labelled record describing one bucket.
type BucketConfig struct {
	Name             string
	Type             BucketType
	NumReplicas      int
	NumVbuckets      int
	Servers          NodeSet
	Map              VBucketMap
	FastForwardMap   *VBucketMap
	MapOptsHash      string
	DeltaRecoveryMap *VBucketMap
}

// Opts reconstructs the MapOpts this bucket was most recently configured
// with (sans tags, which are recomputed fresh per generation since they
// depend on the current keep-set).
func (b BucketConfig) Opts() MapOpts {
	return MapOpts{NumReplicas: b.NumReplicas, NumVbuckets: b.NumVbuckets}
}
