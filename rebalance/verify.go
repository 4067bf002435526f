// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package rebalance

import (
	"context"
	"sync"

	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/fanout"
	"github.com/nkvstore/orchestrator/structs"
)

// expectedReplicators computes every (src, dst, vbucket) replication
// stream implied by m's chains: for each vbucket, the master replicates
// to every other non-Unassigned chain member.
func expectedReplicators(m structs.VBucketMap) map[engineclient.Replicator]bool {
	want := make(map[engineclient.Replicator]bool)
	for vb, chain := range m {
		master := chain.Master()
		if master == structs.Unassigned {
			continue
		}
		for i, n := range chain {
			if i == 0 || n == structs.Unassigned {
				continue
			}
			want[engineclient.Replicator{Src: master, Dst: n, Vbucket: vb}] = true
		}
	}
	return want
}

// verifyReplication runs after a bucket's move: compute the replicator
// set the new map implies, query every keep-node
// for its actual replicator set, and compare. A mismatch is fatal
// (ErrBadReplicas); a node that could not be reached during verification
// is also fatal, but distinguished (ErrBadReplicasDueToBadResults) since
// the cause is different.
func verifyReplication(ctx context.Context, client engineclient.Client, bucket string, m structs.VBucketMap, keep structs.NodeSet) error {
	want := expectedReplicators(m)

	got := make(map[engineclient.Replicator]bool)
	var mu sync.Mutex

	res := fanout.Do(ctx, keep, keep.Size(), func(ctx context.Context, node structs.NodeID) error {
		reps, err := client.ReplicatorsOf(ctx, node, bucket)
		if err != nil {
			return err
		}
		mu.Lock()
		for _, r := range reps {
			got[r] = true
		}
		mu.Unlock()
		return nil
	})
	if res.Down.Size() > 0 || len(res.Bad) > 0 {
		return ErrBadReplicasDueToBadResults
	}

	if len(got) != len(want) {
		return ErrBadReplicas
	}
	for r := range want {
		if !got[r] {
			return ErrBadReplicas
		}
	}
	return nil
}
