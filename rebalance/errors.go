// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package rebalance

import (
	"errors"
	"fmt"

	"github.com/nkvstore/orchestrator/structs"
)

// Exit reasons surfaced to callers . Stopped is never
// logged as a failure; every other reason here aborts the rebalance.
var (
	ErrStopped                              = errors.New("stopped")
	ErrNoKVNodesLeft                        = errors.New("no_kv_nodes_left")
	ErrDeltaRecoveryNotPossible             = errors.New("delta_recovery_not_possible")
	ErrPreRebalanceConfigSyncFailed         = errors.New("pre_rebalance_config_synchronization_failed")
	ErrBadReplicas                          = errors.New("bad_replicas")
	ErrBadReplicasDueToBadResults            = errors.New("bad_replicas_due_to_bad_results")
)

// BucketsCleanupFailed reports which nodes failed to clean up on-disk
// state for buckets no longer required.
type BucketsCleanupFailed struct {
	Nodes structs.NodeSet
}

func (e *BucketsCleanupFailed) Error() string {
	return fmt.Sprintf("buckets_cleanup_failed: %v", e.Nodes.Slice())
}

// BucketsShutdownWaitFailed reports which nodes did not finish tearing
// down excess local buckets within the scaled timeout.
type BucketsShutdownWaitFailed struct {
	Nodes structs.NodeSet
}

func (e *BucketsShutdownWaitFailed) Error() string {
	return fmt.Sprintf("buckets_shutdown_wait_failed: %v", e.Nodes.Slice())
}

// PreRebalanceJanitorRunFailed reports which buckets failed their
// pre-move janitor sweep, aborting the rebalance before any vbucket
// moves for that bucket begin.
type PreRebalanceJanitorRunFailed struct {
	Buckets []string
}

func (e *PreRebalanceJanitorRunFailed) Error() string {
	return fmt.Sprintf("pre_rebalance_janitor_run_failed: %v", e.Buckets)
}

// MoverCrashed wraps the underlying reason a bucket's Vbucket Mover
// exited fatally.
type MoverCrashed struct {
	Bucket string
	Reason error
}

func (e *MoverCrashed) Error() string {
	return fmt.Sprintf("mover_crashed(%s): %v", e.Bucket, e.Reason)
}

func (e *MoverCrashed) Unwrap() error { return e.Reason }
