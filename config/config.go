// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package config holds the orchestrator's tunables: the timeouts and
// parallelism knobs every operation consults, assembled with a
// functional-options pattern.
package config

import "time"

// Config bundles every tunable the rebalance and failover orchestrators
// consult.
type Config struct {
	// MoveParallelism bounds how many vbuckets may move concurrently
	// between any single (src, dst) node pair. Default is 1.
	MoveParallelism int

	// ReadinessTimeout bounds how long the orchestrator waits for a
	// keep-node to report ready during the rebalance loop. Default 60s.
	ReadinessTimeout time.Duration

	// QueryStatesTimeout bounds a single query_states RPC round. Default
	// 10s.
	QueryStatesTimeout time.Duration

	// ApplyConfigTimeout bounds a config-store SetMultiple/apply call.
	// Default 300s.
	ApplyConfigTimeout time.Duration

	// BucketsShutdownTimeoutPerBucket scales the wait-for-bucket-
	// shutdown step by the number of buckets being torn down. Default
	// 20s per bucket.
	BucketsShutdownTimeoutPerBucket time.Duration

	// RebalanceOutDelay is the pause after a bucket finishes moving
	// vbuckets away from a member before that bucket's rebalance step is
	// considered finalized.
	RebalanceOutDelay time.Duration

	// StopGracePeriod is the extra bound added to QueryStatesTimeout when
	// computing how long a stop request may take to be honored:
	// T_stop = query_states_timeout + 5s.
	StopGracePeriod time.Duration

	// JanitorSchedule is the cron expression (hashicorp/cronexpr syntax)
	// on which the background janitor scheduler runs periodic sweeps.
	JanitorSchedule string

	// SupervisorMaxRestarts and SupervisorWindow bound how many times the replication
	// supervisor restarts a crashing worker under a one_for_one policy
	// (default: max 3 restarts per 10s).
	SupervisorMaxRestarts int
	SupervisorWindow      time.Duration

	// MapHistorySize bounds how many past vbucket maps are retained per
	// bucket for delta-recovery and reuse scoring.
	MapHistorySize int

	// MaxServiceEjectDelay bounds how long the rebalance orchestrator
	// waits, after every bucket has committed its new map and before any
	// node is actually ejected, for services that depend on an ejected
	// node to drain. It should be set to the maximum eject delay of any
	// service running on the cluster.
	MaxServiceEjectDelay time.Duration
}

// Option mutates a Config during construction.
type Option func(*Config)

// Default returns a Config populated with the production defaults.
func Default() Config {
	return Config{
		MoveParallelism:                 1,
		ReadinessTimeout:                60 * time.Second,
		QueryStatesTimeout:              10 * time.Second,
		ApplyConfigTimeout:              300 * time.Second,
		BucketsShutdownTimeoutPerBucket: 20 * time.Second,
		RebalanceOutDelay:               0,
		StopGracePeriod:                 5 * time.Second,
		JanitorSchedule:                 "*/30 * * * * * *",
		SupervisorMaxRestarts:           3,
		SupervisorWindow:                10 * time.Second,
		MapHistorySize:                  50,
		MaxServiceEjectDelay:            0,
	}
}

// New builds a Config starting from Default and applying opts in order.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithMoveParallelism overrides the per-(src,dst) vbucket move concurrency.
func WithMoveParallelism(p int) Option {
	return func(c *Config) { c.MoveParallelism = p }
}

// WithReadinessTimeout overrides the bucket-readiness wait bound.
func WithReadinessTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadinessTimeout = d }
}

// WithQueryStatesTimeout overrides the query_states RPC bound.
func WithQueryStatesTimeout(d time.Duration) Option {
	return func(c *Config) { c.QueryStatesTimeout = d }
}

// WithApplyConfigTimeout overrides the config-apply bound.
func WithApplyConfigTimeout(d time.Duration) Option {
	return func(c *Config) { c.ApplyConfigTimeout = d }
}

// WithBucketsShutdownTimeoutPerBucket overrides the per-bucket shutdown
// wait scaling factor.
func WithBucketsShutdownTimeoutPerBucket(d time.Duration) Option {
	return func(c *Config) { c.BucketsShutdownTimeoutPerBucket = d }
}

// WithRebalanceOutDelay overrides the post-move settle delay applied to
// buckets that lost members.
func WithRebalanceOutDelay(d time.Duration) Option {
	return func(c *Config) { c.RebalanceOutDelay = d }
}

// WithJanitorSchedule overrides the background sweep cadence.
func WithJanitorSchedule(expr string) Option {
	return func(c *Config) { c.JanitorSchedule = expr }
}

// WithMapHistorySize overrides how many past maps are retained per bucket.
func WithMapHistorySize(n int) Option {
	return func(c *Config) { c.MapHistorySize = n }
}

// WithMaxServiceEjectDelay overrides the pre-ejection service drain wait.
func WithMaxServiceEjectDelay(d time.Duration) Option {
	return func(c *Config) { c.MaxServiceEjectDelay = d }
}

// StopDeadline returns the bound within which a stop request must be
// honored.
func (c Config) StopDeadline() time.Duration {
	return c.QueryStatesTimeout + c.StopGracePeriod
}

// BucketsShutdownTimeout scales BucketsShutdownTimeoutPerBucket by the
// number of buckets being torn down.
func (c Config) BucketsShutdownTimeout(numBuckets int) time.Duration {
	if numBuckets <= 0 {
		numBuckets = 1
	}
	return c.BucketsShutdownTimeoutPerBucket * time.Duration(numBuckets)
}
