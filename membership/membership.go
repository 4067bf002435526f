// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package membership tracks which nodes are alive using a gossip pool
// built on hashicorp/serf. The config store remains the durable source of
// truth for each node's orchestration-level Membership tag (active,
// inactive_added, inactive_failed); this package only answers "is it
// reachable right now". The rebalance and failover orchestrators do not
// consult it: they take node membership from their callers.
package membership

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/serf/serf"
	"github.com/nkvstore/orchestrator/structs"
)

// Pool wraps a serf.Serf cluster and exposes the set of currently alive
// members by their orchestrator NodeID.
type Pool struct {
	serf   *serf.Serf
	events chan serf.Event
	logger hclog.Logger
}

// Config configures a new Pool.
type Config struct {
	NodeID    structs.NodeID
	BindAddr  string
	BindPort  int
	Logger    hclog.Logger
}

// New starts a serf agent identified as cfg.NodeID.
func New(cfg Config) (*Pool, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("membership")

	events := make(chan serf.Event, 64)

	conf := serf.DefaultConfig()
	conf.NodeName = string(cfg.NodeID)
	conf.MemberlistConfig.BindAddr = cfg.BindAddr
	conf.MemberlistConfig.BindPort = cfg.BindPort
	conf.EventCh = events
	conf.LogOutput = logger.StandardWriter(&hclog.StandardLoggerOptions{})

	s, err := serf.Create(conf)
	if err != nil {
		return nil, fmt.Errorf("start serf: %w", err)
	}

	return &Pool{serf: s, events: events, logger: logger}, nil
}

// Join contacts the given existing members to join their cluster.
func (p *Pool) Join(existing []string) (int, error) {
	return p.serf.Join(existing, true)
}

// Alive returns the set of nodes serf currently reports as alive.
func (p *Pool) Alive() structs.NodeSet {
	out := structs.NewNodeSet()
	for _, m := range p.serf.Members() {
		if m.Status == serf.StatusAlive {
			out.Insert(structs.NodeID(m.Name))
		}
	}
	return out
}

// Events exposes the raw serf event stream for callers (such as the event
// bus) that want to react to member-join/member-leave/member-failed as
// they happen, rather than polling Alive.
func (p *Pool) Events() <-chan serf.Event {
	return p.events
}

// Leave gracefully leaves the cluster, broadcasting intent so peers mark
// this node "left" rather than "failed".
func (p *Pool) Leave() error {
	return p.serf.Leave()
}

// Shutdown forcibly tears down the local serf agent without notifying
// peers; used when the process is exiting abnormally.
func (p *Pool) Shutdown() error {
	return p.serf.Shutdown()
}

// WaitUntilAlive blocks, polling at the given interval, until node appears
// in Alive() or timeout elapses.
func (p *Pool) WaitUntilAlive(node structs.NodeID, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.Alive().Contains(node) {
			return true
		}
		time.Sleep(interval)
	}
	return p.Alive().Contains(node)
}
