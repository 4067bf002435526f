// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hashicorp/go-set/v3"
	"github.com/nkvstore/orchestrator/control"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/posener/complete"
)

// clusterFile is the on-disk shape of a cluster descriptor: the nodes,
// buckets, and services an agent is willing to operate on. It is a CLI
// convenience, not part of the config store's own schema.
type clusterFile struct {
	Self     string   `json:"self"`
	Nodes    []nodeJSON   `json:"nodes"`
	Buckets  []bucketJSON `json:"buckets"`
	Services map[string][]string `json:"services"`
}

type nodeJSON struct {
	ID       string   `json:"id"`
	Addr     string   `json:"addr"`
	Services []string `json:"services"`
	Group    string   `json:"group"`
}

type bucketJSON struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	NumReplicas int      `json:"num_replicas"`
	NumVbuckets int      `json:"num_vbuckets"`
	Servers     []string `json:"servers"`
}

// loadCluster reads path and builds a control.Cluster from it.
func loadCluster(path string) (*control.Cluster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cluster file: %w", err)
	}
	var cf clusterFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("parse cluster file: %w", err)
	}

	nodes := make([]structs.Node, 0, len(cf.Nodes))
	for _, n := range cf.Nodes {
		svcs := make([]structs.Service, 0, len(n.Services))
		for _, s := range n.Services {
			svcs = append(svcs, structs.Service(s))
		}
		nodes = append(nodes, structs.Node{
			ID:         structs.NodeID(n.ID),
			Membership: structs.MembershipActive,
			Services:   set.From(svcs),
			Group:      structs.GroupUUID(n.Group),
		})
	}

	buckets := make(map[string]structs.BucketConfig, len(cf.Buckets))
	for _, b := range cf.Buckets {
		servers := make([]structs.NodeID, 0, len(b.Servers))
		for _, s := range b.Servers {
			servers = append(servers, structs.NodeID(s))
		}
		typ := structs.BucketMembase
		if b.Type == "memcached" {
			typ = structs.BucketMemcached
		}
		buckets[b.Name] = structs.BucketConfig{
			Name:        b.Name,
			Type:        typ,
			NumReplicas: b.NumReplicas,
			NumVbuckets: b.NumVbuckets,
			Servers:     structs.NewNodeSet(servers...),
			Map:         structs.NewVBucketMap(b.NumVbuckets, b.NumReplicas),
		}
	}

	services := make(structs.ServiceMap, len(cf.Services))
	for svc, ids := range cf.Services {
		nodeIDs := make([]structs.NodeID, 0, len(ids))
		for _, id := range ids {
			nodeIDs = append(nodeIDs, structs.NodeID(id))
		}
		services[structs.Service(svc)] = structs.NewNodeSet(nodeIDs...)
	}

	return &control.Cluster{
		Nodes:    nodes,
		Buckets:  buckets,
		Services: services,
		Self:     structs.NodeID(cf.Self),
	}, nil
}

// loadNodeAddrs reads the same cluster file as loadCluster and returns
// just the node-id -> dial-address mapping, used by the agent to build
// an engineclient.Dialer.
func loadNodeAddrs(path string) (map[structs.NodeID]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cluster file: %w", err)
	}
	var cf clusterFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("parse cluster file: %w", err)
	}
	out := make(map[structs.NodeID]string, len(cf.Nodes))
	for _, n := range cf.Nodes {
		out[structs.NodeID(n.ID)] = n.Addr
	}
	return out, nil
}

// nodePredictor completes node ids out of a cluster file named by the
// -cluster flag, read fresh on every completion request.
type nodePredictor struct {
	clusterPath func() string
}

func (p nodePredictor) Predict(a complete.Args) []string {
	path := p.clusterPath()
	if path == "" {
		return nil
	}
	cluster, err := loadCluster(path)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(cluster.Nodes))
	for _, n := range cluster.Nodes {
		out = append(out, string(n.ID))
	}
	return out
}
