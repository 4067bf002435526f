// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"fmt"

	"github.com/hashicorp/go-set/v3"
	"github.com/hashicorp/go-uuid"
)

// GroupUUID identifies a server group (rack / fault domain).
type GroupUUID string

// NewServerGroup allocates a fresh ServerGroup with a random UUID, the
// same way new groups are minted when an operator defines one.
func NewServerGroup(name string, nodes NodeSet) (ServerGroup, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return ServerGroup{}, fmt.Errorf("generate server group uuid: %w", err)
	}
	if nodes == nil {
		nodes = NewNodeSet()
	}
	return ServerGroup{UUID: GroupUUID(id), Name: name, Nodes: nodes}, nil
}

// ServerGroup is a named subset of nodes used as an anti-affinity tag
// during map generation.
type ServerGroup struct {
	UUID  GroupUUID
	Name  string
	Nodes NodeSet
}

// ServerGroups is the full set of server groups known to the cluster.
type ServerGroups []ServerGroup

// NonEmpty returns the subset of groups that contain at least one node.
func (gs ServerGroups) NonEmpty() ServerGroups {
	out := make(ServerGroups, 0, len(gs))
	for _, g := range gs {
		if g.Nodes != nil && g.Nodes.Size() > 0 {
			out = append(out, g)
		}
	}
	return out
}

// GroupOf returns the group UUID enclosing node, or "" with ok=false if the
// node belongs to no group.
func (gs ServerGroups) GroupOf(node NodeID) (GroupUUID, bool) {
	for _, g := range gs {
		if g.Nodes != nil && g.Nodes.Contains(node) {
			return g.UUID, true
		}
	}
	return "", false
}

// Tags is the (node, group) restriction used by the Map Generator. A nil
// Tags value means "undefined": fewer than two non-empty groups intersect
// the keep-set, so anti-affinity is not enforced.
type Tags map[NodeID]GroupUUID

// BuildTags restricts groups to the nodes in keep and returns nil if fewer
// than two non-empty groups intersect keep. Otherwise it returns an error
// if any node in keep belongs to no group -- a server_groups_race
// condition.
func BuildTags(groups ServerGroups, keep NodeSet) (Tags, error) {
	nonEmpty := groups.NonEmpty()

	present := set.New[GroupUUID](len(nonEmpty))
	tags := make(Tags, keep.Size())
	anyGrouped := false
	for _, n := range keep.Slice() {
		gid, ok := nonEmpty.GroupOf(n)
		if ok {
			tags[n] = gid
			present.Insert(gid)
			anyGrouped = true
		}
	}

	if present.Size() < 2 {
		return nil, nil
	}

	if anyGrouped && len(tags) != keep.Size() {
		return nil, ErrServerGroupsRace
	}

	return tags, nil
}
