// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package structs

import "errors"

// ErrServerGroupsRace is raised by BuildTags when at least two non-empty
// server groups intersect the keep-set and some keep-set node belongs to
// no group. With fewer than two such groups BuildTags returns nil tags
// and no error, whatever the grouping of the other nodes.
// this is treated as an assertion at
// the start of map generation; recovery from the race is left to the
// caller (typically: retry generation once server group membership has
// settled).
var ErrServerGroupsRace = errors.New("server_groups_race")

// ErrBroadcasterClosed is returned by Broadcaster.Send after Close.
var ErrBroadcasterClosed = errors.New("broadcaster closed")
