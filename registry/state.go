// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package registry

import (
	"sort"

	goset "github.com/deckarep/golang-set/v2"

	"github.com/tochemey/pgroups/cluster"
)

// watchInstaller abstracts the endpoint monitor registry from the state
// table. install returns the watch reference and, when the monitor had to be
// brokered, the indirect watcher owning it.
type watchInstaller interface {
	install(endpoint cluster.Endpoint) (string, *indirectWatcher)
	release(ref string, watcher *indirectWatcher)
}

// watchEntry tracks the liveness watch of one endpoint referenced by at
// least one group. counter is the sum of the endpoint's join counters across
// every group it belongs to. watcher is nil when the monitor was installed
// directly against the endpoint.
type watchEntry struct {
	ref     string
	watcher *indirectWatcher
	counter int
}

// groupLists is the cached materialisation of one group's membership.
// all repeats each endpoint as many times as its join counter.
type groupLists struct {
	all   []cluster.Endpoint
	local []cluster.Endpoint
}

// stateTable is the in-memory store of groups, members, local members,
// endpoint watches and materialised lists. It is owned by the registry's
// receive loop and is not safe for concurrent use.
type stateTable struct {
	node string
	// groups known on this node, including empty ones
	groups goset.Set[string]
	// group -> endpoint -> join counter
	members map[string]map[cluster.Endpoint]int
	// group -> endpoints hosted on this node
	localMembers map[string]goset.Set[cluster.Endpoint]
	// endpoint -> liveness watch record
	watches map[cluster.Endpoint]*watchEntry
	// watch reference -> endpoint, the inverse of watches
	watchIndex map[string]cluster.Endpoint
	// group -> cached membership snapshots
	lists map[string]*groupLists

	installer watchInstaller
}

// newStateTable creates an empty state table for the given local node.
func newStateTable(node string, installer watchInstaller) *stateTable {
	return &stateTable{
		node:         node,
		groups:       goset.NewThreadUnsafeSet[string](),
		members:      make(map[string]map[cluster.Endpoint]int),
		localMembers: make(map[string]goset.Set[cluster.Endpoint]),
		watches:      make(map[cluster.Endpoint]*watchEntry),
		watchIndex:   make(map[string]cluster.Endpoint),
		lists:        make(map[string]*groupLists),
		installer:    installer,
	}
}

// assureGroup upserts the group with empty members and lists. Idempotent.
func (s *stateTable) assureGroup(name string) {
	if s.groups.Contains(name) {
		return
	}
	s.groups.Add(name)
	s.members[name] = make(map[cluster.Endpoint]int)
	s.localMembers[name] = goset.NewThreadUnsafeSet[cluster.Endpoint]()
	s.lists[name] = &groupLists{}
}

// hasGroup reports whether the group is known on this node.
func (s *stateTable) hasGroup(name string) bool {
	return s.groups.Contains(name)
}

// groupNames returns the names of every known group.
func (s *stateTable) groupNames() []string {
	names := s.groups.ToSlice()
	sort.Strings(names)
	return names
}

// isMember reports whether the endpoint currently belongs to the group.
func (s *stateTable) isMember(name string, endpoint cluster.Endpoint) bool {
	return s.members[name][endpoint] > 0
}

// joinGroup registers one join of the endpoint into the group, installing a
// liveness watch on first reference. The group must exist. It returns the
// delta list for observer notification.
func (s *stateTable) joinGroup(name string, endpoint cluster.Endpoint) []string {
	s.members[name][endpoint]++

	entry := s.watches[endpoint]
	if entry == nil {
		ref, watcher := s.installer.install(endpoint)
		entry = &watchEntry{ref: ref, watcher: watcher}
		s.watches[endpoint] = entry
		s.watchIndex[ref] = endpoint
	}
	entry.counter++

	if endpoint.Node == s.node {
		s.localMembers[name].Add(endpoint)
	}

	s.refreshLists(name)
	return []string{name}
}

// leaveGroup unregisters one join of the endpoint from the group, releasing
// the liveness watch when the endpoint's last membership is gone. It returns
// the delta list for observer notification, empty when the endpoint was not
// a member.
func (s *stateTable) leaveGroup(name string, endpoint cluster.Endpoint) []string {
	counters, ok := s.members[name]
	if !ok || counters[endpoint] == 0 {
		return nil
	}

	counters[endpoint]--
	if counters[endpoint] == 0 {
		delete(counters, endpoint)
		if endpoint.Node == s.node {
			s.localMembers[name].Remove(endpoint)
		}
	}

	if entry := s.watches[endpoint]; entry != nil {
		entry.counter--
		if entry.counter == 0 {
			s.installer.release(entry.ref, entry.watcher)
			delete(s.watchIndex, entry.ref)
			delete(s.watches, endpoint)
		}
	}

	s.refreshLists(name)
	return []string{name}
}

// deleteGroup removes the group after clearing every remaining membership.
// It returns the delta list for observer notification.
func (s *stateTable) deleteGroup(name string) []string {
	counters := s.members[name]
	for endpoint := range counters {
		for counters[endpoint] > 0 {
			s.leaveGroup(name, endpoint)
		}
	}

	s.groups.Remove(name)
	delete(s.members, name)
	delete(s.localMembers, name)
	delete(s.lists, name)
	return []string{name}
}

// memberDied clears every membership of the endpoint behind the given watch
// reference and returns the affected group names. A reference with no
// corresponding endpoint is a stale remnant of a released watch and yields
// no effect.
func (s *stateTable) memberDied(ref string) []string {
	endpoint, ok := s.watchIndex[ref]
	if !ok {
		return nil
	}

	affected := make([]string, 0)
	for name, counters := range s.members {
		if counters[endpoint] == 0 {
			continue
		}
		for counters[endpoint] > 0 {
			s.leaveGroup(name, endpoint)
		}
		affected = append(affected, name)
	}
	sort.Strings(affected)
	return affected
}

// membersOf returns the materialised full members snapshot of the group.
func (s *stateTable) membersOf(name string) ([]cluster.Endpoint, bool) {
	lists, ok := s.lists[name]
	if !ok {
		return nil, false
	}
	out := make([]cluster.Endpoint, len(lists.all))
	copy(out, lists.all)
	return out, true
}

// localMembersOf returns the materialised local members snapshot of the group.
func (s *stateTable) localMembersOf(name string) ([]cluster.Endpoint, bool) {
	lists, ok := s.lists[name]
	if !ok {
		return nil, false
	}
	out := make([]cluster.Endpoint, len(lists.local))
	copy(out, lists.local)
	return out, true
}

// exchangeState builds the exchange payload for the given peer: every known
// group with the subset of its members homed on this node or on the peer.
func (s *stateTable) exchangeState(peer string) []wireGroup {
	names := s.groupNames()
	state := make([]wireGroup, 0, len(names))
	for _, name := range names {
		subset := make([]cluster.Endpoint, 0)
		for endpoint := range s.members[name] {
			if endpoint.Node == s.node || endpoint.Node == peer {
				subset = append(subset, endpoint)
			}
		}
		sortEndpoints(subset)
		state = append(state, wireGroup{Group: name, Members: toWireEndpoints(subset)})
	}
	return state
}

// snapshots returns the materialised views of the requested groups, or of
// every group when the filter is empty.
func (s *stateTable) snapshots(groups []string) []listSnapshot {
	names := groups
	if len(names) == 0 {
		names = s.groupNames()
	}
	out := make([]listSnapshot, 0, len(names))
	for _, name := range names {
		lists, ok := s.lists[name]
		if !ok {
			continue
		}
		out = append(out, listSnapshot{
			Group: name,
			All:   toWireEndpoints(lists.all),
			Local: toWireEndpoints(lists.local),
		})
	}
	return out
}

// refreshLists rebuilds the materialised snapshots of the group.
func (s *stateTable) refreshLists(name string) {
	counters := s.members[name]
	all := make([]cluster.Endpoint, 0, len(counters))
	for endpoint, counter := range counters {
		for i := 0; i < counter; i++ {
			all = append(all, endpoint)
		}
	}
	sortEndpoints(all)

	local := s.localMembers[name].ToSlice()
	sortEndpoints(local)

	s.lists[name] = &groupLists{all: all, local: local}
}

// releaseAll drops every installed watch. Used at shutdown.
func (s *stateTable) releaseAll() {
	for endpoint, entry := range s.watches {
		s.installer.release(entry.ref, entry.watcher)
		delete(s.watchIndex, entry.ref)
		delete(s.watches, endpoint)
	}
}

// sortEndpoints orders endpoints by their textual form for stable snapshots.
func sortEndpoints(endpoints []cluster.Endpoint) {
	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].String() < endpoints[j].String()
	})
}
