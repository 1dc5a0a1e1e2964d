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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tochemey/pgroups/cluster"
)

// fakeInstaller records watch installs and releases without any substrate.
type fakeInstaller struct {
	sequence  int
	installed map[string]cluster.Endpoint
	released  []string
}

func newFakeInstaller() *fakeInstaller {
	return &fakeInstaller{installed: make(map[string]cluster.Endpoint)}
}

func (f *fakeInstaller) install(endpoint cluster.Endpoint) (string, *indirectWatcher) {
	f.sequence++
	ref := fmt.Sprintf("ref-%d", f.sequence)
	f.installed[ref] = endpoint
	return ref, nil
}

func (f *fakeInstaller) release(ref string, _ *indirectWatcher) {
	delete(f.installed, ref)
	f.released = append(f.released, ref)
}

// checkCounters asserts that every endpoint's watch counter equals the sum
// of its join counters across all groups, and that the watch index is the
// exact inverse of the watch table.
func checkCounters(t *testing.T, table *stateTable) {
	t.Helper()
	totals := make(map[cluster.Endpoint]int)
	for _, counters := range table.members {
		for endpoint, counter := range counters {
			totals[endpoint] += counter
		}
	}
	require.Len(t, table.watches, len(totals))
	for endpoint, total := range totals {
		entry := table.watches[endpoint]
		require.NotNil(t, entry, "endpoint %s has no watch", endpoint)
		assert.Equal(t, total, entry.counter, "endpoint %s", endpoint)
	}
	require.Len(t, table.watchIndex, len(table.watches))
	for ref, endpoint := range table.watchIndex {
		entry := table.watches[endpoint]
		require.NotNil(t, entry)
		assert.Equal(t, ref, entry.ref)
	}
}

func TestStateTable(t *testing.T) {
	local := func(id string) cluster.Endpoint { return cluster.NewEndpoint(id, "node-a") }
	remote := func(id string) cluster.Endpoint { return cluster.NewEndpoint(id, "node-b") }

	t.Run("With group lifecycle", func(t *testing.T) {
		table := newStateTable("node-a", newFakeInstaller())
		assert.False(t, table.hasGroup("workers"))

		table.assureGroup("workers")
		table.assureGroup("workers")
		assert.True(t, table.hasGroup("workers"))
		assert.Equal(t, []string{"workers"}, table.groupNames())

		members, found := table.membersOf("workers")
		require.True(t, found)
		assert.Empty(t, members)
	})
	t.Run("With repeated joins and symmetric leaves", func(t *testing.T) {
		installer := newFakeInstaller()
		table := newStateTable("node-a", installer)
		table.assureGroup("workers")
		endpoint := local("worker-1")

		assert.Equal(t, []string{"workers"}, table.joinGroup("workers", endpoint))
		assert.Equal(t, []string{"workers"}, table.joinGroup("workers", endpoint))
		checkCounters(t, table)

		members, _ := table.membersOf("workers")
		assert.Equal(t, []cluster.Endpoint{endpoint, endpoint}, members)
		locals, _ := table.localMembersOf("workers")
		assert.Equal(t, []cluster.Endpoint{endpoint}, locals)
		require.Len(t, installer.installed, 1)

		assert.Equal(t, []string{"workers"}, table.leaveGroup("workers", endpoint))
		members, _ = table.membersOf("workers")
		assert.Equal(t, []cluster.Endpoint{endpoint}, members)
		checkCounters(t, table)

		assert.Equal(t, []string{"workers"}, table.leaveGroup("workers", endpoint))
		members, _ = table.membersOf("workers")
		assert.Empty(t, members)
		locals, _ = table.localMembersOf("workers")
		assert.Empty(t, locals)
		assert.Empty(t, installer.installed)
		assert.Len(t, installer.released, 1)
		checkCounters(t, table)

		// leaving a group the endpoint is not a member of has no effect
		assert.Empty(t, table.leaveGroup("workers", endpoint))
	})
	t.Run("With local subset maintained per home node", func(t *testing.T) {
		table := newStateTable("node-a", newFakeInstaller())
		table.assureGroup("workers")
		table.joinGroup("workers", local("worker-1"))
		table.joinGroup("workers", remote("worker-2"))

		members, _ := table.membersOf("workers")
		assert.Len(t, members, 2)
		locals, _ := table.localMembersOf("workers")
		assert.Equal(t, []cluster.Endpoint{local("worker-1")}, locals)
	})
	t.Run("With one watch shared across groups", func(t *testing.T) {
		installer := newFakeInstaller()
		table := newStateTable("node-a", installer)
		table.assureGroup("workers")
		table.assureGroup("backups")
		endpoint := local("worker-1")

		table.joinGroup("workers", endpoint)
		table.joinGroup("backups", endpoint)
		require.Len(t, installer.installed, 1)
		checkCounters(t, table)

		table.leaveGroup("workers", endpoint)
		require.Len(t, installer.installed, 1)
		table.leaveGroup("backups", endpoint)
		assert.Empty(t, installer.installed)
		checkCounters(t, table)
	})
	t.Run("With delete clearing multi-joined members", func(t *testing.T) {
		installer := newFakeInstaller()
		table := newStateTable("node-a", installer)
		table.assureGroup("workers")
		first, second := local("worker-1"), remote("worker-2")

		table.joinGroup("workers", first)
		table.joinGroup("workers", first)
		table.joinGroup("workers", second)

		assert.Equal(t, []string{"workers"}, table.deleteGroup("workers"))
		assert.False(t, table.hasGroup("workers"))
		_, found := table.membersOf("workers")
		assert.False(t, found)
		assert.Empty(t, installer.installed)
		checkCounters(t, table)
	})
	t.Run("With member death clearing every membership", func(t *testing.T) {
		installer := newFakeInstaller()
		table := newStateTable("node-a", installer)
		table.assureGroup("workers")
		table.assureGroup("backups")
		endpoint := remote("worker-2")
		survivor := local("worker-1")

		table.joinGroup("workers", endpoint)
		table.joinGroup("workers", endpoint)
		table.joinGroup("backups", endpoint)
		table.joinGroup("workers", survivor)

		ref := table.watches[endpoint].ref
		affected := table.memberDied(ref)
		assert.Equal(t, []string{"backups", "workers"}, affected)

		members, _ := table.membersOf("workers")
		assert.Equal(t, []cluster.Endpoint{survivor}, members)
		members, _ = table.membersOf("backups")
		assert.Empty(t, members)
		checkCounters(t, table)

		// a stale reference has no effect
		assert.Empty(t, table.memberDied(ref))
	})
	t.Run("With exchange payload restricted to own and peer members", func(t *testing.T) {
		table := newStateTable("node-a", newFakeInstaller())
		table.assureGroup("workers")
		table.joinGroup("workers", local("worker-1"))
		table.joinGroup("workers", remote("worker-2"))
		table.joinGroup("workers", cluster.NewEndpoint("worker-3", "node-c"))

		state := table.exchangeState("node-b")
		require.Len(t, state, 1)
		assert.Equal(t, "workers", state[0].Group)
		assert.Equal(t, []wireEndpoint{
			{ID: "worker-1", Node: "node-a"},
			{ID: "worker-2", Node: "node-b"},
		}, state[0].Members)
	})
	t.Run("With snapshots honoring the group filter", func(t *testing.T) {
		table := newStateTable("node-a", newFakeInstaller())
		table.assureGroup("workers")
		table.assureGroup("backups")
		table.joinGroup("workers", local("worker-1"))

		all := table.snapshots(nil)
		assert.Len(t, all, 2)

		filtered := table.snapshots([]string{"workers", "unknown"})
		require.Len(t, filtered, 1)
		assert.Equal(t, "workers", filtered[0].Group)
		assert.Len(t, filtered[0].All, 1)
		assert.Len(t, filtered[0].Local, 1)
	})
	t.Run("With releaseAll dropping every watch", func(t *testing.T) {
		installer := newFakeInstaller()
		table := newStateTable("node-a", installer)
		table.assureGroup("workers")
		table.joinGroup("workers", local("worker-1"))
		table.joinGroup("workers", remote("worker-2"))

		table.releaseAll()
		assert.Empty(t, installer.installed)
		assert.Empty(t, table.watches)
		assert.Empty(t, table.watchIndex)
	})
}
