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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tochemey/pgroups/cluster"
	"github.com/tochemey/pgroups/cluster/testkit"
	"github.com/tochemey/pgroups/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startNode adds a node to the mesh and runs a registry on it.
func startNode(t *testing.T, mesh *testkit.Mesh, name string) Registry {
	t.Helper()
	node := mesh.AddNode(name)
	reg := New(node, node, mesh.Locker(),
		WithLogger(log.DiscardLogger),
		WithCallTimeout(2*time.Second),
		WithWatchRetryInterval(20*time.Millisecond),
	)
	require.NoError(t, reg.Start(context.TODO()))
	t.Cleanup(func() {
		require.NoError(t, reg.Stop(context.TODO()))
	})
	return reg
}

func TestSingleNode(t *testing.T) {
	ctx := context.TODO()

	t.Run("With create join and symmetric leaves", func(t *testing.T) {
		mesh := testkit.NewMesh()
		reg := startNode(t, mesh, "node-a")
		worker := mesh.Spawn("node-a")

		require.NoError(t, reg.Create(ctx, "workers"))
		require.NoError(t, reg.Join(ctx, "workers", worker))
		require.NoError(t, reg.Join(ctx, "workers", worker))

		members, err := reg.Members(ctx, "workers")
		require.NoError(t, err)
		assert.Equal(t, []cluster.Endpoint{worker, worker}, members)

		require.NoError(t, reg.Leave(ctx, "workers", worker))
		members, err = reg.Members(ctx, "workers")
		require.NoError(t, err)
		assert.Equal(t, []cluster.Endpoint{worker}, members)

		require.NoError(t, reg.Leave(ctx, "workers", worker))
		members, err = reg.Members(ctx, "workers")
		require.NoError(t, err)
		assert.Empty(t, members)

		// an extra leave is a silent no-op
		require.NoError(t, reg.Leave(ctx, "workers", worker))
		members, err = reg.Members(ctx, "workers")
		require.NoError(t, err)
		assert.Empty(t, members)
	})
	t.Run("With create being idempotent", func(t *testing.T) {
		mesh := testkit.NewMesh()
		reg := startNode(t, mesh, "node-a")

		require.NoError(t, reg.Create(ctx, "workers"))
		require.NoError(t, reg.Create(ctx, "workers"))
		groups, err := reg.WhichGroups(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"workers"}, groups)
	})
	t.Run("With join and leave requiring the group", func(t *testing.T) {
		mesh := testkit.NewMesh()
		reg := startNode(t, mesh, "node-a")
		worker := mesh.Spawn("node-a")

		err := reg.Join(ctx, "ghosts", worker)
		assert.ErrorIs(t, err, ErrNoSuchGroup)
		err = reg.Leave(ctx, "ghosts", worker)
		assert.ErrorIs(t, err, ErrNoSuchGroup)
		_, err = reg.Members(ctx, "ghosts")
		assert.ErrorIs(t, err, ErrNoSuchGroup)
		_, err = reg.LocalMembers(ctx, "ghosts")
		assert.ErrorIs(t, err, ErrNoSuchGroup)
		_, err = reg.Closest(ctx, "ghosts")
		assert.ErrorIs(t, err, ErrNoSuchGroup)
	})
	t.Run("With delete removing members and watches", func(t *testing.T) {
		mesh := testkit.NewMesh()
		reg := startNode(t, mesh, "node-a")
		first := mesh.Spawn("node-a")
		second := mesh.Spawn("node-a")

		require.NoError(t, reg.Create(ctx, "workers"))
		require.NoError(t, reg.Join(ctx, "workers", first))
		require.NoError(t, reg.Join(ctx, "workers", second))

		require.NoError(t, reg.Delete(ctx, "workers"))
		groups, err := reg.WhichGroups(ctx)
		require.NoError(t, err)
		assert.Empty(t, groups)
		_, err = reg.Members(ctx, "workers")
		assert.ErrorIs(t, err, ErrNoSuchGroup)
	})
	t.Run("With endpoint death clearing its memberships", func(t *testing.T) {
		mesh := testkit.NewMesh()
		reg := startNode(t, mesh, "node-a")
		worker := mesh.Spawn("node-a")

		require.NoError(t, reg.Create(ctx, "workers"))
		require.NoError(t, reg.Join(ctx, "workers", worker))
		require.NoError(t, reg.Join(ctx, "workers", worker))

		mesh.Kill(worker)
		assert.Eventually(t, func() bool {
			members, err := reg.Members(ctx, "workers")
			return err == nil && len(members) == 0
		}, 2*time.Second, 10*time.Millisecond)
	})
	t.Run("With joining a dead endpoint converging to empty", func(t *testing.T) {
		mesh := testkit.NewMesh()
		reg := startNode(t, mesh, "node-a")
		worker := mesh.Spawn("node-a")
		mesh.Kill(worker)

		require.NoError(t, reg.Create(ctx, "workers"))
		require.NoError(t, reg.Join(ctx, "workers", worker))
		assert.Eventually(t, func() bool {
			members, err := reg.Members(ctx, "workers")
			return err == nil && len(members) == 0
		}, 2*time.Second, 10*time.Millisecond)
	})
	t.Run("With sync flushing the mailbox", func(t *testing.T) {
		mesh := testkit.NewMesh()
		reg := startNode(t, mesh, "node-a")
		require.NoError(t, reg.Sync(ctx))
	})
	t.Run("With lock aborts retried until the mutation lands", func(t *testing.T) {
		mesh := testkit.NewMesh()
		reg := startNode(t, mesh, "node-a")

		mesh.Locker().InjectAborts(6)
		require.NoError(t, reg.Create(ctx, "workers"))
		groups, err := reg.WhichGroups(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"workers"}, groups)
	})
	t.Run("With API guarded before start and after stop", func(t *testing.T) {
		mesh := testkit.NewMesh()
		node := mesh.AddNode("node-a")
		reg := New(node, node, mesh.Locker(), WithLogger(log.DiscardLogger))

		assert.ErrorIs(t, reg.Create(ctx, "workers"), ErrRegistryNotStarted)
		_, err := reg.Members(ctx, "workers")
		assert.ErrorIs(t, err, ErrRegistryNotStarted)
		_, err = reg.WhichGroups(ctx)
		assert.ErrorIs(t, err, ErrRegistryNotStarted)
		assert.ErrorIs(t, reg.Sync(ctx), ErrRegistryNotStarted)
		_, err = reg.GlobalResync(ctx)
		assert.ErrorIs(t, err, ErrRegistryNotStarted)
		_, err = reg.VerifyClusterState(ctx)
		assert.ErrorIs(t, err, ErrRegistryNotStarted)

		require.NoError(t, reg.Stop(ctx))
	})
	t.Run("With start and stop being idempotent", func(t *testing.T) {
		mesh := testkit.NewMesh()
		node := mesh.AddNode("node-a")
		reg := New(node, node, mesh.Locker(), WithLogger(log.DiscardLogger))

		require.NoError(t, reg.Start(ctx))
		require.NoError(t, reg.Start(ctx))
		assert.Equal(t, "node-a", reg.Node())
		require.NoError(t, reg.Stop(ctx))
		require.NoError(t, reg.Stop(ctx))
	})
}

func TestClosest(t *testing.T) {
	ctx := context.TODO()

	t.Run("With a sole local member winning outright", func(t *testing.T) {
		mesh := testkit.NewMesh()
		regA := startNode(t, mesh, "node-a")
		startNode(t, mesh, "node-b")
		local := mesh.Spawn("node-a")
		remote := mesh.Spawn("node-b")

		require.NoError(t, regA.Create(ctx, "workers"))
		require.NoError(t, regA.Join(ctx, "workers", local))
		require.NoError(t, regA.Join(ctx, "workers", remote))

		for range 20 {
			picked, err := regA.Closest(ctx, "workers")
			require.NoError(t, err)
			assert.Equal(t, local, picked)
		}
	})
	t.Run("With remote members picked uniformly when no local exists", func(t *testing.T) {
		mesh := testkit.NewMesh()
		regA := startNode(t, mesh, "node-a")
		startNode(t, mesh, "node-b")
		first := mesh.Spawn("node-b")
		second := mesh.Spawn("node-b")

		require.NoError(t, regA.Create(ctx, "workers"))
		require.NoError(t, regA.Join(ctx, "workers", first))
		require.NoError(t, regA.Join(ctx, "workers", second))

		picked := make(map[cluster.Endpoint]int)
		for range 60 {
			endpoint, err := regA.Closest(ctx, "workers")
			require.NoError(t, err)
			picked[endpoint]++
		}
		assert.Len(t, picked, 2)
	})
	t.Run("With an empty group reporting no process", func(t *testing.T) {
		mesh := testkit.NewMesh()
		reg := startNode(t, mesh, "node-a")

		require.NoError(t, reg.Create(ctx, "workers"))
		_, err := reg.Closest(ctx, "workers")
		assert.ErrorIs(t, err, ErrNoProcess)
	})
}
