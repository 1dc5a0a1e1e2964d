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

	"github.com/tochemey/pgroups/cluster"
	"github.com/tochemey/pgroups/cluster/testkit"
	"github.com/tochemey/pgroups/log"
)

func TestVerifier(t *testing.T) {
	ctx := context.TODO()

	t.Run("With a consistent cluster reporting no diffs", func(t *testing.T) {
		mesh := testkit.NewMesh()
		regA := startNode(t, mesh, "node-a")
		startNode(t, mesh, "node-b")
		worker := mesh.Spawn("node-a")

		require.NoError(t, regA.Create(ctx, "workers"))
		require.NoError(t, regA.Join(ctx, "workers", worker))

		report, err := regA.VerifyClusterState(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"node-a", "node-b"}, report.Nodes)
		assert.Equal(t, []string{"workers"}, report.Groups)
		assert.Equal(t, 1, report.Members)
		assert.Empty(t, report.Diffs)
		assert.Empty(t, report.Unreachable)
		assert.Contains(t, report.String(), "diffs=0")
	})
	t.Run("With a node missing a member named in the diffs", func(t *testing.T) {
		mesh := testkit.NewMesh()
		regA := startNode(t, mesh, "node-a")
		startNode(t, mesh, "node-b")
		startNode(t, mesh, "node-c")

		worker := mesh.Spawn("node-a")
		require.NoError(t, regA.Create(ctx, "workers"))

		// node-b silently misses the join
		mesh.DisconnectSilent("node-a", "node-b")
		mesh.DisconnectSilent("node-c", "node-b")
		require.NoError(t, regA.Join(ctx, "workers", worker))
		mesh.ConnectSilent("node-a", "node-b")
		mesh.ConnectSilent("node-c", "node-b")

		report, err := regA.VerifyClusterState(ctx, "workers")
		require.NoError(t, err)
		require.Len(t, report.Diffs, 1)
		diff := report.Diffs[0]
		assert.Equal(t, "node-b", diff.Node)
		assert.Equal(t, "workers", diff.Group)
		assert.Equal(t, []cluster.Endpoint{worker}, diff.Missing)
		assert.Empty(t, diff.Extra)

		// a global resync followed by quiescence clears the asymmetry
		_, err = regA.GlobalResync(ctx)
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			report, err := regA.VerifyClusterState(ctx, "workers")
			return err == nil && len(report.Diffs) == 0
		}, 2*time.Second, 10*time.Millisecond)
	})
	t.Run("With an unreachable node recorded instead of raised", func(t *testing.T) {
		mesh := testkit.NewMesh()
		regA := startNode(t, mesh, "node-a")
		nodeB := mesh.AddNode("node-b")
		regB := New(nodeB, nodeB, mesh.Locker(), WithLogger(log.DiscardLogger))
		require.NoError(t, regB.Start(ctx))
		worker := mesh.Spawn("node-a")

		require.NoError(t, regA.Create(ctx, "workers"))
		require.NoError(t, regA.Join(ctx, "workers", worker))

		// the peer is still a member but its registry stops answering
		require.NoError(t, regB.Stop(ctx))

		report, err := regA.VerifyClusterState(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"node-b"}, report.Unreachable)
		assert.Equal(t, []string{"node-a"}, report.Nodes)
		assert.Equal(t, 1, report.Members)
		assert.Contains(t, report.String(), "unreachable")
	})
	t.Run("With an extra member flagged on the claiming node", func(t *testing.T) {
		mesh := testkit.NewMesh()
		regA := startNode(t, mesh, "node-a")
		regB := startNode(t, mesh, "node-b")
		worker := mesh.Spawn("node-b")

		require.NoError(t, regA.Create(ctx, "workers"))
		require.NoError(t, regA.Join(ctx, "workers", worker))

		// node-a silently misses the leave: it now claims a member its home
		// node no longer vouches for
		mesh.DisconnectSilent("node-a", "node-b")
		require.NoError(t, regB.Leave(ctx, "workers", worker))
		mesh.ConnectSilent("node-a", "node-b")

		report, err := regB.VerifyClusterState(ctx, "workers")
		require.NoError(t, err)
		require.Len(t, report.Diffs, 1)
		diff := report.Diffs[0]
		assert.Equal(t, "node-a", diff.Node)
		assert.Empty(t, diff.Missing)
		assert.Equal(t, []cluster.Endpoint{worker}, diff.Extra)
	})
}
