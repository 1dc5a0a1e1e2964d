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

package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tochemey/pgroups/cluster"
)

// echoHandler records sends and answers calls with the payload reversed in
// ownership: it prefixes the sender name.
type echoHandler struct {
	sends chan string
}

func newEchoHandler() *echoHandler {
	return &echoHandler{sends: make(chan string, 16)}
}

func (h *echoHandler) HandleSend(from string, payload []byte) {
	h.sends <- from + ":" + string(payload)
}

func (h *echoHandler) HandleCall(_ context.Context, from string, payload []byte) ([]byte, error) {
	return []byte(from + ":" + string(payload)), nil
}

func TestMesh(t *testing.T) {
	ctx := context.TODO()

	t.Run("With nodes fully connected by default", func(t *testing.T) {
		mesh := NewMesh()
		nodeA := mesh.AddNode("node-a")
		nodeB := mesh.AddNode("node-b")

		assert.Equal(t, "node-a", nodeA.LocalNode())
		assert.Equal(t, []string{"node-a"}, nodeB.Peers())
		assert.True(t, nodeA.IsConnected("node-b"))
		assert.True(t, nodeA.IsConnected("node-a"))
	})
	t.Run("With connectivity changes emitting events", func(t *testing.T) {
		mesh := NewMesh()
		nodeA := mesh.AddNode("node-a")
		mesh.AddNode("node-b")

		mesh.Disconnect("node-a", "node-b")
		assert.False(t, nodeA.IsConnected("node-b"))
		select {
		case event := <-nodeA.Events():
			assert.Equal(t, cluster.NodeLeft, event.Type)
			assert.Equal(t, "node-b", event.Node)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the leave event")
		}

		mesh.Connect("node-a", "node-b")
		select {
		case event := <-nodeA.Events():
			assert.Equal(t, cluster.NodeJoined, event.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the join event")
		}

		mesh.DisconnectSilent("node-a", "node-b")
		assert.False(t, nodeA.IsConnected("node-b"))
		select {
		case event := <-nodeA.Events():
			t.Fatalf("unexpected event %v", event)
		default:
		}
	})
	t.Run("With addressed send and call", func(t *testing.T) {
		mesh := NewMesh()
		nodeA := mesh.AddNode("node-a")
		nodeB := mesh.AddNode("node-b")

		handler := newEchoHandler()
		require.NoError(t, nodeB.RegisterService("echo", handler))
		assert.ErrorIs(t, nodeB.RegisterService("echo", handler), cluster.ErrServiceAlreadyRegistered)

		require.NoError(t, nodeA.Send(ctx, "node-b", "echo", []byte("ping")))
		select {
		case received := <-handler.sends:
			assert.Equal(t, "node-a:ping", received)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the send")
		}

		reply, err := nodeA.Call(ctx, "node-b", "echo", []byte("ping"), time.Second)
		require.NoError(t, err)
		assert.Equal(t, "node-a:ping", string(reply))

		_, err = nodeA.Call(ctx, "node-b", "missing", nil, time.Second)
		assert.ErrorIs(t, err, cluster.ErrServiceNotFound)

		mesh.DisconnectSilent("node-a", "node-b")
		assert.ErrorIs(t, nodeA.Send(ctx, "node-b", "echo", nil), cluster.ErrNodeUnreachable)
		_, err = nodeA.Call(ctx, "node-b", "echo", nil, time.Second)
		assert.ErrorIs(t, err, cluster.ErrNodeUnreachable)
	})
	t.Run("With watches observing kills", func(t *testing.T) {
		mesh := NewMesh()
		nodeA := mesh.AddNode("node-a")
		mesh.AddNode("node-b")
		worker := mesh.Spawn("node-b")
		require.True(t, mesh.IsAlive(worker))

		require.NoError(t, nodeA.Watch("ref-1", worker))
		mesh.Kill(worker)
		assert.False(t, mesh.IsAlive(worker))

		select {
		case down := <-nodeA.Notifications():
			assert.Equal(t, "ref-1", down.Ref)
			assert.Equal(t, worker, down.Endpoint)
			assert.Equal(t, cluster.ReasonDied, down.Reason)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the down notification")
		}
	})
	t.Run("With watching a dead endpoint notifying immediately", func(t *testing.T) {
		mesh := NewMesh()
		nodeA := mesh.AddNode("node-a")
		worker := mesh.Spawn("node-a")
		mesh.Kill(worker)

		require.NoError(t, nodeA.Watch("ref-1", worker))
		select {
		case down := <-nodeA.Notifications():
			assert.Equal(t, cluster.ReasonDied, down.Reason)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the down notification")
		}
	})
	t.Run("With unwatch flushing the notification", func(t *testing.T) {
		mesh := NewMesh()
		nodeA := mesh.AddNode("node-a")
		worker := mesh.Spawn("node-a")

		require.NoError(t, nodeA.Watch("ref-1", worker))
		nodeA.Unwatch("ref-1")
		mesh.Kill(worker)

		select {
		case down := <-nodeA.Notifications():
			t.Fatalf("unexpected notification %v", down)
		case <-time.After(100 * time.Millisecond):
		}
	})
	t.Run("With disconnection severing cross watches", func(t *testing.T) {
		mesh := NewMesh()
		nodeA := mesh.AddNode("node-a")
		mesh.AddNode("node-b")
		worker := mesh.Spawn("node-b")

		require.NoError(t, nodeA.Watch("ref-1", worker))
		mesh.Disconnect("node-a", "node-b")

		select {
		case down := <-nodeA.Notifications():
			assert.Equal(t, cluster.ReasonNoConnection, down.Reason)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the down notification")
		}

		// watching across a severed link is refused
		assert.ErrorIs(t, nodeA.Watch("ref-2", worker), cluster.ErrNodeUnreachable)
	})
}

func TestLocker(t *testing.T) {
	ctx := context.TODO()

	t.Run("With mutual exclusion per key", func(t *testing.T) {
		locker := NewLocker()

		release, err := locker.Acquire(ctx, "alpha")
		require.NoError(t, err)

		blocked, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err = locker.Acquire(blocked, "alpha")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// an unrelated key is free
		other, err := locker.Acquire(ctx, "beta")
		require.NoError(t, err)
		require.NoError(t, other(ctx))

		require.NoError(t, release(ctx))
		release, err = locker.Acquire(ctx, "alpha")
		require.NoError(t, err)
		require.NoError(t, release(ctx))
	})
	t.Run("With primed aborts consumed", func(t *testing.T) {
		locker := NewLocker()
		locker.InjectAborts(2)

		_, err := locker.Acquire(ctx, "alpha")
		assert.ErrorIs(t, err, cluster.ErrLockAborted)
		_, err = locker.Acquire(ctx, "alpha")
		assert.ErrorIs(t, err, cluster.ErrLockAborted)

		release, err := locker.Acquire(ctx, "alpha")
		require.NoError(t, err)
		require.NoError(t, release(ctx))
	})
}
