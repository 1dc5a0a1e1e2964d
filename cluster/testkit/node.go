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
	"fmt"
	"time"

	"github.com/tochemey/pgroups/cluster"
	"github.com/tochemey/pgroups/internal/syncmap"
)

const streamBufferSize = 1 << 10

// Node is one member of the virtual cluster. It implements both the
// substrate provider and the endpoint monitor primitives.
type Node struct {
	name string
	mesh *Mesh

	events   chan *cluster.Event
	downs    chan *cluster.Down
	services *syncmap.SyncMap[string, cluster.Handler]
	// watches installed by this node, ref -> endpoint
	watches *syncmap.SyncMap[string, cluster.Endpoint]
}

// enforce compilation error
var (
	_ cluster.Provider = (*Node)(nil)
	_ cluster.Monitor  = (*Node)(nil)
)

func newNode(name string, mesh *Mesh) *Node {
	return &Node{
		name:     name,
		mesh:     mesh,
		events:   make(chan *cluster.Event, streamBufferSize),
		downs:    make(chan *cluster.Down, streamBufferSize),
		services: syncmap.New[string, cluster.Handler](),
		watches:  syncmap.New[string, cluster.Endpoint](),
	}
}

// Start is a no-op; mesh nodes are live from the moment they are added.
func (n *Node) Start(context.Context) error { return nil }

// Stop is a no-op; the mesh owns the node's lifetime.
func (n *Node) Stop(context.Context) error { return nil }

// LocalNode returns the node name.
func (n *Node) LocalNode() string { return n.name }

// Peers lists the currently connected nodes.
func (n *Node) Peers() []string { return n.mesh.peersOf(n.name) }

// IsConnected reports whether the given node is reachable from this one.
func (n *Node) IsConnected(node string) bool { return n.mesh.connected(n.name, node) }

// Events exposes the membership event stream.
func (n *Node) Events() <-chan *cluster.Event { return n.events }

// RegisterService installs the handler for the given service name.
func (n *Node) RegisterService(service string, handler cluster.Handler) error {
	if _, ok := n.services.Get(service); ok {
		return cluster.ErrServiceAlreadyRegistered
	}
	n.services.Set(service, handler)
	return nil
}

// Send delivers a best-effort message to a service on a connected node.
func (n *Node) Send(_ context.Context, node, service string, payload []byte) error {
	handler, err := n.resolve(node, service)
	if err != nil {
		return err
	}
	go handler.HandleSend(n.name, payload)
	return nil
}

// Call performs a synchronous request against a service on a connected node.
func (n *Node) Call(ctx context.Context, node, service string, payload []byte, timeout time.Duration) ([]byte, error) {
	handler, err := n.resolve(node, service)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := handler.HandleCall(ctx, n.name, payload)
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Watch installs a liveness watch on the endpoint. Watching a dead endpoint
// delivers the down notification immediately.
func (n *Node) Watch(ref string, endpoint cluster.Endpoint) error {
	if !n.mesh.connected(n.name, endpoint.Node) {
		return fmt.Errorf("%w: %s", cluster.ErrNodeUnreachable, endpoint.Node)
	}
	if !n.mesh.registerWatch(n.name, ref, endpoint) {
		n.deliverDown(&cluster.Down{Ref: ref, Endpoint: endpoint, Reason: cluster.ReasonDied})
		return nil
	}
	n.watches.Set(ref, endpoint)
	return nil
}

// Unwatch removes the watch installed under the given reference.
func (n *Node) Unwatch(ref string) {
	if endpoint, ok := n.watches.Get(ref); ok {
		n.watches.Delete(ref)
		n.mesh.dropWatch(ref, endpoint)
	}
}

// Notifications exposes the down notification stream.
func (n *Node) Notifications() <-chan *cluster.Down { return n.downs }

func (n *Node) resolve(node, service string) (cluster.Handler, error) {
	if !n.mesh.connected(n.name, node) {
		return nil, fmt.Errorf("%w: %s", cluster.ErrNodeUnreachable, node)
	}
	target := n.mesh.Node(node)
	if target == nil {
		return nil, fmt.Errorf("%w: %s", cluster.ErrNodeUnreachable, node)
	}
	handler, ok := target.services.Get(service)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", cluster.ErrServiceNotFound, service, node)
	}
	return handler, nil
}

func (n *Node) deliverEvent(event *cluster.Event) {
	select {
	case n.events <- event:
	default:
	}
}

func (n *Node) deliverDown(down *cluster.Down) {
	select {
	case n.downs <- down:
	default:
	}
}
