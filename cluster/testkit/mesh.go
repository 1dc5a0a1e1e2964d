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

// Package testkit provides an in-process clustering substrate: a mesh of
// named nodes with controllable pairwise connectivity, addressed messaging,
// endpoint liveness tracking and a process-wide named lock. It exists to
// exercise cluster-aware components in a single test binary.
package testkit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	goset "github.com/deckarep/golang-set/v2"
	"go.uber.org/atomic"

	"github.com/tochemey/pgroups/cluster"
)

// Mesh is a virtual cluster. Nodes added to the mesh are fully connected by
// default; tests drive partitions and healing through the Connect and
// Disconnect calls, with silent variants that simulate missed membership
// events.
type Mesh struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	adjacency map[string]goset.Set[string]
	// alive endpoints per the whole mesh
	alive goset.Set[cluster.Endpoint]
	// endpoint -> watch ref -> name of the watching node
	watchers map[cluster.Endpoint]map[string]string
	sequence *atomic.Int64
	locker   *Locker
}

// NewMesh creates an empty virtual cluster.
func NewMesh() *Mesh {
	return &Mesh{
		nodes:     make(map[string]*Node),
		adjacency: make(map[string]goset.Set[string]),
		alive:     goset.NewSet[cluster.Endpoint](),
		watchers:  make(map[cluster.Endpoint]map[string]string),
		sequence:  atomic.NewInt64(0),
		locker:    NewLocker(),
	}
}

// AddNode registers a node and connects it to every existing node without
// emitting membership events, as if the cluster had always been whole.
func (m *Mesh) AddNode(name string) *Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	node := newNode(name, m)
	m.nodes[name] = node
	m.adjacency[name] = goset.NewSet[string]()
	for peer := range m.nodes {
		if peer == name {
			continue
		}
		m.adjacency[name].Add(peer)
		m.adjacency[peer].Add(name)
	}
	return node
}

// Node returns the named node.
func (m *Mesh) Node(name string) *Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nodes[name]
}

// Locker returns the mesh-wide named lock.
func (m *Mesh) Locker() *Locker {
	return m.locker
}

// Connect links two nodes and delivers a NodeJoined event to both sides.
func (m *Mesh) Connect(a, b string) {
	m.link(a, b)
	m.emit(a, &cluster.Event{Node: b, Type: cluster.NodeJoined, Timestamp: time.Now()})
	m.emit(b, &cluster.Event{Node: a, Type: cluster.NodeJoined, Timestamp: time.Now()})
}

// ConnectSilent links two nodes without emitting events, simulating a
// missed node-up notification.
func (m *Mesh) ConnectSilent(a, b string) {
	m.link(a, b)
}

// Disconnect unlinks two nodes, delivers a NodeLeft event to both sides and
// fires a noconnection down for every cross-link watch between them.
func (m *Mesh) Disconnect(a, b string) {
	m.unlink(a, b)
	m.emit(a, &cluster.Event{Node: b, Type: cluster.NodeLeft, Timestamp: time.Now()})
	m.emit(b, &cluster.Event{Node: a, Type: cluster.NodeLeft, Timestamp: time.Now()})
	m.severWatches(a, b)
	m.severWatches(b, a)
}

// DisconnectSilent unlinks two nodes without events or downs, simulating
// pure message loss.
func (m *Mesh) DisconnectSilent(a, b string) {
	m.unlink(a, b)
}

// Spawn starts a virtual process on the given node and returns its endpoint.
func (m *Mesh) Spawn(node string) cluster.Endpoint {
	endpoint := cluster.NewEndpoint(fmt.Sprintf("proc-%d", m.sequence.Inc()), node)
	m.mu.Lock()
	m.alive.Add(endpoint)
	m.mu.Unlock()
	return endpoint
}

// Kill terminates a virtual process. Every node watching it receives a
// down notification with the died reason.
func (m *Mesh) Kill(endpoint cluster.Endpoint) {
	m.mu.Lock()
	m.alive.Remove(endpoint)
	refs := m.watchers[endpoint]
	delete(m.watchers, endpoint)
	watching := make(map[string]*Node, len(refs))
	for ref, watcher := range refs {
		if node := m.nodes[watcher]; node != nil {
			node.watches.Delete(ref)
			watching[ref] = node
		}
	}
	m.mu.Unlock()

	for ref, node := range watching {
		node.deliverDown(&cluster.Down{Ref: ref, Endpoint: endpoint, Reason: cluster.ReasonDied})
	}
}

// IsAlive reports whether the virtual process is still running.
func (m *Mesh) IsAlive(endpoint cluster.Endpoint) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alive.Contains(endpoint)
}

func (m *Mesh) link(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.adjacency[a]; ok {
		set.Add(b)
	}
	if set, ok := m.adjacency[b]; ok {
		set.Add(a)
	}
}

func (m *Mesh) unlink(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.adjacency[a]; ok {
		set.Remove(b)
	}
	if set, ok := m.adjacency[b]; ok {
		set.Remove(a)
	}
}

func (m *Mesh) emit(node string, event *cluster.Event) {
	m.mu.RLock()
	target := m.nodes[node]
	m.mu.RUnlock()
	if target != nil {
		target.deliverEvent(event)
	}
}

// severWatches fires noconnection downs for every watch held by the watcher
// node on endpoints homed on the lost node.
func (m *Mesh) severWatches(watcher, lost string) {
	m.mu.Lock()
	node := m.nodes[watcher]
	severed := make(map[string]cluster.Endpoint)
	for endpoint, refs := range m.watchers {
		if endpoint.Node != lost {
			continue
		}
		for ref, owner := range refs {
			if owner != watcher {
				continue
			}
			severed[ref] = endpoint
			delete(refs, ref)
		}
		if len(refs) == 0 {
			delete(m.watchers, endpoint)
		}
	}
	if node != nil {
		for ref := range severed {
			node.watches.Delete(ref)
		}
	}
	m.mu.Unlock()

	if node == nil {
		return
	}
	for ref, endpoint := range severed {
		node.deliverDown(&cluster.Down{Ref: ref, Endpoint: endpoint, Reason: cluster.ReasonNoConnection})
	}
}

func (m *Mesh) connected(a, b string) bool {
	if a == b {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.adjacency[a]
	return ok && set.Contains(b)
}

func (m *Mesh) peersOf(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.adjacency[name]
	if !ok {
		return nil
	}
	peers := set.ToSlice()
	sort.Strings(peers)
	return peers
}

// registerWatch records a node's watch on an endpoint. It reports whether
// the endpoint is still alive; a watch on a dead endpoint is not recorded.
func (m *Mesh) registerWatch(watcher, ref string, endpoint cluster.Endpoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.alive.Contains(endpoint) {
		return false
	}
	refs, ok := m.watchers[endpoint]
	if !ok {
		refs = make(map[string]string)
		m.watchers[endpoint] = refs
	}
	refs[ref] = watcher
	return true
}

func (m *Mesh) dropWatch(ref string, endpoint cluster.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if refs, ok := m.watchers[endpoint]; ok {
		delete(refs, ref)
		if len(refs) == 0 {
			delete(m.watchers, endpoint)
		}
	}
}
