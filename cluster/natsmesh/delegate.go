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

package natsmesh

import (
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/tochemey/pgroups/cluster"
)

// eventDelegate bridges memberlist notifications into the mesh event
// stream. Memberlist invokes it from its own goroutines.
type eventDelegate struct {
	mesh *Mesh
}

// enforce compilation error
var _ memberlist.EventDelegate = (*eventDelegate)(nil)

// NotifyJoin emits a NodeJoined event for every peer that becomes a member.
func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	if node.Name == d.mesh.config.Name {
		return
	}
	d.mesh.emit(&cluster.Event{Node: node.Name, Type: cluster.NodeJoined, Timestamp: time.Now()})
}

// NotifyLeave emits a NodeLeft event and severs every watch homed on the
// lost node.
func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	if node.Name == d.mesh.config.Name {
		return
	}
	d.mesh.emit(&cluster.Event{Node: node.Name, Type: cluster.NodeLeft, Timestamp: time.Now()})
	d.mesh.severNode(node.Name)
}

// NotifyUpdate is ignored; node metadata never changes.
func (d *eventDelegate) NotifyUpdate(*memberlist.Node) {}

// emit pushes an event without ever blocking the membership layer.
func (m *Mesh) emit(event *cluster.Event) {
	select {
	case m.events <- event:
	default:
		m.logger.Warnf("event buffer is full, dropping %s for node=(%s)", event.Type, event.Node)
	}
}
