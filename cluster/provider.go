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

package cluster

import (
	"context"
	"time"
)

// Handler consumes inbound traffic addressed to a named service on the
// local node.
type Handler interface {
	// HandleSend processes a best-effort message. It runs outside the
	// provider's receive loop and must not block indefinitely.
	HandleSend(from string, payload []byte)
	// HandleCall processes a synchronous call and returns the reply payload.
	HandleCall(ctx context.Context, from string, payload []byte) ([]byte, error)
}

// Provider abstracts the clustering substrate: node membership, membership
// change events and addressed messaging between named services.
//
// Implementations must deliver a NodeJoined event on each peer that becomes
// connected and a NodeLeft event on each peer that becomes disconnected,
// in the order the local node observes them.
type Provider interface {
	// Start boots the substrate and joins the cluster.
	Start(ctx context.Context) error
	// Stop leaves the cluster and frees resources. It is safe to call
	// multiple times.
	Stop(ctx context.Context) error
	// LocalNode returns the name of the local node.
	LocalNode() string
	// Peers lists the currently connected nodes, the local node excluded.
	Peers() []string
	// IsConnected reports whether the given node is currently connected.
	// The local node is always connected.
	IsConnected(node string) bool
	// Events exposes the stream of membership changes.
	Events() <-chan *Event
	// RegisterService installs the handler for inbound traffic addressed
	// to the given service name on this node.
	RegisterService(service string, handler Handler) error
	// Send delivers a best-effort message to the given service on the
	// given node. Delivery is not acknowledged.
	Send(ctx context.Context, node, service string, payload []byte) error
	// Call performs a synchronous request against the given service on the
	// given node and returns its reply. A non-positive timeout leaves the
	// bound to the substrate.
	Call(ctx context.Context, node, service string, payload []byte, timeout time.Duration) ([]byte, error)
}
