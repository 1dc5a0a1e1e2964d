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
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/tochemey/pgroups/cluster"
)

// watchRecord is one installed liveness watch: the obituary subscription
// plus a guard ensuring the one-shot delivery contract.
type watchRecord struct {
	endpoint cluster.Endpoint
	sub      *nats.Subscription
	once     sync.Once
}

// RegisterEndpoint declares a worker hosted on this node and returns its
// endpoint. Liveness queries about the worker are answered positively until
// it is deregistered.
func (m *Mesh) RegisterEndpoint(id string) cluster.Endpoint {
	m.hosted.Add(id)
	return cluster.NewEndpoint(id, m.config.Name)
}

// DeregisterEndpoint declares a hosted worker gone and publishes its
// obituary so that every watcher observes the death.
func (m *Mesh) DeregisterEndpoint(endpoint cluster.Endpoint) {
	m.hosted.Remove(endpoint.ID)
	if m.conn == nil {
		return
	}
	if err := m.conn.Publish(m.downSubject(endpoint.Node, endpoint.ID), []byte(cluster.ReasonDied)); err != nil {
		m.logger.Warnf("failed to publish the obituary of endpoint=(%s): %v", endpoint, err)
	}
}

// Watch installs a liveness watch on the endpoint: it subscribes to the
// endpoint's obituary subject and probes the hosting node so that watching
// an already dead endpoint still delivers a notification.
func (m *Mesh) Watch(ref string, endpoint cluster.Endpoint) error {
	if m.conn == nil {
		return cluster.ErrProviderNotStarted
	}
	if !m.IsConnected(endpoint.Node) {
		return fmt.Errorf("%w: %s", cluster.ErrNodeUnreachable, endpoint.Node)
	}

	record := &watchRecord{endpoint: endpoint}
	sub, err := m.conn.Subscribe(m.downSubject(endpoint.Node, endpoint.ID), func(msg *nats.Msg) {
		m.fire(ref, record, string(msg.Data))
	})
	if err != nil {
		return fmt.Errorf("failed to watch endpoint=(%s): %w", endpoint, err)
	}
	record.sub = sub
	m.watches.Set(ref, record)

	alive, err := m.probe(endpoint)
	if err != nil {
		// the hosting node is a member but its registry is not answering;
		// surface unreachability so the caller can fall back to brokering
		m.Unwatch(ref)
		return fmt.Errorf("%w: %s", cluster.ErrNodeUnreachable, endpoint.Node)
	}
	if !alive {
		m.fire(ref, record, cluster.ReasonDied)
	}
	return nil
}

// Unwatch removes the watch installed under the given reference.
func (m *Mesh) Unwatch(ref string) {
	if record, ok := m.watches.Get(ref); ok {
		m.watches.Delete(ref)
		_ = record.sub.Unsubscribe()
	}
}

// Notifications exposes the down notification stream.
func (m *Mesh) Notifications() <-chan *cluster.Down {
	return m.downs
}

// probe asks the hosting node whether the endpoint is still registered.
func (m *Mesh) probe(endpoint cluster.Endpoint) (bool, error) {
	if endpoint.Node == m.config.Name {
		return m.hosted.Contains(endpoint.ID), nil
	}
	msg, err := m.conn.Request(m.aliveSubject(endpoint.Node), []byte(endpoint.ID), m.config.LivenessTimeout)
	if err != nil {
		return false, err
	}
	return string(msg.Data) == "1", nil
}

// subscribeLiveness answers liveness probes about workers hosted here.
func (m *Mesh) subscribeLiveness() error {
	sub, err := m.conn.Subscribe(m.aliveSubject(m.config.Name), func(msg *nats.Msg) {
		answer := "0"
		if m.hosted.Contains(string(msg.Data)) {
			answer = "1"
		}
		if err := m.conn.Publish(msg.Reply, []byte(answer)); err != nil {
			m.logger.Warnf("failed to answer a liveness probe: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe liveness probes: %w", err)
	}
	m.subscriptions.Set("alive", sub)
	return nil
}

// fire delivers the down notification exactly once and retires the watch.
func (m *Mesh) fire(ref string, record *watchRecord, reason string) {
	record.once.Do(func() {
		m.watches.Delete(ref)
		_ = record.sub.Unsubscribe()
		select {
		case m.downs <- &cluster.Down{Ref: ref, Endpoint: record.endpoint, Reason: reason}:
		default:
			m.logger.Warnf("down notification buffer is full, dropping endpoint=(%s)", record.endpoint)
		}
	})
}

// severNode fires a noconnection down for every watch on endpoints homed on
// the lost node.
func (m *Mesh) severNode(node string) {
	m.watches.Range(func(ref string, record *watchRecord) {
		if record.endpoint.Node == node {
			m.fire(ref, record, cluster.ReasonNoConnection)
		}
	})
}
