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
	"sort"

	goset "github.com/deckarep/golang-set/v2"

	"github.com/tochemey/pgroups/cluster"
)

// mailbox message shapes. Replies travel on per-call buffered channels so
// the receive loop never blocks on a caller.
type (
	applyMessage struct {
		env   *envelope
		reply chan error
	}
	listsMessage struct {
		group string
		reply chan *listsResult
	}
	listsResult struct {
		found bool
		all   []cluster.Endpoint
		local []cluster.Endpoint
	}
	whichMessage struct {
		reply chan []string
	}
	hasGroupMessage struct {
		group string
		reply chan bool
	}
	syncMessage struct {
		reply chan struct{}
	}
	subscribeMessage struct {
		observer *Observer
		reply    chan bool
	}
	unsubscribeMessage struct {
		id string
	}
	peerMessage struct {
		env *envelope
	}
	fetchMessage struct {
		groups []string
		reply  chan []listSnapshot
	}
)

// receive is the single consumer of the mailbox, the substrate event stream
// and the monitor notifications. Every state table access happens here.
func (x *registry) receive(mailbox chan any, stopCh chan struct{}, stopped chan struct{}) {
	defer close(stopped)

	events := x.provider.Events()
	downs := x.monitor.Notifications()

	for {
		select {
		case <-stopCh:
			x.cleanup()
			return
		case msg := <-mailbox:
			x.handle(msg, stopCh)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			x.handleClusterEvent(event)
		case down, ok := <-downs:
			if !ok {
				downs = nil
				continue
			}
			x.handleDown(down)
		}
	}
}

func (x *registry) handle(msg any, stopCh chan struct{}) {
	switch m := msg.(type) {
	case *applyMessage:
		m.reply <- x.applyEnvelope(m.env)
	case *listsMessage:
		result := &listsResult{}
		if result.all, result.found = x.table.membersOf(m.group); result.found {
			result.local, _ = x.table.localMembersOf(m.group)
		}
		m.reply <- result
	case *whichMessage:
		m.reply <- x.table.groupNames()
	case *hasGroupMessage:
		m.reply <- x.table.hasGroup(m.group)
	case *syncMessage:
		close(m.reply)
	case *subscribeMessage:
		m.reply <- x.subscribe(m.observer, stopCh)
	case *unsubscribeMessage:
		x.removeObserver(m.id)
	case *peerMessage:
		x.handlePeer(m.env)
	case *fetchMessage:
		m.reply <- x.table.snapshots(m.groups)
	default:
		x.config.logger.Warnf("unhandled registry message %T", msg)
	}
}

// applyEnvelope applies one mutation to the state table and dispatches the
// resulting delta to the observers.
func (x *registry) applyEnvelope(env *envelope) error {
	switch env.Type {
	case wireCreate:
		x.table.assureGroup(env.Group)
	case wireDelete:
		if x.table.hasGroup(env.Group) {
			x.notifyObservers(x.table.deleteGroup(env.Group))
		}
	case wireJoin:
		// the group is created when missing so a fan-out reaching a node
		// that missed the create still converges
		x.table.assureGroup(env.Group)
		x.notifyObservers(x.table.joinGroup(env.Group, env.Endpoint.endpoint()))
	case wireLeave:
		if x.table.hasGroup(env.Group) {
			x.notifyObservers(x.table.leaveGroup(env.Group, env.Endpoint.endpoint()))
		}
	}
	return nil
}

// handlePeer processes hello, resync and exchange messages.
func (x *registry) handlePeer(env *envelope) {
	switch env.Type {
	case wireHello:
		x.sendExchange(env.From)
	case wireResync:
		for _, peer := range x.provider.Peers() {
			x.sendExchange(peer)
		}
	case wireExchange:
		x.mergeExchange(env)
	default:
		x.config.logger.Warnf("unhandled peer message %s from node=(%s)", env.Type, env.From)
	}
}

// handleClusterEvent reacts to membership changes: a node that became
// connected receives our state. Disconnections require no action here;
// the endpoint monitors drive removals.
func (x *registry) handleClusterEvent(event *cluster.Event) {
	switch event.Type {
	case cluster.NodeJoined:
		x.config.logger.Infof("node=(%s) joined, exchanging state", event.Node)
		x.sendExchange(event.Node)
	case cluster.NodeLeft:
		x.config.logger.Infof("node=(%s) left", event.Node)
	}
}

// handleDown clears every membership of the dead endpoint and notifies the
// observers. A stale reference from a released watch has no effect.
func (x *registry) handleDown(down *cluster.Down) {
	affected := x.table.memberDied(down.Ref)
	if len(affected) > 0 {
		x.config.logger.Infof("endpoint=(%s) is down (%s), left groups %v", down.Endpoint, down.Reason, affected)
	}
	x.notifyObservers(affected)
}

// sendExchange snapshots the state relevant to the peer inside the receive
// loop and ships it off-loop.
func (x *registry) sendExchange(peer string) {
	if peer == x.node {
		return
	}
	env := &envelope{Type: wireExchange, From: x.node, State: x.table.exchangeState(peer)}
	payload, err := encodeEnvelope(env)
	if err != nil {
		x.config.logger.Errorf("failed to encode exchange for node=(%s): %v", peer, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), helloTimeout)
		defer cancel()
		if err := x.provider.Send(ctx, peer, ServiceName, payload); err != nil {
			x.config.logger.Debugf("exchange to node=(%s) failed: %v", peer, err)
		}
	}()
}

// mergeExchange folds a peer's state into the local table. The merge is
// union-only: members are added when unknown, never removed on absence.
// Removal is driven solely by endpoint death notifications.
func (x *registry) mergeExchange(env *envelope) {
	affected := goset.NewThreadUnsafeSet[string]()
	for _, group := range env.State {
		x.table.assureGroup(group.Group)
		for _, wire := range group.Members {
			endpoint := wire.endpoint()
			if x.table.isMember(group.Group, endpoint) {
				continue
			}
			x.table.joinGroup(group.Group, endpoint)
			affected.Add(group.Group)
		}
	}

	if affected.Cardinality() > 0 {
		names := affected.ToSlice()
		sort.Strings(names)
		x.config.logger.Debugf("merged exchange from node=(%s), groups %v updated", env.From, names)
		x.notifyObservers(names)
	}
}

// subscribe adds the observer to the subscriber set and watches its
// lifetime so a dead observer is removed without any action on its part.
func (x *registry) subscribe(observer *Observer, stopCh chan struct{}) bool {
	if _, ok := x.observers[observer.id]; ok {
		return false
	}
	x.observers[observer.id] = observer
	go func() {
		select {
		case <-observer.done:
			_ = x.post(&unsubscribeMessage{id: observer.id})
		case <-stopCh:
		}
	}()
	return true
}

// notifyObservers fans the delta out to every subscribed observer. An
// observer whose buffer is full is unsubscribed instead of blocking the
// loop; the updates it already received stay a prefix of the mutation
// sequence.
func (x *registry) notifyObservers(groups []string) {
	if len(groups) == 0 {
		return
	}
	for id, observer := range x.observers {
		select {
		case observer.updates <- &Update{Groups: groups}:
		default:
			x.config.logger.Warnf("observer=(%s) is not keeping up, unsubscribing", id)
			x.removeObserver(id)
		}
	}
}

// removeObserver drops the observer and closes its update channel.
func (x *registry) removeObserver(id string) {
	observer, ok := x.observers[id]
	if !ok {
		return
	}
	delete(x.observers, id)
	close(observer.updates)
}

// cleanup runs when the receive loop exits: every endpoint watch is
// released and every observer closed.
func (x *registry) cleanup() {
	x.table.releaseAll()
	for id := range x.observers {
		x.removeObserver(id)
	}
}
