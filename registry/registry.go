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

// Package registry implements a cluster-wide process-group directory: every
// node holds its own replica of the group membership state, kept eventually
// consistent through lock-guarded mutation fan-outs and pairwise state
// exchanges. Reads are always served locally.
package registry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/tochemey/pgroups/cluster"
)

// Registry is a distributed process-group directory. Groups map a
// user-chosen name to the set of live worker endpoints that joined the
// group anywhere in the cluster.
//
// Mutations are coordinated cluster-wide; reads are local and coordination
// free. Consistency is eventual: a finite sequence of membership changes
// followed by quiescence leaves every node with the union of the live
// members.
type Registry interface {
	// Start registers the registry with the substrate, runs its receive
	// loop and announces it to every connected peer.
	Start(ctx context.Context) error
	// Stop shuts the registry down, releasing every endpoint watch and
	// closing every observer. Safe to call multiple times.
	Stop(ctx context.Context) error
	// Node returns the name of the local node.
	Node() string

	// Create registers the group cluster-wide. Creating an existing group
	// is a no-op.
	Create(ctx context.Context, name string) error
	// Delete removes the group and all its memberships cluster-wide.
	Delete(ctx context.Context, name string) error
	// Join adds the endpoint to the group cluster-wide. An endpoint may
	// join the same group several times; it must then leave as many times.
	Join(ctx context.Context, name string, endpoint cluster.Endpoint) error
	// Leave removes one join of the endpoint from the group cluster-wide.
	// Leaving a group the endpoint is not a member of is a no-op.
	Leave(ctx context.Context, name string, endpoint cluster.Endpoint) error

	// Members returns the group's membership as seen by this node, with an
	// endpoint repeated once per join.
	Members(ctx context.Context, name string) ([]cluster.Endpoint, error)
	// LocalMembers returns the group members hosted on this node.
	LocalMembers(ctx context.Context, name string) ([]cluster.Endpoint, error)
	// WhichGroups returns the names of all groups known on this node.
	WhichGroups(ctx context.Context) ([]string, error)
	// Closest returns a member to dispatch to, preferring endpoints hosted
	// on this node and breaking ties uniformly at random.
	Closest(ctx context.Context, name string) (cluster.Endpoint, error)

	// Sync waits until every event enqueued before the call is processed.
	Sync(ctx context.Context) error
	// Resync makes this node re-send its state to every connected peer.
	// Fire and forget.
	Resync(ctx context.Context) error
	// GlobalResync signals every known node, this one included, to re-send
	// its state to its peers. It returns the number of nodes signalled.
	GlobalResync(ctx context.Context) (int, error)

	// LocalMonitor subscribes the observer to membership deltas produced on
	// this node. It reports false when the observer is already subscribed.
	LocalMonitor(observer *Observer) (bool, error)

	// VerifyClusterState fetches every node's view of the given groups (all
	// groups when none is given) and reports the asymmetries.
	VerifyClusterState(ctx context.Context, groups ...string) (*Report, error)
}

// registry is the single-consumer actor owning the state table. Every
// mutation, peer message, membership event and death notification is
// serialized through its mailbox.
type registry struct {
	mu sync.RWMutex

	node     string
	provider cluster.Provider
	monitor  cluster.Monitor
	locker   cluster.Locker

	config *config

	table       *stateTable
	watchers    *monitorManager
	coordinator *coordinator
	verifier    *verifier

	// observers is owned by the receive loop
	observers map[string]*Observer

	mailbox chan any
	stopCh  chan struct{}
	stopped chan struct{}
	started bool
}

// enforce compilation error
var _ Registry = (*registry)(nil)
var _ cluster.Handler = (*registry)(nil)

// New creates a registry bound to the given substrate. The provider must be
// started before the registry. The monitor delivers endpoint death
// notifications and the locker provides the cluster-wide mutation lock.
func New(provider cluster.Provider, monitor cluster.Monitor, locker cluster.Locker, opts ...Option) Registry {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	node := provider.LocalNode()
	x := &registry{
		node:      node,
		provider:  provider,
		monitor:   monitor,
		locker:    locker,
		config:    config,
		observers: make(map[string]*Observer),
	}
	x.watchers = newMonitorManager(node, provider, monitor, config.logger, config.watchRetryInterval)
	x.table = newStateTable(node, x.watchers)
	x.coordinator = newCoordinator(node, provider, locker, config.logger, config.callTimeout, config.lockRetries, x.applyLocal)
	x.verifier = newVerifier(node, provider, config.logger, x.fetchLocal)
	return x
}

// Start registers the registry service with the substrate, runs the receive
// loop and says hello to every connected peer so that state exchanges begin.
func (x *registry) Start(ctx context.Context) error {
	x.mu.Lock()
	if x.started {
		x.mu.Unlock()
		return nil
	}

	if err := x.provider.RegisterService(ServiceName, x); err != nil {
		x.mu.Unlock()
		return fmt.Errorf("failed to register the registry service: %w", err)
	}

	x.mailbox = make(chan any, x.config.mailboxSize)
	x.stopCh = make(chan struct{})
	x.stopped = make(chan struct{})
	x.started = true
	mailbox, stopCh, stopped := x.mailbox, x.stopCh, x.stopped
	x.mu.Unlock()

	go x.receive(mailbox, stopCh, stopped)

	for _, peer := range x.provider.Peers() {
		go x.coordinator.hello(peer)
	}
	x.config.logger.Infof("registry started on node=(%s)", x.node)
	return nil
}

// Stop terminates the receive loop and waits for its cleanup to complete.
func (x *registry) Stop(ctx context.Context) error {
	x.mu.Lock()
	if !x.started {
		x.mu.Unlock()
		return nil
	}
	x.started = false
	stopCh, stopped := x.stopCh, x.stopped
	x.mu.Unlock()

	close(stopCh)
	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	x.config.logger.Infof("registry stopped on node=(%s)", x.node)
	return nil
}

// Node returns the name of the local node.
func (x *registry) Node() string {
	return x.node
}

// Create registers the group cluster-wide.
func (x *registry) Create(ctx context.Context, name string) error {
	if !x.running() {
		return ErrRegistryNotStarted
	}
	return x.coordinator.execute(ctx, &envelope{Type: wireCreate, From: x.node, Group: name})
}

// Delete removes the group and all its memberships cluster-wide.
func (x *registry) Delete(ctx context.Context, name string) error {
	if !x.running() {
		return ErrRegistryNotStarted
	}
	return x.coordinator.execute(ctx, &envelope{Type: wireDelete, From: x.node, Group: name})
}

// Join adds the endpoint to the group cluster-wide.
func (x *registry) Join(ctx context.Context, name string, endpoint cluster.Endpoint) error {
	if !x.running() {
		return ErrRegistryNotStarted
	}
	known, err := x.knownGroup(ctx, name)
	if err != nil {
		return err
	}
	if !known {
		return NoSuchGroupError(name)
	}
	wire := toWireEndpoint(endpoint)
	return x.coordinator.execute(ctx, &envelope{Type: wireJoin, From: x.node, Group: name, Endpoint: &wire})
}

// Leave removes one join of the endpoint from the group cluster-wide.
func (x *registry) Leave(ctx context.Context, name string, endpoint cluster.Endpoint) error {
	if !x.running() {
		return ErrRegistryNotStarted
	}
	known, err := x.knownGroup(ctx, name)
	if err != nil {
		return err
	}
	if !known {
		return NoSuchGroupError(name)
	}
	wire := toWireEndpoint(endpoint)
	return x.coordinator.execute(ctx, &envelope{Type: wireLeave, From: x.node, Group: name, Endpoint: &wire})
}

// Members returns the group membership snapshot held by this node.
func (x *registry) Members(ctx context.Context, name string) ([]cluster.Endpoint, error) {
	lists, err := x.readLists(ctx, name)
	if err != nil {
		return nil, err
	}
	return lists.all, nil
}

// LocalMembers returns the group members hosted on this node.
func (x *registry) LocalMembers(ctx context.Context, name string) ([]cluster.Endpoint, error) {
	lists, err := x.readLists(ctx, name)
	if err != nil {
		return nil, err
	}
	return lists.local, nil
}

// WhichGroups returns the names of all groups known on this node.
func (x *registry) WhichGroups(ctx context.Context) ([]string, error) {
	if !x.running() {
		return nil, ErrRegistryNotStarted
	}
	msg := &whichMessage{reply: make(chan []string, 1)}
	if err := x.post(msg); err != nil {
		return nil, err
	}
	select {
	case names := <-msg.reply:
		return names, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-x.currentStop():
		return nil, ErrRegistryNotStarted
	}
}

// Closest returns a member to dispatch to. A sole local member wins
// outright; otherwise the pick is uniform over the local members when any
// exist, over the full membership when not.
func (x *registry) Closest(ctx context.Context, name string) (cluster.Endpoint, error) {
	lists, err := x.readLists(ctx, name)
	if err != nil {
		return cluster.Endpoint{}, err
	}
	if len(lists.local) == 1 {
		return lists.local[0], nil
	}
	pool := lists.local
	if len(pool) == 0 {
		pool = lists.all
	}
	if len(pool) == 0 {
		return cluster.Endpoint{}, NoProcessError(name)
	}
	return pool[rand.IntN(len(pool))], nil
}

// Sync waits until every event enqueued before the call is processed.
func (x *registry) Sync(ctx context.Context) error {
	if !x.running() {
		return ErrRegistryNotStarted
	}
	msg := &syncMessage{reply: make(chan struct{})}
	if err := x.post(msg); err != nil {
		return err
	}
	select {
	case <-msg.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-x.currentStop():
		return ErrRegistryNotStarted
	}
}

// Resync makes this node re-send its state to every connected peer.
func (x *registry) Resync(ctx context.Context) error {
	if !x.running() {
		return ErrRegistryNotStarted
	}
	return x.post(&peerMessage{env: &envelope{Type: wireResync, From: x.node}})
}

// GlobalResync signals every known node to re-send its state to its peers.
func (x *registry) GlobalResync(ctx context.Context) (int, error) {
	if !x.running() {
		return 0, ErrRegistryNotStarted
	}

	if err := x.Resync(ctx); err != nil {
		return 0, err
	}

	peers := x.provider.Peers()
	payload, err := encodeEnvelope(&envelope{Type: wireResync, From: x.node})
	if err != nil {
		return 0, err
	}
	for _, peer := range peers {
		go func(peer string) {
			sendCtx, cancel := context.WithTimeout(context.Background(), helloTimeout)
			defer cancel()
			if err := x.provider.Send(sendCtx, peer, ServiceName, payload); err != nil {
				x.config.logger.Warnf("resync signal to node=(%s) failed: %v", peer, err)
			}
		}(peer)
	}
	return len(peers) + 1, nil
}

// LocalMonitor subscribes the observer to local membership deltas.
func (x *registry) LocalMonitor(observer *Observer) (bool, error) {
	if !x.running() {
		return false, ErrRegistryNotStarted
	}
	msg := &subscribeMessage{observer: observer, reply: make(chan bool, 1)}
	if err := x.post(msg); err != nil {
		return false, err
	}
	select {
	case added := <-msg.reply:
		return added, nil
	case <-x.currentStop():
		return false, ErrRegistryNotStarted
	}
}

// VerifyClusterState fetches every node's view and reports the asymmetries.
func (x *registry) VerifyClusterState(ctx context.Context, groups ...string) (*Report, error) {
	if !x.running() {
		return nil, ErrRegistryNotStarted
	}
	return x.verifier.run(ctx, groups)
}

// HandleSend processes a best-effort peer message.
func (x *registry) HandleSend(from string, payload []byte) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		x.config.logger.Warnf("dropping malformed message from node=(%s): %v", from, err)
		return
	}
	if err := x.post(&peerMessage{env: env}); err != nil {
		x.config.logger.Debugf("dropping %s from node=(%s): registry is stopped", env.Type, from)
	}
}

// HandleCall processes a synchronous peer call: a mutation fan-out share or
// a verifier read.
func (x *registry) HandleCall(ctx context.Context, from string, payload []byte) ([]byte, error) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed call from node=(%s): %w", from, err)
	}

	switch env.Type {
	case wireCreate, wireDelete, wireJoin, wireLeave:
		if err := x.applyLocal(ctx, env); err != nil {
			return nil, err
		}
		return encodeAck(&ack{OK: true})
	case wireFetch:
		lists, err := x.fetchLocal(ctx, env.Groups)
		if err != nil {
			return nil, err
		}
		return encodeAck(&ack{OK: true, Lists: lists})
	default:
		return nil, fmt.Errorf("unexpected call %s from node=(%s)", env.Type, from)
	}
}

// running reports whether the receive loop is up.
func (x *registry) running() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.started
}

// currentStop returns the stop channel of the current run.
func (x *registry) currentStop() <-chan struct{} {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.stopCh == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return x.stopCh
}

// post enqueues a message into the mailbox, failing when the registry is
// stopped rather than blocking forever.
func (x *registry) post(msg any) error {
	x.mu.RLock()
	mailbox, stopCh, started := x.mailbox, x.stopCh, x.started
	x.mu.RUnlock()
	if !started {
		return ErrRegistryNotStarted
	}
	select {
	case mailbox <- msg:
		return nil
	case <-stopCh:
		return ErrRegistryNotStarted
	}
}

// applyLocal routes one mutation into the receive loop and waits for it to
// be applied. The caller blocks; the loop never does.
func (x *registry) applyLocal(ctx context.Context, env *envelope) error {
	msg := &applyMessage{env: env, reply: make(chan error, 1)}
	if err := x.post(msg); err != nil {
		return err
	}
	select {
	case err := <-msg.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-x.currentStop():
		return ErrRegistryNotStarted
	}
}

// fetchLocal reads the local materialised lists through the receive loop.
func (x *registry) fetchLocal(ctx context.Context, groups []string) ([]listSnapshot, error) {
	msg := &fetchMessage{groups: groups, reply: make(chan []listSnapshot, 1)}
	if err := x.post(msg); err != nil {
		return nil, err
	}
	select {
	case lists := <-msg.reply:
		return lists, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-x.currentStop():
		return nil, ErrRegistryNotStarted
	}
}

// knownGroup reports whether the group exists on this node.
func (x *registry) knownGroup(ctx context.Context, name string) (bool, error) {
	msg := &hasGroupMessage{group: name, reply: make(chan bool, 1)}
	if err := x.post(msg); err != nil {
		return false, err
	}
	select {
	case known := <-msg.reply:
		return known, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-x.currentStop():
		return false, ErrRegistryNotStarted
	}
}

// readLists fetches both materialised snapshots of a group.
func (x *registry) readLists(ctx context.Context, name string) (*listsResult, error) {
	if !x.running() {
		return nil, ErrRegistryNotStarted
	}
	msg := &listsMessage{group: name, reply: make(chan *listsResult, 1)}
	if err := x.post(msg); err != nil {
		return nil, err
	}
	select {
	case lists := <-msg.reply:
		if !lists.found {
			return nil, NoSuchGroupError(name)
		}
		return lists, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-x.currentStop():
		return nil, ErrRegistryNotStarted
	}
}
