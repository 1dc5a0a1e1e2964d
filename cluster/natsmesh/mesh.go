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

// Package natsmesh implements the clustering substrate over two proven
// building blocks: hashicorp memberlist provides node membership with
// failure detection, and NATS carries the addressed messaging, the
// request-reply calls and the endpoint liveness traffic.
package natsmesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goset "github.com/deckarep/golang-set/v2"
	"github.com/flowchartsman/retry"
	"github.com/hashicorp/memberlist"
	"github.com/nats-io/nats.go"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/tochemey/pgroups/cluster"
	"github.com/tochemey/pgroups/internal/syncmap"
	"github.com/tochemey/pgroups/internal/tcp"
	"github.com/tochemey/pgroups/log"
)

const eventsBufferSize = 1 << 8

// transportEnvelope wraps service traffic on the wire.
type transportEnvelope struct {
	From    string `json:"from"`
	Payload []byte `json:"payload"`
}

// callReply wraps a call response on the wire.
type callReply struct {
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Mesh is a production substrate node. It implements both the provider and
// the endpoint monitor primitives, and additionally hosts the local
// endpoint registry that anchors liveness tracking.
type Mesh struct {
	config *Config
	logger log.Logger

	started    *atomic.Bool
	memberlist *memberlist.Memberlist
	conn       *nats.Conn

	events chan *cluster.Event
	downs  chan *cluster.Down

	services      *syncmap.SyncMap[string, cluster.Handler]
	subscriptions *syncmap.SyncMap[string, *nats.Subscription]

	// hosted is the set of endpoint identifiers registered on this node
	hosted goset.Set[string]
	// watches installed by this node, ref -> record
	watches *syncmap.SyncMap[string, *watchRecord]
}

// enforce compilation error
var (
	_ cluster.Provider = (*Mesh)(nil)
	_ cluster.Monitor  = (*Mesh)(nil)
)

// New creates a mesh node from the given configuration.
func New(config *Config, opts ...Option) (*Mesh, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &Mesh{
		config:        config,
		logger:        log.DefaultLogger,
		started:       atomic.NewBool(false),
		events:        make(chan *cluster.Event, eventsBufferSize),
		downs:         make(chan *cluster.Down, eventsBufferSize),
		services:      syncmap.New[string, cluster.Handler](),
		subscriptions: syncmap.New[string, *nats.Subscription](),
		hosted:        goset.NewSet[string](),
		watches:       syncmap.New[string, *watchRecord](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start boots the membership layer, connects to NATS and joins the cluster.
func (m *Mesh) Start(ctx context.Context) error {
	if m.started.Load() {
		return nil
	}

	bindIP, err := tcp.BindIP(fmt.Sprintf("%s:%d", m.config.BindAddr, m.config.BindPort))
	if err != nil {
		return fmt.Errorf("failed to resolve the bind address: %w", err)
	}

	mconfig := memberlist.DefaultLANConfig()
	mconfig.Name = m.config.Name
	mconfig.BindAddr = bindIP
	mconfig.BindPort = m.config.BindPort
	mconfig.AdvertisePort = m.config.BindPort
	mconfig.Events = &eventDelegate{mesh: m}
	mconfig.Logger = m.logger.StdLogger()

	list, err := memberlist.Create(mconfig)
	if err != nil {
		return fmt.Errorf("failed to start the membership layer: %w", err)
	}
	m.memberlist = list

	if len(m.config.JoinAddrs) > 0 {
		retrier := retry.NewRetrier(5, 100*time.Millisecond, 2*time.Second)
		err = retrier.RunContext(ctx, func(context.Context) error {
			_, err := list.Join(m.config.JoinAddrs)
			return err
		})
		if err != nil {
			return errors.Join(fmt.Errorf("failed to join the cluster: %w", err), list.Shutdown())
		}
	}

	if err := m.connect(ctx); err != nil {
		return errors.Join(err, list.Shutdown())
	}

	if err := m.subscribeLiveness(); err != nil {
		return errors.Join(err, m.shutdown(ctx))
	}

	m.started.Store(true)
	m.logger.Infof("mesh node=(%s) started on %s:%d", m.config.Name, bindIP, m.config.BindPort)
	return nil
}

// Stop leaves the cluster and releases every connection.
func (m *Mesh) Stop(ctx context.Context) error {
	if !m.started.CompareAndSwap(true, false) {
		return nil
	}
	return m.shutdown(ctx)
}

// LocalNode returns the node name.
func (m *Mesh) LocalNode() string {
	return m.config.Name
}

// Peers lists the currently connected nodes.
func (m *Mesh) Peers() []string {
	if m.memberlist == nil {
		return nil
	}
	members := m.memberlist.Members()
	peers := make([]string, 0, len(members))
	for _, member := range members {
		if member.Name != m.config.Name {
			peers = append(peers, member.Name)
		}
	}
	return peers
}

// IsConnected reports whether the given node is a live cluster member.
func (m *Mesh) IsConnected(node string) bool {
	if node == m.config.Name {
		return true
	}
	if m.memberlist == nil {
		return false
	}
	for _, member := range m.memberlist.Members() {
		if member.Name == node {
			return true
		}
	}
	return false
}

// Events exposes the membership event stream.
func (m *Mesh) Events() <-chan *cluster.Event {
	return m.events
}

// RegisterService subscribes the handler to the service's send and call
// subjects.
func (m *Mesh) RegisterService(service string, handler cluster.Handler) error {
	if m.conn == nil {
		return cluster.ErrProviderNotStarted
	}
	if _, ok := m.services.Get(service); ok {
		return cluster.ErrServiceAlreadyRegistered
	}

	sendSub, err := m.conn.Subscribe(m.sendSubject(m.config.Name, service), func(msg *nats.Msg) {
		env := new(transportEnvelope)
		if err := json.Unmarshal(msg.Data, env); err != nil {
			m.logger.Warnf("dropping malformed message on %s: %v", msg.Subject, err)
			return
		}
		go handler.HandleSend(env.From, env.Payload)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe service=(%s): %w", service, err)
	}

	callSub, err := m.conn.Subscribe(m.callSubject(m.config.Name, service), func(msg *nats.Msg) {
		go m.serveCall(handler, msg)
	})
	if err != nil {
		_ = sendSub.Unsubscribe()
		return fmt.Errorf("failed to subscribe service=(%s): %w", service, err)
	}

	m.services.Set(service, handler)
	m.subscriptions.Set("send."+service, sendSub)
	m.subscriptions.Set("call."+service, callSub)
	return nil
}

// Send publishes a best-effort message to the service on the given node.
func (m *Mesh) Send(_ context.Context, node, service string, payload []byte) error {
	if m.conn == nil {
		return cluster.ErrProviderNotStarted
	}
	if !m.IsConnected(node) {
		return fmt.Errorf("%w: %s", cluster.ErrNodeUnreachable, node)
	}
	data, err := json.Marshal(&transportEnvelope{From: m.config.Name, Payload: payload})
	if err != nil {
		return err
	}
	return m.conn.Publish(m.sendSubject(node, service), data)
}

// Call performs a request against the service on the given node. A
// non-positive timeout falls back to the configured request timeout.
func (m *Mesh) Call(ctx context.Context, node, service string, payload []byte, timeout time.Duration) ([]byte, error) {
	if m.conn == nil {
		return nil, cluster.ErrProviderNotStarted
	}
	if !m.IsConnected(node) {
		return nil, fmt.Errorf("%w: %s", cluster.ErrNodeUnreachable, node)
	}

	data, err := json.Marshal(&transportEnvelope{From: m.config.Name, Payload: payload})
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = m.config.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := m.conn.RequestWithContext(ctx, m.callSubject(node, service), data)
	if err != nil {
		return nil, err
	}

	reply := new(callReply)
	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return reply.Payload, nil
}

// serveCall runs the handler and ships the reply back.
func (m *Mesh) serveCall(handler cluster.Handler, msg *nats.Msg) {
	env := new(transportEnvelope)
	if err := json.Unmarshal(msg.Data, env); err != nil {
		m.logger.Warnf("dropping malformed call on %s: %v", msg.Subject, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()

	reply := new(callReply)
	payload, err := handler.HandleCall(ctx, env.From, env.Payload)
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Payload = payload
	}

	data, err := json.Marshal(reply)
	if err != nil {
		m.logger.Errorf("failed to encode call reply: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		m.logger.Warnf("failed to reply on %s: %v", msg.Subject, err)
	}
}

// connect dials the NATS server with exponential backoff.
func (m *Mesh) connect(ctx context.Context) error {
	opts := nats.GetDefaultOptions()
	opts.Url = m.config.NatsServer
	opts.Name = m.config.Name
	opts.ReconnectWait = 2 * time.Second
	opts.MaxReconnect = -1

	var conn *nats.Conn
	retrier := retry.NewRetrier(5, 100*time.Millisecond, opts.ReconnectWait)
	err := retrier.RunContext(ctx, func(context.Context) error {
		var err error
		conn, err = opts.Connect()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	m.conn = conn
	return nil
}

// shutdown releases subscriptions, the NATS connection and the membership
// layer.
func (m *Mesh) shutdown(ctx context.Context) error {
	var errs error
	m.subscriptions.Range(func(_ string, sub *nats.Subscription) {
		errs = multierr.Append(errs, sub.Unsubscribe())
	})
	m.subscriptions.Reset()
	m.watches.Range(func(_ string, record *watchRecord) {
		_ = record.sub.Unsubscribe()
	})
	m.watches.Reset()

	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.memberlist != nil {
		errs = multierr.Append(errs, m.memberlist.Leave(defaultLeaveTimeout))
		errs = multierr.Append(errs, m.memberlist.Shutdown())
		m.memberlist = nil
	}
	if errs != nil {
		return errs
	}
	m.logger.Infof("mesh node=(%s) stopped", m.config.Name)
	return ctx.Err()
}

func (m *Mesh) sendSubject(node, service string) string {
	return strings.Join([]string{m.config.Namespace, "send", node, service}, ".")
}

func (m *Mesh) callSubject(node, service string) string {
	return strings.Join([]string{m.config.Namespace, "call", node, service}, ".")
}

func (m *Mesh) aliveSubject(node string) string {
	return strings.Join([]string{m.config.Namespace, "alive", node}, ".")
}

func (m *Mesh) downSubject(node, id string) string {
	return strings.Join([]string{m.config.Namespace, "down", node, id}, ".")
}
