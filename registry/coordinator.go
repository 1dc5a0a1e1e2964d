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
	"sync"
	"time"

	goset "github.com/deckarep/golang-set/v2"
	"github.com/flowchartsman/retry"

	"github.com/tochemey/pgroups/cluster"
	"github.com/tochemey/pgroups/log"
)

const (
	// releaseTimeout bounds the lock release after a fan-out round.
	releaseTimeout = 5 * time.Second
	// helloTimeout bounds the best-effort repair hello.
	helloTimeout = 5 * time.Second
)

// coordinator drives one mutation through the cluster: it takes the
// group-scoped cluster-wide lock, fans the operation out to every known
// node, and schedules a state exchange with any node that missed it.
// Fan-out failures are never surfaced; the exchange protocol repairs them.
type coordinator struct {
	node        string
	provider    cluster.Provider
	locker      cluster.Locker
	logger      log.Logger
	callTimeout time.Duration
	lockRetries int
	// apply routes the local share of the fan-out into the receive loop
	apply func(ctx context.Context, env *envelope) error
}

func newCoordinator(node string, provider cluster.Provider, locker cluster.Locker, logger log.Logger, callTimeout time.Duration, lockRetries int, apply func(ctx context.Context, env *envelope) error) *coordinator {
	return &coordinator{
		node:        node,
		provider:    provider,
		locker:      locker,
		logger:      logger,
		callTimeout: callTimeout,
		lockRetries: lockRetries,
		apply:       apply,
	}
}

// execute runs the mutation described by env against every currently-known
// node under the group lock. It returns ok unconditionally once the fan-out
// round completes; non-responding nodes are repaired asynchronously.
func (c *coordinator) execute(ctx context.Context, env *envelope) error {
	nodes := append([]string{c.node}, c.provider.Peers()...)

	release, err := c.acquireLock(ctx, lockKey(env.Group))
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			c.logger.Warnf("failed to release lock on group=(%s): %v", env.Group, err)
		}
	}()

	badNodes := c.fanOut(ctx, nodes, env)

	// any node that did not take the mutation, and any node that joined
	// after the snapshot, is brought up to date by a full state exchange
	snapshot := goset.NewSet(nodes...)
	for _, peer := range c.provider.Peers() {
		if !snapshot.Contains(peer) {
			badNodes = append(badNodes, peer)
		}
	}
	for _, node := range badNodes {
		go c.hello(node)
	}
	return nil
}

// acquireLock takes the cluster-wide lock for the given key. Each round
// attempts the acquisition a bounded number of times; an aborted round is
// logged and restarted from the top, trading starvation for failure.
func (c *coordinator) acquireLock(ctx context.Context, key string) (cluster.Release, error) {
	var release cluster.Release
	for {
		retrier := retry.NewRetrier(c.lockRetries, 50*time.Millisecond, time.Second)
		err := retrier.Run(func() error {
			r, err := c.locker.Acquire(ctx, key)
			if err != nil {
				return err
			}
			release = r
			return nil
		})
		if err == nil {
			return release, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warnf("lock acquisition on key=(%s) aborted: %v, retrying", key, err)
	}
}

// fanOut delivers the mutation to every node in the snapshot and returns
// the nodes that failed to take it. The local share goes straight into the
// receive loop.
func (c *coordinator) fanOut(ctx context.Context, nodes []string, env *envelope) []string {
	payload, err := encodeEnvelope(env)
	if err != nil {
		c.logger.Errorf("failed to encode %s on group=(%s): %v", env.Type, env.Group, err)
		return nil
	}

	var mu sync.Mutex
	badNodes := make([]string, 0)
	var wg sync.WaitGroup
	for _, node := range nodes {
		wg.Add(1)
		go func(node string) {
			defer wg.Done()
			if node == c.node {
				if err := c.apply(ctx, env); err != nil {
					c.logger.Errorf("failed to apply %s on group=(%s): %v", env.Type, env.Group, err)
				}
				return
			}
			if _, err := c.provider.Call(ctx, node, ServiceName, payload, c.callTimeout); err != nil {
				c.logger.Warnf("node=(%s) missed %s on group=(%s): %v", node, env.Type, env.Group, err)
				mu.Lock()
				badNodes = append(badNodes, node)
				mu.Unlock()
			}
		}(node)
	}
	wg.Wait()
	return badNodes
}

// hello asks the node to run a state exchange with us. Best effort.
func (c *coordinator) hello(node string) {
	payload, err := encodeEnvelope(&envelope{Type: wireHello, From: c.node})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), helloTimeout)
	defer cancel()
	if err := c.provider.Send(ctx, node, ServiceName, payload); err != nil {
		c.logger.Debugf("hello to node=(%s) failed: %v", node, err)
	}
}

// lockKey scopes the cluster-wide lock to one group of this service.
func lockKey(group string) string {
	return ServiceName + "/" + group
}
