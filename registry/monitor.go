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
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tochemey/pgroups/cluster"
	"github.com/tochemey/pgroups/log"
)

// monitorManager installs and releases endpoint liveness watches on behalf
// of the state table. When the endpoint's home node is not yet connected the
// watch is brokered by an indirect watcher that keeps trying until the node
// becomes reachable.
type monitorManager struct {
	node          string
	provider      cluster.Provider
	monitor       cluster.Monitor
	logger        log.Logger
	retryInterval time.Duration
}

// enforce compilation error
var _ watchInstaller = (*monitorManager)(nil)

func newMonitorManager(node string, provider cluster.Provider, monitor cluster.Monitor, logger log.Logger, retryInterval time.Duration) *monitorManager {
	return &monitorManager{
		node:          node,
		provider:      provider,
		monitor:       monitor,
		logger:        logger,
		retryInterval: retryInterval,
	}
}

// install sets up a liveness watch on the endpoint and returns its
// reference. The second return value is nil when the watch could be
// installed directly.
func (m *monitorManager) install(endpoint cluster.Endpoint) (string, *indirectWatcher) {
	ref := uuid.NewString()
	if endpoint.Node == m.node || m.provider.IsConnected(endpoint.Node) {
		err := m.monitor.Watch(ref, endpoint)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, cluster.ErrNodeUnreachable) {
			m.logger.Warnf("failed to watch endpoint=(%s): %v", endpoint, err)
		}
	}

	watcher := newIndirectWatcher(ref, endpoint, m)
	go watcher.run()
	return ref, watcher
}

// release tears down the watch installed under the given reference, stopping
// the indirect watcher when one was brokering it. The monitor primitive is
// asked to flush so that no further notification for the reference is
// emitted.
func (m *monitorManager) release(ref string, watcher *indirectWatcher) {
	if watcher != nil {
		watcher.stop()
	}
	m.monitor.Unwatch(ref)
}

// indirectWatcher brokers a liveness watch for an endpoint whose home node
// is not yet connected. It retries the installation at intervals until the
// node is reachable or the watch is released.
type indirectWatcher struct {
	ref      string
	endpoint cluster.Endpoint
	manager  *monitorManager
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newIndirectWatcher(ref string, endpoint cluster.Endpoint, manager *monitorManager) *indirectWatcher {
	return &indirectWatcher{
		ref:      ref,
		endpoint: endpoint,
		manager:  manager,
		stopCh:   make(chan struct{}),
	}
}

// run keeps attempting the watch installation. Once installed, down
// notifications flow through the monitor primitive like any direct watch.
func (w *indirectWatcher) run() {
	ticker := time.NewTicker(w.manager.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if !w.manager.provider.IsConnected(w.endpoint.Node) {
				continue
			}
			err := w.manager.monitor.Watch(w.ref, w.endpoint)
			if err == nil {
				return
			}
			if !errors.Is(err, cluster.ErrNodeUnreachable) {
				w.manager.logger.Warnf("indirect watch of endpoint=(%s) failed: %v", w.endpoint, err)
			}
		}
	}
}

// stop terminates the watcher. Safe to call multiple times.
func (w *indirectWatcher) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}
