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

// Package etcdlock provides the cluster-wide named lock on top of an etcd
// cluster, using leased sessions so that a crashed holder releases its
// locks when the lease expires.
package etcdlock

import (
	"context"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/multierr"

	"github.com/tochemey/pgroups/cluster"
	"github.com/tochemey/pgroups/log"
)

const (
	// defaultPrefix namespaces the lock keys in the etcd keyspace.
	defaultPrefix = "/pgroups/locks"
	// defaultSessionTTL is the lease TTL in seconds backing each lock.
	defaultSessionTTL = 30
	// defaultAcquireTimeout bounds one acquisition attempt before it is
	// reported as aborted.
	defaultAcquireTimeout = 5 * time.Second
)

// Locker implements the cluster-wide named lock over etcd.
type Locker struct {
	client         *clientv3.Client
	logger         log.Logger
	prefix         string
	sessionTTL     int
	acquireTimeout time.Duration
}

// enforce compilation error
var _ cluster.Locker = (*Locker)(nil)

// Option configures the locker.
type Option func(*Locker)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(l *Locker) {
		l.logger = logger
	}
}

// WithPrefix namespaces the lock keys.
func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// WithSessionTTL sets the lease TTL in seconds backing each lock.
func WithSessionTTL(seconds int) Option {
	return func(l *Locker) {
		if seconds > 0 {
			l.sessionTTL = seconds
		}
	}
}

// WithAcquireTimeout bounds one acquisition attempt.
func WithAcquireTimeout(timeout time.Duration) Option {
	return func(l *Locker) {
		if timeout > 0 {
			l.acquireTimeout = timeout
		}
	}
}

// New creates a locker over the given etcd client. The client's lifetime is
// owned by the caller.
func New(client *clientv3.Client, opts ...Option) *Locker {
	locker := &Locker{
		client:         client,
		logger:         log.DefaultLogger,
		prefix:         defaultPrefix,
		sessionTTL:     defaultSessionTTL,
		acquireTimeout: defaultAcquireTimeout,
	}
	for _, opt := range opts {
		opt(locker)
	}
	return locker
}

// Acquire takes the named lock. An attempt that cannot complete within the
// acquire timeout is reported as aborted so the caller can retry.
func (l *Locker) Acquire(ctx context.Context, key string) (cluster.Release, error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.sessionTTL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cluster.ErrLockAborted, err)
	}

	mutex := concurrency.NewMutex(session, path.Join(l.prefix, key))
	lockCtx, cancel := context.WithTimeout(ctx, l.acquireTimeout)
	defer cancel()

	if err := mutex.Lock(lockCtx); err != nil {
		if closeErr := session.Close(); closeErr != nil {
			l.logger.Warnf("failed to close the lock session on key=(%s): %v", key, closeErr)
		}
		return nil, fmt.Errorf("%w: %v", cluster.ErrLockAborted, err)
	}

	return func(releaseCtx context.Context) error {
		return multierr.Append(mutex.Unlock(releaseCtx), session.Close())
	}, nil
}
