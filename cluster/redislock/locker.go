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

// Package redislock provides the cluster-wide named lock on top of redis,
// using a token-guarded SET NX with a TTL that is refreshed while the lock
// is held.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tochemey/pgroups/cluster"
	"github.com/tochemey/pgroups/log"
)

const (
	// defaultPrefix namespaces the lock keys in the redis keyspace.
	defaultPrefix = "pgroups:locks:"
	// defaultTTL is the lock expiry protecting against crashed holders.
	defaultTTL = 30 * time.Second
)

// releaseScript deletes the key only when the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker implements the cluster-wide named lock over redis.
type Locker struct {
	client redis.UniversalClient
	logger log.Logger
	prefix string
	ttl    time.Duration
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

// WithTTL sets the lock expiry protecting against crashed holders.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// New creates a locker over the given redis client. The client's lifetime
// is owned by the caller.
func New(client redis.UniversalClient, opts ...Option) *Locker {
	locker := &Locker{
		client: client,
		logger: log.DefaultLogger,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(locker)
	}
	return locker
}

// Acquire takes the named lock. A lock already held elsewhere is reported
// as aborted so the caller can retry. The expiry is refreshed until the
// lock is released.
func (l *Locker) Acquire(ctx context.Context, key string) (cluster.Release, error) {
	token := uuid.NewString()
	name := l.prefix + key

	ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cluster.ErrLockAborted, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is held", cluster.ErrLockAborted, key)
	}

	stopCh := make(chan struct{})
	var once sync.Once
	go l.refresh(name, token, stopCh)

	return func(releaseCtx context.Context) error {
		once.Do(func() { close(stopCh) })
		return releaseScript.Run(releaseCtx, l.client, []string{name}, token).Err()
	}, nil
}

// refresh extends the lock expiry while it is held.
func (l *Locker) refresh(name, token string, stopCh chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			held, err := l.client.Get(ctx, name).Result()
			if err != nil || held != token {
				cancel()
				return
			}
			if err := l.client.PExpire(ctx, name, l.ttl).Err(); err != nil {
				l.logger.Warnf("failed to refresh lock key=(%s): %v", name, err)
			}
			cancel()
		}
	}
}
