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
	"time"

	"github.com/tochemey/pgroups/log"
)

const (
	// defaultCallTimeout bounds each node call of a mutation fan-out.
	defaultCallTimeout = 30 * time.Second
	// defaultLockRetries is the number of lock acquisition attempts per
	// round.
	defaultLockRetries = 5
	// defaultMailboxSize is the mailbox depth of the receive loop.
	defaultMailboxSize = 1 << 10
	// defaultWatchRetryInterval paces indirect watch installation attempts.
	defaultWatchRetryInterval = 500 * time.Millisecond
)

// config carries the runtime settings of a registry.
type config struct {
	logger             log.Logger
	callTimeout        time.Duration
	lockRetries        int
	mailboxSize        int
	watchRetryInterval time.Duration
}

func defaultConfig() *config {
	return &config{
		logger:             log.DefaultLogger,
		callTimeout:        defaultCallTimeout,
		lockRetries:        defaultLockRetries,
		mailboxSize:        defaultMailboxSize,
		watchRetryInterval: defaultWatchRetryInterval,
	}
}

// Option configures the registry at construction time.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithCallTimeout bounds each node call of a mutation fan-out. A fan-out
// that times out still reports ok; the exchange protocol repairs the
// straggler.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithLockRetries sets the number of lock acquisition attempts per round.
func WithLockRetries(retries int) Option {
	return func(c *config) {
		if retries > 0 {
			c.lockRetries = retries
		}
	}
}

// WithMailboxSize sets the mailbox depth of the receive loop.
func WithMailboxSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.mailboxSize = size
		}
	}
}

// WithWatchRetryInterval paces the installation attempts of watches on
// endpoints whose home node is not yet connected.
func WithWatchRetryInterval(interval time.Duration) Option {
	return func(c *config) {
		if interval > 0 {
			c.watchRetryInterval = interval
		}
	}
}
