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

package testkit

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/tochemey/pgroups/cluster"
)

// Locker is a process-wide named lock shared by every node of a mesh. It
// can be primed to abort acquisitions, which exercises callers' retry
// paths.
type Locker struct {
	mu     sync.Mutex
	semas  map[string]chan struct{}
	aborts *atomic.Int64
}

// enforce compilation error
var _ cluster.Locker = (*Locker)(nil)

// NewLocker creates an empty lock table.
func NewLocker() *Locker {
	return &Locker{
		semas:  make(map[string]chan struct{}),
		aborts: atomic.NewInt64(0),
	}
}

// InjectAborts makes the next count acquisitions fail with ErrLockAborted.
func (l *Locker) InjectAborts(count int) {
	l.aborts.Store(int64(count))
}

// Acquire takes the named lock, waiting until it is free or the context is
// done.
func (l *Locker) Acquire(ctx context.Context, key string) (cluster.Release, error) {
	if l.aborts.Load() > 0 && l.aborts.Dec() >= 0 {
		return nil, cluster.ErrLockAborted
	}

	sema := l.sema(key)
	select {
	case sema <- struct{}{}:
		return func(context.Context) error {
			<-sema
			return nil
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Locker) sema(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sema, ok := l.semas[key]
	if !ok {
		sema = make(chan struct{}, 1)
		l.semas[key] = sema
	}
	return sema
}
