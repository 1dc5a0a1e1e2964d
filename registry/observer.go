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
	"sync"

	"github.com/google/uuid"
)

// defaultObserverCapacity is the update buffer depth of an observer created
// with a non-positive capacity.
const defaultObserverCapacity = 256

// Update notifies an observer of the groups touched by one mutation.
type Update struct {
	// Groups lists the names of the groups whose membership changed
	Groups []string
}

// Observer receives membership deltas from the local registry. Updates are
// delivered in the causal order of the mutations that produced them on this
// node. An observer that stops draining its channel is silently
// unsubscribed, so the updates it has observed always form a prefix of the
// local mutation sequence.
type Observer struct {
	id      string
	updates chan *Update
	done    chan struct{}
	once    sync.Once
}

// NewObserver creates an observer with the given update buffer capacity.
// A non-positive capacity selects the default.
func NewObserver(capacity int) *Observer {
	if capacity <= 0 {
		capacity = defaultObserverCapacity
	}
	return &Observer{
		id:      uuid.NewString(),
		updates: make(chan *Update, capacity),
		done:    make(chan struct{}),
	}
}

// ID returns the unique identifier of the observer.
func (o *Observer) ID() string {
	return o.id
}

// Updates exposes the stream of membership deltas. The channel is closed
// when the observer is unsubscribed or the registry stops.
func (o *Observer) Updates() <-chan *Update {
	return o.updates
}

// Close signals that the observer is gone. The registry removes it from the
// subscriber set and closes the updates channel. Safe to call multiple times.
func (o *Observer) Close() {
	o.once.Do(func() { close(o.done) })
}
