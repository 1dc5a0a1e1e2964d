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

package cluster

const (
	// ReasonDied indicates the watched endpoint terminated.
	ReasonDied = "died"
	// ReasonNoConnection indicates the endpoint's home node became
	// unreachable before its fate could be observed.
	ReasonNoConnection = "noconnection"
)

// Down is the one-shot notification delivered when a watched endpoint dies.
type Down struct {
	// Ref is the watch reference the notification belongs to
	Ref string
	// Endpoint is the endpoint that went down
	Endpoint Endpoint
	// Reason describes why the endpoint is considered down
	Reason string
}

// Monitor provides endpoint liveness tracking. Each installed watch yields
// at most one Down notification, tagged with the watch reference.
type Monitor interface {
	// Watch installs a liveness watch on the given endpoint under the given
	// reference. Watching an already dead endpoint delivers the Down
	// notification immediately. Watching an endpoint whose home node is not
	// reachable returns ErrNodeUnreachable.
	Watch(ref string, endpoint Endpoint) error
	// Unwatch removes the watch installed under the given reference. After
	// Unwatch returns, no new notification for the reference is emitted;
	// notifications already in flight may still be observed and must be
	// tolerated by the consumer.
	Unwatch(ref string)
	// Notifications exposes the stream of down notifications.
	Notifications() <-chan *Down
}
