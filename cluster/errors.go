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

import "errors"

var (
	// ErrLockAborted is returned when a lock acquisition was abandoned due
	// to contention, timeout or deadlock avoidance.
	ErrLockAborted = errors.New("lock acquisition aborted")

	// ErrNodeUnreachable is returned when an operation targets a node that
	// is not currently connected.
	ErrNodeUnreachable = errors.New("node is not reachable")

	// ErrProviderNotStarted is returned when the substrate is used before
	// it has been started.
	ErrProviderNotStarted = errors.New("cluster provider has not started")

	// ErrServiceAlreadyRegistered is returned when a service name is
	// registered twice on the same node.
	ErrServiceAlreadyRegistered = errors.New("service is already registered")

	// ErrServiceNotFound is returned when addressed traffic targets an
	// unknown service.
	ErrServiceNotFound = errors.New("service is not found")
)
