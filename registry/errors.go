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
	"fmt"
)

var (
	// ErrNoSuchGroup is returned when an operation references a group that
	// does not exist on the local node.
	ErrNoSuchGroup = errors.New("no such group")

	// ErrNoProcess is returned when a group has no member to dispatch to.
	ErrNoProcess = errors.New("no process")

	// ErrRegistryNotStarted is returned when the registry is used before it
	// has been started or after it has been stopped.
	ErrRegistryNotStarted = errors.New("registry has not started")
)

// NoSuchGroupError decorates ErrNoSuchGroup with the group name.
func NoSuchGroupError(name string) error {
	return fmt.Errorf("%w: %s", ErrNoSuchGroup, name)
}

// NoProcessError decorates ErrNoProcess with the group name.
func NoProcessError(name string) error {
	return fmt.Errorf("%w: %s", ErrNoProcess, name)
}
