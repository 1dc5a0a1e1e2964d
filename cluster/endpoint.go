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

import (
	"fmt"
	"strings"
)

// Endpoint identifies an addressable worker process. The identifier is
// unique cluster-wide and carries the name of the node hosting the worker.
// Endpoint is a comparable value type and can be used as a map key.
type Endpoint struct {
	// ID is the worker identifier, unique within its node
	ID string
	// Node is the name of the node hosting the worker
	Node string
}

// NewEndpoint creates an Endpoint from a worker identifier and its home node.
func NewEndpoint(id, node string) Endpoint {
	return Endpoint{ID: id, Node: node}
}

// ParseEndpoint parses the textual form produced by String.
func ParseEndpoint(value string) (Endpoint, error) {
	index := strings.LastIndex(value, "@")
	if index <= 0 || index == len(value)-1 {
		return Endpoint{}, fmt.Errorf("invalid endpoint: %q", value)
	}
	return Endpoint{ID: value[:index], Node: value[index+1:]}, nil
}

// String returns the textual form id@node.
func (e Endpoint) String() string {
	return e.ID + "@" + e.Node
}

// IsZero reports whether the endpoint carries no identity.
func (e Endpoint) IsZero() bool {
	return e.ID == "" && e.Node == ""
}
