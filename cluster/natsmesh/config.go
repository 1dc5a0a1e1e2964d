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

package natsmesh

import (
	"errors"
	"time"
)

const (
	// defaultNamespace prefixes every subject used by the mesh.
	defaultNamespace = "pgroups"
	// defaultRequestTimeout bounds calls whose caller did not set one.
	defaultRequestTimeout = 30 * time.Second
	// defaultLivenessTimeout bounds the liveness probe issued when a watch
	// is installed.
	defaultLivenessTimeout = 2 * time.Second
	// defaultLeaveTimeout bounds the memberlist broadcast on shutdown.
	defaultLeaveTimeout = 5 * time.Second
)

// Config groups the settings of a mesh node.
type Config struct {
	// Name is the cluster-wide unique name of this node. Required.
	Name string
	// BindAddr is the address the membership layer binds to.
	BindAddr string
	// BindPort is the port the membership layer binds to. Required.
	BindPort int
	// JoinAddrs seeds the membership layer with existing nodes, host:port.
	// Leave empty to bootstrap a new cluster.
	JoinAddrs []string
	// NatsServer is the address of the NATS server carrying the mesh
	// traffic. Required.
	NatsServer string
	// Namespace prefixes every subject used by the mesh.
	Namespace string
	// RequestTimeout bounds calls whose caller did not set a timeout.
	RequestTimeout time.Duration
	// LivenessTimeout bounds the liveness probe issued when a watch is
	// installed.
	LivenessTimeout time.Duration
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("node name is required")
	}
	if c.BindPort <= 0 {
		return errors.New("bind port is required")
	}
	if c.NatsServer == "" {
		return errors.New("nats server address is required")
	}
	if c.BindAddr == "" {
		c.BindAddr = "0.0.0.0"
	}
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = defaultLivenessTimeout
	}
	return nil
}
