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
	"encoding/json"

	"github.com/tochemey/pgroups/cluster"
	"github.com/tochemey/pgroups/internal/compression/brotli"
)

const (
	// ServiceName is the substrate service the registry listens on.
	ServiceName = "pgroups.registry"

	// compressThreshold is the serialized state size in bytes above which
	// exchange payloads travel compressed.
	compressThreshold = 4 << 10
)

// wireType discriminates peer messages.
type wireType string

const (
	// wireHello announces a freshly started registry to a peer and asks it
	// to exchange state.
	wireHello wireType = "hello"
	// wireExchange carries a node's group state for union merging.
	wireExchange wireType = "exchange"
	// wireResync instructs the receiver to re-send its state to all peers.
	wireResync wireType = "resync"

	wireCreate wireType = "create"
	wireDelete wireType = "delete"
	wireJoin   wireType = "join"
	wireLeave  wireType = "leave"

	// wireFetch is the read-only call used by the verifier.
	wireFetch wireType = "fetch"
)

// wireEndpoint is the serialized form of cluster.Endpoint.
type wireEndpoint struct {
	ID   string `json:"id"`
	Node string `json:"node"`
}

func toWireEndpoint(e cluster.Endpoint) wireEndpoint {
	return wireEndpoint{ID: e.ID, Node: e.Node}
}

func (w wireEndpoint) endpoint() cluster.Endpoint {
	return cluster.Endpoint{ID: w.ID, Node: w.Node}
}

func toWireEndpoints(endpoints []cluster.Endpoint) []wireEndpoint {
	out := make([]wireEndpoint, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, toWireEndpoint(e))
	}
	return out
}

func fromWireEndpoints(wires []wireEndpoint) []cluster.Endpoint {
	out := make([]cluster.Endpoint, 0, len(wires))
	for _, w := range wires {
		out = append(out, w.endpoint())
	}
	return out
}

// wireGroup pairs a group name with a subset of its members.
type wireGroup struct {
	Group   string         `json:"group"`
	Members []wireEndpoint `json:"members,omitempty"`
}

// listSnapshot is a group's materialised views as reported by one node.
type listSnapshot struct {
	Group string         `json:"group"`
	All   []wireEndpoint `json:"all,omitempty"`
	Local []wireEndpoint `json:"local,omitempty"`
}

// envelope is the single message shape travelling between registries.
type envelope struct {
	Type     wireType      `json:"type"`
	From     string        `json:"from"`
	Group    string        `json:"group,omitempty"`
	Endpoint *wireEndpoint `json:"endpoint,omitempty"`
	// State carries exchange payloads; it is moved into Packed when large.
	State  []wireGroup `json:"state,omitempty"`
	Packed []byte      `json:"packed,omitempty"`
	// Groups filters a fetch request; empty means every group.
	Groups []string `json:"groups,omitempty"`
}

// ack is the reply shape for registry calls.
type ack struct {
	OK    bool           `json:"ok"`
	Lists []listSnapshot `json:"lists,omitempty"`
}

// encodeEnvelope serializes an envelope, compressing bulky state payloads.
func encodeEnvelope(env *envelope) ([]byte, error) {
	if len(env.State) > 0 {
		state, err := json.Marshal(env.State)
		if err != nil {
			return nil, err
		}
		if len(state) > compressThreshold {
			packed, err := brotli.Compress(state)
			if err != nil {
				return nil, err
			}
			clone := *env
			clone.State = nil
			clone.Packed = packed
			return json.Marshal(&clone)
		}
	}
	return json.Marshal(env)
}

// decodeEnvelope deserializes an envelope, inflating packed state payloads.
func decodeEnvelope(data []byte) (*envelope, error) {
	env := new(envelope)
	if err := json.Unmarshal(data, env); err != nil {
		return nil, err
	}
	if len(env.Packed) > 0 {
		state, err := brotli.Decompress(env.Packed)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(state, &env.State); err != nil {
			return nil, err
		}
		env.Packed = nil
	}
	return env, nil
}

// encodeAck serializes a call reply.
func encodeAck(a *ack) ([]byte, error) {
	return json.Marshal(a)
}

// decodeAck deserializes a call reply.
func decodeAck(data []byte) (*ack, error) {
	a := new(ack)
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	return a, nil
}
