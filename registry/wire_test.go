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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWire(t *testing.T) {
	t.Run("With a small exchange travelling uncompressed", func(t *testing.T) {
		env := &envelope{
			Type: wireExchange,
			From: "node-a",
			State: []wireGroup{
				{Group: "workers", Members: []wireEndpoint{{ID: "worker-1", Node: "node-a"}}},
			},
		}
		data, err := encodeEnvelope(env)
		require.NoError(t, err)
		assert.Contains(t, string(data), "workers")

		decoded, err := decodeEnvelope(data)
		require.NoError(t, err)
		assert.Equal(t, env.Type, decoded.Type)
		assert.Equal(t, env.From, decoded.From)
		assert.Equal(t, env.State, decoded.State)
		assert.Empty(t, decoded.Packed)
	})
	t.Run("With a bulky exchange packed and inflated transparently", func(t *testing.T) {
		count := 1 << 10
		members := make([]wireEndpoint, 0, count)
		for i := range count {
			members = append(members, wireEndpoint{ID: fmt.Sprintf("worker-%d", i), Node: "node-a"})
		}
		env := &envelope{
			Type:  wireExchange,
			From:  "node-a",
			State: []wireGroup{{Group: "workers", Members: members}},
		}

		data, err := encodeEnvelope(env)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "worker-512")

		decoded, err := decodeEnvelope(data)
		require.NoError(t, err)
		require.Len(t, decoded.State, 1)
		assert.Equal(t, members, decoded.State[0].Members)
		assert.Empty(t, decoded.Packed)
	})
	t.Run("With malformed payloads rejected", func(t *testing.T) {
		_, err := decodeEnvelope([]byte("not-json"))
		assert.Error(t, err)
	})
	t.Run("With call replies round-tripping", func(t *testing.T) {
		reply := &ack{OK: true, Lists: []listSnapshot{{
			Group: "workers",
			All:   []wireEndpoint{{ID: "worker-1", Node: "node-a"}},
			Local: []wireEndpoint{{ID: "worker-1", Node: "node-a"}},
		}}}
		data, err := encodeAck(reply)
		require.NoError(t, err)
		decoded, err := decodeAck(data)
		require.NoError(t, err)
		assert.Equal(t, reply, decoded)
	})
}
