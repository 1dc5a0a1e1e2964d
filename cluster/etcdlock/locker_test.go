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

package etcdlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tochemey/pgroups/log"
)

func TestLocker(t *testing.T) {
	t.Run("With defaults", func(t *testing.T) {
		locker := New(nil)
		require.NotNil(t, locker)
		assert.Equal(t, defaultPrefix, locker.prefix)
		assert.Equal(t, defaultSessionTTL, locker.sessionTTL)
		assert.Equal(t, defaultAcquireTimeout, locker.acquireTimeout)
	})
	t.Run("With options applied", func(t *testing.T) {
		locker := New(nil,
			WithLogger(log.DiscardLogger),
			WithPrefix("/custom/locks"),
			WithSessionTTL(60),
			WithAcquireTimeout(10*time.Second),
		)
		assert.Equal(t, "/custom/locks", locker.prefix)
		assert.Equal(t, 60, locker.sessionTTL)
		assert.Equal(t, 10*time.Second, locker.acquireTimeout)
	})
}
