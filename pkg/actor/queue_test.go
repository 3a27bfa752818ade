// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package actor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMsgQueueFIFO(t *testing.T) {
	t.Parallel()

	var q msgQueue
	_, ok := q.pop()
	require.False(t, ok)
	require.Nil(t, q.buf)

	next := 0
	// Interleave push and pop so that the ring wraps around while growing.
	for round := 0; round < 20; round++ {
		for i := 0; i < 7; i++ {
			q.push(&testMsg{seq: round*7 + i})
		}
		for i := 0; i < 3; i++ {
			msg, ok := q.pop()
			require.True(t, ok)
			require.Equal(t, next, msg.(*testMsg).seq)
			next++
		}
	}
	require.Equal(t, 80, q.len())
	for q.len() > 0 {
		msg, ok := q.pop()
		require.True(t, ok)
		require.Equal(t, next, msg.(*testMsg).seq)
		next++
	}
	require.Equal(t, 140, next)
	// A large empty queue releases its buffer.
	require.Nil(t, q.buf)
}

func TestMsgQueueKeepsSmallBuffer(t *testing.T) {
	t.Parallel()

	var q msgQueue
	q.push(&testMsg{})
	_, ok := q.pop()
	require.True(t, ok)
	require.Len(t, q.buf, minQueueCap)
	require.Equal(t, 0, q.head)
}

func TestMsgQueuePopAll(t *testing.T) {
	t.Parallel()

	var q msgQueue
	require.Nil(t, q.popAll())
	for i := 0; i < 10; i++ {
		q.push(&testMsg{seq: i})
	}
	q.pop()
	msgs := q.popAll()
	require.Len(t, msgs, 9)
	for i, msg := range msgs {
		require.Equal(t, i+1, msg.(*testMsg).seq)
	}
	require.Equal(t, 0, q.len())
	require.Nil(t, q.buf)
}
