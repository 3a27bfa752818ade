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

const (
	minQueueCap = 4
	// An empty queue larger than maxIdleQueueCap releases its buffer, so that
	// millions of idle actors do not pin the memory of past bursts.
	maxIdleQueueCap = 64
)

// msgQueue is an unbounded FIFO ring buffer. It is not threadsafe.
//
// An empty msgQueue holds no buffer at all, and the buffer grows by doubling,
// so the footprint of a mailbox is proportional to its backlog.
type msgQueue struct {
	buf  []Msg
	head int
	size int
}

func (q *msgQueue) len() int {
	return q.size
}

func (q *msgQueue) push(msg Msg) {
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = msg
	q.size++
}

func (q *msgQueue) pop() (Msg, bool) {
	if q.size == 0 {
		return nil, false
	}
	msg := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	if q.size == 0 {
		q.head = 0
		if len(q.buf) > maxIdleQueueCap {
			q.buf = nil
		}
	}
	return msg, true
}

// popAll removes and returns all the queued messages in order.
func (q *msgQueue) popAll() []Msg {
	if q.size == 0 {
		return nil
	}
	msgs := make([]Msg, 0, q.size)
	for {
		msg, ok := q.pop()
		if !ok {
			break
		}
		msgs = append(msgs, msg)
	}
	q.buf = nil
	return msgs
}

func (q *msgQueue) grow() {
	n := len(q.buf) * 2
	if n == 0 {
		n = minQueueCap
	}
	buf := make([]Msg, n)
	if q.size > 0 {
		if q.head+q.size <= len(q.buf) {
			copy(buf, q.buf[q.head:q.head+q.size])
		} else {
			k := copy(buf, q.buf[q.head:])
			copy(buf[k:], q.buf[:q.size-k])
		}
	}
	q.buf = buf
	q.head = 0
}
