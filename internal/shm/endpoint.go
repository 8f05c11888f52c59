/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shm

import (
	"context"
	"sync/atomic"
)

// Role distinguishes the two ends of a Queue. Exactly one Endpoint of each
// role may be open on a given Queue at a time — this is a single-producer,
// single-consumer protocol, and opening two endpoints of the same role on
// one queue races their cursors against each other with no detection.
type Role int

const (
	// RoleSender enqueues payloads.
	RoleSender Role = iota
	// RoleReceiver dequeues payloads.
	RoleReceiver
)

// Endpoint is one side's cursor onto a Queue: the next slot index it will
// try to use, advanced modulo N after each successful enqueue (sender) or
// Release (receiver); a dequeue alone does not advance it. Cursor
// state is process-local — it is never written into shared memory, which is
// why an Endpoint cannot be reconstructed across a process restart (see the
// non-goals: "surviving the crash of one endpoint process mid-transfer").
type Endpoint struct {
	role   Role
	queue  *Queue
	cursor uint32
	closed atomic.Bool
}

// OpenSender opens the producer side of q.
func OpenSender(q *Queue) (*Endpoint, error) {
	if q == nil {
		return nil, ErrInvalidArgument
	}
	return &Endpoint{role: RoleSender, queue: q}, nil
}

// OpenReceiver opens the consumer side of q.
func OpenReceiver(q *Queue) (*Endpoint, error) {
	if q == nil {
		return nil, ErrInvalidArgument
	}
	return &Endpoint{role: RoleReceiver, queue: q}, nil
}

// Close marks the endpoint unusable. It does not touch the Queue or any
// slot — shutdown of the underlying Region/Queue is the Manager's job.
func (e *Endpoint) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *Endpoint) checkOpen() error {
	if e.closed.Load() {
		return ErrQueueClosed
	}
	return nil
}

func (e *Endpoint) advance() {
	e.cursor = (e.cursor + 1) % e.queue.maxSlots
}

// IsEnqueuePossible reports whether the slot the sender would use next is
// currently EMPTY, without claiming it.
func (e *Endpoint) IsEnqueuePossible() bool {
	return e.queue.slotStatus(e.cursor) == slotEmpty
}

// TryEnqueue attempts one non-blocking enqueue. It returns ok=false (with a
// nil error) if the next slot is still FULL — the receiver hasn't drained
// it yet — rather than blocking.
func (e *Endpoint) TryEnqueue(payload []byte) (ok bool, err error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	if uint64(len(payload)) > e.queue.maxPayload {
		return false, ErrOversizePayload
	}
	i := e.cursor
	if e.queue.slotStatus(i) != slotEmpty {
		return false, nil
	}
	if err := e.queue.writeSlot(i, payload); err != nil {
		return false, err
	}
	e.queue.setSlotStatus(i, slotFull)
	e.advance()
	return true, nil
}

// TryEnqueueVector is TryEnqueue for a payload assembled in place from
// multiple segments, concatenated into one slot up to the queue's P limit.
func (e *Endpoint) TryEnqueueVector(segments [][]byte) (ok bool, err error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	var total uint64
	for _, s := range segments {
		total += uint64(len(s))
	}
	if total > e.queue.maxPayload {
		return false, ErrOversizePayload
	}
	i := e.cursor
	if e.queue.slotStatus(i) != slotEmpty {
		return false, nil
	}
	dst := e.queue.slotBytes(i)
	var n int
	for _, s := range segments {
		n += copy(dst[n:], s)
	}
	e.queue.setSlotLength(i, uint64(n))
	e.queue.setSlotStatus(i, slotFull)
	e.advance()
	return true, nil
}

// Enqueue busy-spins until the next slot is EMPTY, then writes payload into
// it. There is no blocking system call anywhere in this path (see the
// concurrency model section); callers that need to yield the CPU under
// contention should use EnqueueContext with a context carrying their own
// backoff, or call TryEnqueue from their own poll loop.
func (e *Endpoint) Enqueue(payload []byte) error {
	for {
		ok, err := e.TryEnqueue(payload)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// EnqueueVector is Enqueue for TryEnqueueVector.
func (e *Endpoint) EnqueueVector(segments [][]byte) error {
	for {
		ok, err := e.TryEnqueueVector(segments)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// EnqueueContext busy-spins like Enqueue but also polls ctx for
// cancellation between attempts, returning ctx.Err() if it fires before a
// slot frees up.
func (e *Endpoint) EnqueueContext(ctx context.Context, payload []byte) error {
	for {
		ok, err := e.TryEnqueue(payload)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// IsDequeuePossible reports whether the slot the receiver would use next is
// currently FULL, without claiming it.
func (e *Endpoint) IsDequeuePossible() bool {
	return e.queue.slotStatus(e.cursor) == slotFull
}

// TryDequeue attempts one non-blocking dequeue. The returned slice aliases
// shared memory and is valid until the matching Release call, after which
// the sender may overwrite it. ok=false (with a nil error) means the next
// slot is still EMPTY.
func (e *Endpoint) TryDequeue() (payload []byte, ok bool, err error) {
	if err := e.checkOpen(); err != nil {
		return nil, false, err
	}
	i := e.cursor
	if e.queue.slotStatus(i) != slotFull {
		return nil, false, nil
	}
	return e.queue.readSlot(i), true, nil
}

// Release returns the most recently dequeued slot to EMPTY, advancing the
// receiver's cursor. It must be called exactly once per successful
// TryDequeue/Dequeue, before the next one; the slice that call returned
// must not be used after Release.
func (e *Endpoint) Release() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	i := e.cursor
	if e.queue.slotStatus(i) != slotFull {
		return ErrInvalidArgument
	}
	e.queue.setSlotLength(i, 0)
	e.queue.setSlotStatus(i, slotEmpty)
	e.advance()
	return nil
}

// Dequeue busy-spins until the next slot is FULL, returning its payload.
// The caller must call Release once done reading it.
func (e *Endpoint) Dequeue() ([]byte, error) {
	for {
		payload, ok, err := e.TryDequeue()
		if err != nil {
			return nil, err
		}
		if ok {
			return payload, nil
		}
	}
}

// DequeueContext is Dequeue with cancellation, mirroring EnqueueContext.
func (e *Endpoint) DequeueContext(ctx context.Context) ([]byte, error) {
	for {
		payload, ok, err := e.TryDequeue()
		if err != nil {
			return nil, err
		}
		if ok {
			return payload, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}
