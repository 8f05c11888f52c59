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
	"sync/atomic"
	"unsafe"
)

// slotStatus loads slot i's status word with acquire semantics: any read of
// this word that observes a transition made by the peer also observes every
// plain store that peer made before flipping it (Go's sync/atomic gives
// sequential consistency across all atomic ops, a strictly stronger
// guarantee than the acquire/release pair the original's commented-out
// fences were reaching for — see the concurrency model section).
func (q *Queue) slotStatus(i uint32) uint32 {
	return atomic.LoadUint32(&q.slotHeaderAt(i).status)
}

func (q *Queue) setSlotStatus(i uint32, status uint32) {
	atomic.StoreUint32(&q.slotHeaderAt(i).status, status)
}

func (q *Queue) slotLength(i uint32) uint64 {
	return atomic.LoadUint64(&q.slotHeaderAt(i).length)
}

func (q *Queue) setSlotLength(i uint32, length uint64) {
	atomic.StoreUint64(&q.slotHeaderAt(i).length, length)
}

// slotBytes returns the writable payload area of slot i as a byte slice
// capped at maxPayload. Writing or reading through it is only safe for the
// side that currently owns the slot under the EMPTY/FULL protocol — this
// method does not itself synchronize anything.
func (q *Queue) slotBytes(i uint32) []byte {
	return unsafe.Slice((*byte)(q.slotPayloadAt(i)), int(q.maxPayload))
}

// writeSlot copies src into slot i's payload area and records its length.
// Callers must hold ownership of the slot (it must currently read EMPTY)
// before calling this, and must call setSlotStatus(i, slotFull) only after
// this returns, so the length store is visible before the status flip that
// releases the slot to the receiver.
func (q *Queue) writeSlot(i uint32, src []byte) error {
	if uint64(len(src)) > q.maxPayload {
		return ErrOversizePayload
	}
	dst := q.slotBytes(i)
	n := copy(dst, src)
	q.setSlotLength(i, uint64(n))
	return nil
}

// readSlot returns a view of slot i's current payload, sized to its
// recorded length. The returned slice aliases shared memory and is only
// valid until the caller releases the slot back to EMPTY.
func (q *Queue) readSlot(i uint32) []byte {
	n := q.slotLength(i)
	return q.slotBytes(i)[:n]
}
