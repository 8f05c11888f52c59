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
	"fmt"
	"sync/atomic"
	"unsafe"
)

// slotHeaderSize is sizeof(slotHeader): a status word, padding to align the
// length field, and the length word itself.
const slotHeaderSize = 16

// queueHeaderSize is sizeof(queueHeader): always exactly one cache line.
const queueHeaderSize = cacheLineSize

// queueHeader is the header laid out at the base of every Queue inside a
// Region. Its fields are written once at creation and read-only
// afterward, except for the initialized flag (written last, see
// CreateQueue) and the per-slot status/length words that live past it.
//
// Layout mirrors _examples/original_source/trunk/df_shm_queue.h's df_queue
// struct: initialized, max_num_slots, max_payload_size, slot_size,
// total_size, then padding to CACHE_LINE_SIZE.
type queueHeader struct {
	initialized int32
	maxSlots    uint32
	maxPayload  uint64
	slotStride  uint64
	totalSize   uint64
	_           [cacheLineSize - 4 - 4 - 8 - 8 - 8]byte
}

func init() {
	if unsafe.Sizeof(queueHeader{}) != queueHeaderSize {
		panic(fmt.Sprintf("queueHeader size = %d, want %d", unsafe.Sizeof(queueHeader{}), queueHeaderSize))
	}
	if slotHeaderSize != unsafe.Sizeof(struct {
		status uint32
		_      uint32
		length uint64
	}{}) {
		panic("slotHeaderSize constant out of sync with slot header layout")
	}
}

// Slot status values. SLOT_FULL = 0, SLOT_EMPTY = 1, matching the original
// enum SLOT_FLAG exactly — zero-filled shared memory is never mistaken for
// an empty, ready-for-writing slot.
const (
	slotFull  uint32 = 0
	slotEmpty uint32 = 1
)

// Queue is a process-local handle onto a circular FIFO of N fixed-size
// slots placed at a caller-chosen address inside a Region. The Queue bytes
// themselves are owned by whoever owns the enclosing Region; a Queue handle
// is cheap and may be reopened independently by every process that has the
// Region mapped.
type Queue struct {
	base       unsafe.Pointer
	maxSlots   uint32
	maxPayload uint64
	slotStride uint64
	totalSize  uint64
}

func (q *Queue) header() *queueHeader {
	return (*queueHeader)(q.base)
}

// MaxSlots returns N, the slot count.
func (q *Queue) MaxSlots() uint32 { return q.maxSlots }

// MaxPayload returns P, the maximum payload size in bytes.
func (q *Queue) MaxPayload() uint64 { return q.maxPayload }

// SlotStride returns S, the per-slot footprint in bytes.
func (q *Queue) SlotStride() uint64 { return q.slotStride }

// TotalSize returns the queue's total footprint in bytes, header included.
func (q *Queue) TotalSize() uint64 { return q.totalSize }

// CalculateQueueSize returns how many bytes a queue with the given slot
// count and payload limit would occupy, without creating one.
func CalculateQueueSize(maxSlots uint32, maxPayload uintptr) (uintptr, error) {
	if maxSlots == 0 || maxPayload == 0 {
		return 0, ErrInvalidArgument
	}
	stride := alignUp(uintptr(slotHeaderSize)+maxPayload, cacheLineSize)
	return uintptr(queueHeaderSize) + uintptr(maxSlots)*stride, nil
}

// CreateQueue places a new queue at addr, which must be cache-line-aligned
// and must reference at least CalculateQueueSize(maxSlots, maxPayload)
// writable bytes. All slot statuses are initialized to EMPTY and lengths to
// zero before the initialized flag is stored; that store is the last one
// made visible, so any process that later observes initialized=true also
// observes every slot's EMPTY state (see the queue layout and protocol
// section).
func CreateQueue(addr unsafe.Pointer, maxSlots uint32, maxPayload uintptr) (*Queue, error) {
	if addr == nil || maxSlots == 0 || maxPayload == 0 {
		return nil, ErrInvalidArgument
	}
	if uintptr(addr)%cacheLineSize != 0 {
		warnf("queue base %#x is not cache-line-aligned", uintptr(addr))
	}
	stride := alignUp(uintptr(slotHeaderSize)+maxPayload, cacheLineSize)
	total := uintptr(queueHeaderSize) + uintptr(maxSlots)*stride

	q := &Queue{
		base:       addr,
		maxSlots:   maxSlots,
		maxPayload: uint64(maxPayload),
		slotStride: uint64(stride),
		totalSize:  uint64(total),
	}

	for i := uint32(0); i < maxSlots; i++ {
		s := q.slotHeaderAt(i)
		atomic.StoreUint64(&s.length, 0)
		atomic.StoreUint32(&s.status, slotEmpty)
	}

	hdr := q.header()
	hdr.maxSlots = maxSlots
	hdr.maxPayload = uint64(maxPayload)
	hdr.slotStride = uint64(stride)
	hdr.totalSize = uint64(total)
	atomic.StoreInt32(&hdr.initialized, 1)

	return q, nil
}

// OpenQueue opens a queue previously created with CreateQueue at addr,
// reading N/P/S back from the header. It fails if the queue is not
// initialized.
func OpenQueue(addr unsafe.Pointer) (*Queue, error) {
	if addr == nil {
		return nil, ErrInvalidArgument
	}
	hdr := (*queueHeader)(addr)
	if atomic.LoadInt32(&hdr.initialized) == 0 {
		return nil, ErrNotInitialized
	}
	return &Queue{
		base:       addr,
		maxSlots:   atomic.LoadUint32(&hdr.maxSlots),
		maxPayload: atomic.LoadUint64(&hdr.maxPayload),
		slotStride: atomic.LoadUint64(&hdr.slotStride),
		totalSize:  atomic.LoadUint64(&hdr.totalSize),
	}, nil
}

// DestroyQueue flips the initialized flag off. It does not zero slot
// contents or otherwise scrub the queue's bytes — the enclosing Region's
// owner is responsible for actually releasing the memory (see the Slot
// lifecycle: "destroyed in place, only flips initialized flag").
func DestroyQueue(q *Queue) error {
	if q == nil {
		return ErrInvalidArgument
	}
	atomic.StoreInt32(&q.header().initialized, 0)
	return nil
}

// slotHeaderAt returns a pointer to slot i's status/length header. Slot i
// begins at offset sizeof(header) + i*S, exactly as the queue layout
// section specifies.
func (q *Queue) slotHeaderAt(i uint32) *struct {
	status uint32
	_      uint32
	length uint64
} {
	off := uintptr(queueHeaderSize) + uintptr(i)*uintptr(q.slotStride)
	return (*struct {
		status uint32
		_      uint32
		length uint64
	})(unsafe.Pointer(uintptr(q.base) + off))
}

// slotPayloadAt returns a pointer to slot i's inline payload area,
// immediately following its header.
func (q *Queue) slotPayloadAt(i uint32) unsafe.Pointer {
	off := uintptr(queueHeaderSize) + uintptr(i)*uintptr(q.slotStride) + slotHeaderSize
	return unsafe.Pointer(uintptr(q.base) + off)
}
