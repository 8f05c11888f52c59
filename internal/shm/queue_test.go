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
	"testing"
	"unsafe"
)

func allocQueueBuf(t *testing.T, n uint32, p uintptr) []byte {
	t.Helper()
	size, err := CalculateQueueSize(n, p)
	if err != nil {
		t.Fatalf("CalculateQueueSize: %v", err)
	}
	buf := make([]byte, size+cacheLineSize) // slack so we can align the base ourselves
	return buf
}

// alignedBase returns a cache-line-aligned pointer into buf.
func alignedBase(buf []byte) unsafe.Pointer {
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := alignUp(base, cacheLineSize)
	return unsafe.Pointer(aligned)
}

func TestCalculateQueueSizeRejectsZero(t *testing.T) {
	if _, err := CalculateQueueSize(0, 64); err == nil {
		t.Fatal("CalculateQueueSize(0, 64) succeeded, want ErrInvalidArgument")
	}
	if _, err := CalculateQueueSize(4, 0); err == nil {
		t.Fatal("CalculateQueueSize(4, 0) succeeded, want ErrInvalidArgument")
	}
}

func TestCreateQueueLayout(t *testing.T) {
	const n, p = 8, uint32(100)
	buf := allocQueueBuf(t, n, uintptr(p))
	base := alignedBase(buf)

	q, err := CreateQueue(base, n, uintptr(p))
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	if q.MaxSlots() != n {
		t.Fatalf("MaxSlots() = %d, want %d", q.MaxSlots(), n)
	}
	if q.MaxPayload() != uint64(p) {
		t.Fatalf("MaxPayload() = %d, want %d", q.MaxPayload(), p)
	}
	if q.SlotStride()%cacheLineSize != 0 {
		t.Fatalf("SlotStride() = %d is not a multiple of the cache line size", q.SlotStride())
	}
	if q.SlotStride() < uint64(slotHeaderSize)+uint64(p) {
		t.Fatalf("SlotStride() = %d too small for header+payload %d", q.SlotStride(), slotHeaderSize+int(p))
	}

	// Property 6: no cache-line sharing between adjacent slots — the
	// address delta between slot i and slot i+1 is a multiple of the
	// cache line size.
	for i := uint32(0); i < n-1; i++ {
		a := uintptr(q.slotPayloadAt(i)) - slotHeaderSize
		b := uintptr(q.slotPayloadAt(i+1)) - slotHeaderSize
		if (b-a)%cacheLineSize != 0 {
			t.Fatalf("slot %d to slot %d delta %d is not a multiple of %d", i, i+1, b-a, cacheLineSize)
		}
	}

	// Every slot must start EMPTY with zero length before anything is
	// enqueued (initialization invariant).
	for i := uint32(0); i < n; i++ {
		if q.slotStatus(i) != slotEmpty {
			t.Fatalf("slot %d status = %d, want slotEmpty", i, q.slotStatus(i))
		}
		if q.slotLength(i) != 0 {
			t.Fatalf("slot %d length = %d, want 0", i, q.slotLength(i))
		}
	}
}

func TestOpenQueueRejectsUninitialized(t *testing.T) {
	buf := allocQueueBuf(t, 4, 64)
	base := alignedBase(buf)
	if _, err := OpenQueue(base); err != ErrNotInitialized {
		t.Fatalf("OpenQueue on zero-filled memory = %v, want ErrNotInitialized", err)
	}
}

func TestOpenQueueAfterCreate(t *testing.T) {
	buf := allocQueueBuf(t, 4, 64)
	base := alignedBase(buf)
	created, err := CreateQueue(base, 4, 64)
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}

	opened, err := OpenQueue(base)
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	if opened.MaxSlots() != created.MaxSlots() || opened.MaxPayload() != created.MaxPayload() || opened.SlotStride() != created.SlotStride() {
		t.Fatalf("OpenQueue returned %+v, want fields matching CreateQueue's %+v", opened, created)
	}
}

func TestDestroyQueueFlipsInitializedOnly(t *testing.T) {
	buf := allocQueueBuf(t, 4, 64)
	base := alignedBase(buf)
	q, err := CreateQueue(base, 4, 64)
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	q.setSlotStatus(0, slotFull)

	if err := DestroyQueue(q); err != nil {
		t.Fatalf("DestroyQueue: %v", err)
	}
	if _, err := OpenQueue(base); err != ErrNotInitialized {
		t.Fatalf("OpenQueue after DestroyQueue = %v, want ErrNotInitialized", err)
	}
	// Slot state is untouched by destroy.
	if q.slotStatus(0) != slotFull {
		t.Fatalf("slot 0 status after DestroyQueue = %d, want slotFull (destroy must not scrub slots)", q.slotStatus(0))
	}
}
