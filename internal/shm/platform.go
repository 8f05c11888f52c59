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
	"unsafe"

	"golang.org/x/sys/unix"
)

// cacheLineSize is the assumed CPU cache line size. It is a build-time
// constant rather than a runtime probe: both peers of a ring must agree on
// it, and it is not discoverable portably across the architectures this
// package targets.
const cacheLineSize = 64

// pageSize is resolved once at init; both peers on the same machine see the
// same value since it is an OS/architecture property, not a process one.
var pageSize = unix.Getpagesize()

// alignUp rounds size up to the next multiple of align, where align is a
// power of two.
func alignUp(size, align uintptr) uintptr {
	return (size + align - 1) &^ (align - 1)
}

// isPageAligned reports whether addr is aligned to pageSize.
func isPageAligned(addr uintptr) bool {
	return addr&(uintptr(pageSize)-1) == 0
}

// alignUpPtr rounds ptr up to the next address that is a multiple of align.
func alignUpPtr(ptr unsafe.Pointer, align uintptr) unsafe.Pointer {
	return unsafe.Pointer(alignUp(uintptr(ptr), align))
}
