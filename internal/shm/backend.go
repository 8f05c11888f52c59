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

import "unsafe"

// backend is the sealed set of operations every shared-memory mechanism
// must provide. A Manager holds exactly one backend, chosen at construction
// and never swapped afterward — the "sealed tagged variant" this package
// uses in place of the original C implementation's function-pointer table
// (see the design notes on polymorphic backends without inheritance).
//
// regionState is an opaque, backend-private handle threaded back through
// detachRegion/destroyRegion/regionContact; callers never inspect it.
type backend interface {
	// init performs backend-private bookkeeping such as deriving a unique
	// name-template from the process id. It fails only on resource
	// exhaustion.
	init(cfg BackendConfig) error

	// createRegion obtains a fresh shared byte range of at least size
	// bytes and maps it into this process at hint if possible.
	createRegion(size uintptr, hint unsafe.Pointer) (regionState any, addr unsafe.Pointer, err error)

	// createNamedRegion is createRegion with a caller-supplied identity.
	// A pre-existing object at that identity is truncated/replaced for
	// mmap and POSIX-named, and is an error for SysV.
	createNamedRegion(name string, size uintptr, hint unsafe.Pointer) (regionState any, addr unsafe.Pointer, err error)

	// regionContact serializes enough information for a peer to locate
	// and size the region identified by regionState.
	regionContact(regionState any) (ContactToken, error)

	// attachRegion opens the shared object identified by token and maps
	// it into this process at hint.
	attachRegion(token ContactToken, size uintptr, hint unsafe.Pointer) (regionState any, addr unsafe.Pointer, err error)

	// attachNamedRegion opens the shared object identified by a caller's
	// identity string — the attach-side counterpart of createNamedRegion.
	// Each backend resolves name into whatever addressing scheme it
	// actually uses (a joined path for mmap/POSIX-named, a derived key for
	// SysV), mirroring how createNamedRegion is a backend method rather
	// than a Manager-level path built once and shared across backends.
	attachNamedRegion(name string, size uintptr, hint unsafe.Pointer) (regionState any, addr unsafe.Pointer, err error)

	// detachRegion unmaps the byte range in this process and releases
	// variant-private per-region state. It does not remove the
	// underlying OS object.
	detachRegion(regionState any, addr unsafe.Pointer, size uintptr) error

	// destroyRegion unmaps AND removes the underlying OS object. Only the
	// creator should invoke this path.
	destroyRegion(regionState any, addr unsafe.Pointer, size uintptr) error

	// finalize cleans up process-wide artifacts (e.g. the unique-name
	// seed file) created by init.
	finalize() error
}

// newBackend constructs the concrete backend for method, uninitialized.
func newBackend(method Method) (backend, error) {
	switch method {
	case MethodMmap:
		return &mmapBackend{}, nil
	case MethodSysV:
		return &sysvBackend{}, nil
	case MethodPosixSHM:
		return &posixBackend{}, nil
	default:
		return nil, ErrUnknownBackend
	}
}

// placeHint checks a mapping a backend has already made at got against the
// caller's hint: it warns if the hint is not page-aligned and if the OS
// placed the mapping somewhere other than the hint.
// This centralizes the "address-placement warning" rule shared by all three
// backends' create/attach paths.
func placeHint(hint unsafe.Pointer, got unsafe.Pointer) {
	if hint == nil {
		return
	}
	if !isPageAligned(uintptr(hint)) {
		warnf("hint address %#x is not page-aligned", uintptr(hint))
	}
	if got != hint {
		warnf("requested mapping at %#x, OS placed it at %#x", uintptr(hint), uintptr(got))
	}
}
