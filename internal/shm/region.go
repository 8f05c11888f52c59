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
	"os"
	"sync"
	"unsafe"
)

// unknownPID is the sentinel creator id used when a Region's actual creator
// process cannot be determined (the pid of -1, mirroring the original's
// DF_SHM_UNKNOWN_PID).
const unknownPID = -1

// Region describes one mapped byte range: its size, its starting address in
// this process, its creator's pid (or unknownPID), and its backend-private
// state. It does not record which Manager returned it. A Region is owned by
// exactly one process — the creator; other processes hold an attachment,
// not ownership.
type Region struct {
	size        uintptr
	addr        unsafe.Pointer
	creatorPID  int
	regionState any
}

// Size returns the region's byte length.
func (r *Region) Size() uintptr { return r.size }

// Addr returns the region's starting address in this process. No raw
// pointer derived from this value may be stored inside the region itself —
// the same byte range is mapped at potentially different addresses in
// different processes (see the design notes on shared-memory layout).
func (r *Region) Addr() unsafe.Pointer { return r.addr }

// CreatorPID returns the pid of the process that created this region, or
// unknownPID if that identity was not available when it was attached.
func (r *Region) CreatorPID() int { return r.creatorPID }

// Bytes returns the region's backing memory as a byte slice, for callers
// that want to place a Queue or other structure inside it with ordinary
// pointer arithmetic from &b[0].
func (r *Region) Bytes() []byte {
	return unsafe.Slice((*byte)(r.addr), int(r.size))
}

// Manager is a polymorphic façade over one chosen Backend. It tracks
// regions this process has created and regions this process has attached to
// in two separate lists, so that finalize (Close) can apply the correct
// disposition — destroy vs. detach — to each without a per-region role
// check (see the rationale for the two-list split).
type Manager struct {
	mu          sync.Mutex
	backend     backend
	method      Method
	initialized bool
	created     []*Region
	foreign     []*Region
}

// NewManager selects one compiled-in Backend, runs its init, and returns a
// Manager with empty created/foreign lists.
func NewManager(method Method, cfg BackendConfig) (*Manager, error) {
	b, err := newBackend(method)
	if err != nil {
		return nil, err
	}
	if err := b.init(cfg); err != nil {
		return nil, fmt.Errorf("backend init: %w", err)
	}
	return &Manager{backend: b, method: method, initialized: true}, nil
}

// Method reports which backend this Manager was constructed with.
func (m *Manager) Method() Method { return m.method }

func (m *Manager) checkInitialized() error {
	if !m.initialized {
		Logger.Printf("invalid state: operation on a finalized Manager")
		return ErrNotInitialized
	}
	return nil
}

// Create delegates to the backend, then prepends the new Region to the
// created list with creatorPID set to this process's pid.
func (m *Manager) Create(size uintptr, hint unsafe.Pointer) (*Region, error) {
	if err := m.checkInitialized(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, ErrInvalidArgument
	}
	rs, addr, err := m.backend.createRegion(size, hint)
	if err != nil {
		return nil, err
	}
	r := &Region{size: size, addr: addr, creatorPID: os.Getpid(), regionState: rs}
	m.mu.Lock()
	m.created = append([]*Region{r}, m.created...)
	m.mu.Unlock()
	return r, nil
}

// CreateNamed is Create routed through the backend's named variant.
func (m *Manager) CreateNamed(name string, size uintptr, hint unsafe.Pointer) (*Region, error) {
	if err := m.checkInitialized(); err != nil {
		return nil, err
	}
	if size == 0 || name == "" {
		return nil, ErrInvalidArgument
	}
	rs, addr, err := m.backend.createNamedRegion(name, size, hint)
	if err != nil {
		return nil, err
	}
	r := &Region{size: size, addr: addr, creatorPID: os.Getpid(), regionState: rs}
	m.mu.Lock()
	m.created = append([]*Region{r}, m.created...)
	m.mu.Unlock()
	return r, nil
}

// Contact serializes enough information for a peer to locate and size r.
func (m *Manager) Contact(r *Region) (ContactToken, error) {
	if err := m.checkInitialized(); err != nil {
		return nil, err
	}
	return m.backend.regionContact(r.regionState)
}

// Attach delegates to the backend, then prepends the new Region to the
// foreign list with creatorPID set to peerPID (or unknownPID).
func (m *Manager) Attach(peerPID int, token ContactToken, size uintptr, hint unsafe.Pointer) (*Region, error) {
	if err := m.checkInitialized(); err != nil {
		return nil, err
	}
	rs, addr, err := m.backend.attachRegion(token, size, hint)
	if err != nil {
		return nil, err
	}
	if peerPID == 0 {
		peerPID = unknownPID
	}
	r := &Region{size: size, addr: addr, creatorPID: peerPID, regionState: rs}
	m.mu.Lock()
	m.foreign = append([]*Region{r}, m.foreign...)
	m.mu.Unlock()
	return r, nil
}

// AttachNamed attaches a named region created elsewhere with CreateNamed.
// Each backend resolves name itself — attachNamedRegion is the attach-side
// counterpart of createNamedRegion, not a Manager-level path built once and
// shared across backends, since mmap/POSIX-named and SysV disagree on what
// an identity string even means (a joined path vs. a derived integer key).
func (m *Manager) AttachNamed(name string, size uintptr, hint unsafe.Pointer) (*Region, error) {
	if err := m.checkInitialized(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, ErrInvalidArgument
	}
	rs, addr, err := m.backend.attachNamedRegion(name, size, hint)
	if err != nil {
		return nil, err
	}
	r := &Region{size: size, addr: addr, creatorPID: unknownPID, regionState: rs}
	m.mu.Lock()
	m.foreign = append([]*Region{r}, m.foreign...)
	m.mu.Unlock()
	return r, nil
}

// Detach delegates to the backend, removes r from the foreign list, and
// frees the handle. Detaching a region this Manager created (rather than
// attached) is also accepted and simply unmaps without removing the OS
// object, matching Destroy's fallback semantics for a non-owner caller.
func (m *Manager) Detach(r *Region) error {
	if err := m.checkInitialized(); err != nil {
		return err
	}
	err := m.backend.detachRegion(r.regionState, r.addr, r.size)
	m.mu.Lock()
	m.foreign = removeRegion(m.foreign, r)
	m.created = removeRegion(m.created, r)
	m.mu.Unlock()
	return err
}

// Destroy unmaps and removes the underlying OS object if this Manager
// created r; otherwise it degrades to Detach semantics and does not remove
// the OS object (ownership discipline — see the testable properties).
func (m *Manager) Destroy(r *Region) error {
	if err := m.checkInitialized(); err != nil {
		return err
	}
	m.mu.Lock()
	owned := containsRegion(m.created, r)
	m.mu.Unlock()
	if !owned {
		return m.Detach(r)
	}
	err := m.backend.destroyRegion(r.regionState, r.addr, r.size)
	m.mu.Lock()
	m.created = removeRegion(m.created, r)
	m.mu.Unlock()
	return err
}

// Close destroys every remaining created region and detaches every
// remaining foreign region on a best-effort basis, then runs backend
// finalize and marks the Manager unusable. Errors from individual regions
// are logged (cleanup anomalies) rather than aborting the sweep; the first
// one encountered is returned.
func (m *Manager) Close() error {
	if err := m.checkInitialized(); err != nil {
		return err
	}
	m.mu.Lock()
	created := m.created
	foreign := m.foreign
	m.created = nil
	m.foreign = nil
	m.initialized = false
	m.mu.Unlock()

	var firstErr error
	for _, r := range created {
		if err := m.backend.destroyRegion(r.regionState, r.addr, r.size); err != nil {
			logCleanupErr("manager close: destroy created region", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, r := range foreign {
		if err := m.backend.detachRegion(r.regionState, r.addr, r.size); err != nil {
			logCleanupErr("manager close: detach foreign region", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := m.backend.finalize(); err != nil {
		logCleanupErr("manager close: backend finalize", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func removeRegion(list []*Region, r *Region) []*Region {
	out := list[:0]
	for _, cur := range list {
		if cur != r {
			out = append(out, cur)
		}
	}
	return out
}

func containsRegion(list []*Region, r *Region) bool {
	for _, cur := range list {
		if cur == r {
			return true
		}
	}
	return false
}
