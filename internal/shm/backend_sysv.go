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

//go:build linux && (amd64 || arm64)

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// System V IPC constants not exposed as typed helpers by x/sys/unix; the
// numeric values match <sys/ipc.h>/<sys/shm.h> on Linux.
const (
	ipcCreat = 0o1000
	ipcExcl  = 0o2000
	ipcRmid  = 0
	shmR     = 0o400
	shmW     = 0o200
)

// sysvBackend backs regions with a System V shared memory segment, created
// by integer key. Grounded on
// _examples/other_examples/plexsec-utils__shmget.go's raw SYS_SHMGET /
// SYS_SHMAT / SYS_SHMDT syscalls, issued here through golang.org/x/sys/unix
// instead of the bare "syscall" package (see the domain stack section).
type sysvBackend struct {
	seedPath string
	pid      int
	counter  uint32
}

// sysvRegionState is the backend-private state for one SysV-backed region.
type sysvRegionState struct {
	id  int
	key int
}

func (b *sysvBackend) init(cfg BackendConfig) error {
	dir := cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	b.pid = os.Getpid()
	b.seedPath = filepath.Join(dir, fmt.Sprintf("df_shm_sysv.%d", b.pid))
	f, err := os.OpenFile(b.seedPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("create sysv key seed file: %w", err)
	}
	return f.Close()
}

// ftokKey reproduces glibc's ftok(3): fold the seed file's device and inode
// numbers together with a one-byte project id (here, a per-Manager counter,
// per the artifact table's "per-region integer keys are derived by
// incrementing a per-Manager counter" rule).
func (b *sysvBackend) ftokKey() (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(b.seedPath, &st); err != nil {
		return 0, fmt.Errorf("stat sysv key seed file: %w", err)
	}
	b.counter++
	proj := b.counter & 0xff
	key := (proj << 24) | ((uint32(st.Dev) & 0xff) << 16) | (uint32(st.Ino) & 0xffff)
	return int(int32(key)), nil
}

func (b *sysvBackend) createRegion(size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	key, err := b.ftokKey()
	if err != nil {
		return nil, nil, err
	}
	return b.createWithKey(key, size, hint, true)
}

func (b *sysvBackend) createNamedRegion(name string, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	key, err := sysvKeyFromName(name)
	if err != nil {
		return nil, nil, err
	}
	// Exclusive creation only: a pre-existing segment at this key is an
	// error for SysV, per the contact-token format table.
	return b.createWithKey(key, size, hint, true)
}

func (b *sysvBackend) createWithKey(key int, size uintptr, hint unsafe.Pointer, exclusive bool) (any, unsafe.Pointer, error) {
	flags := ipcCreat | shmR | shmW
	if exclusive {
		flags |= ipcExcl
	}
	id, _, errno := unix.Syscall(unix.SYS_SHMGET, uintptr(key), size, uintptr(flags))
	if errno != 0 {
		if errno == unix.EEXIST {
			return nil, nil, ErrRegionExists
		}
		return nil, nil, fmt.Errorf("shmget: %w", errno)
	}
	addr, err := shmAttach(int(id), hint)
	if err != nil {
		unix.Syscall(unix.SYS_SHMCTL, id, ipcRmid, 0)
		return nil, nil, err
	}
	return &sysvRegionState{id: int(id), key: key}, addr, nil
}

func (b *sysvBackend) regionContact(rs any) (ContactToken, error) {
	st := rs.(*sysvRegionState)
	return encodeKeyToken(st.key), nil
}

func (b *sysvBackend) attachRegion(token ContactToken, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	key, err := decodeKeyToken(token)
	if err != nil {
		return nil, nil, err
	}
	id, _, errno := unix.Syscall(unix.SYS_SHMGET, uintptr(key), size, shmR|shmW)
	if errno != 0 {
		return nil, nil, fmt.Errorf("shmget (attach): %w", errno)
	}
	addr, err := shmAttach(int(id), hint)
	if err != nil {
		return nil, nil, err
	}
	return &sysvRegionState{id: int(id), key: key}, addr, nil
}

// attachNamedRegion rederives the same key createNamedRegion computed from
// name via sysvKeyFromName — a bare name is never itself a SysV key, so
// this backend cannot reuse the generic path-token machinery the mmap and
// POSIX-named backends share.
func (b *sysvBackend) attachNamedRegion(name string, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	key, err := sysvKeyFromName(name)
	if err != nil {
		return nil, nil, err
	}
	id, _, errno := unix.Syscall(unix.SYS_SHMGET, uintptr(key), size, shmR|shmW)
	if errno != 0 {
		return nil, nil, fmt.Errorf("shmget (attach named): %w", errno)
	}
	addr, err := shmAttach(int(id), hint)
	if err != nil {
		return nil, nil, err
	}
	return &sysvRegionState{id: int(id), key: key}, addr, nil
}

func (b *sysvBackend) detachRegion(rs any, addr unsafe.Pointer, size uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_SHMDT, uintptr(addr), 0, 0)
	if errno != 0 {
		return fmt.Errorf("shmdt: %w", errno)
	}
	return nil
}

func (b *sysvBackend) destroyRegion(rs any, addr unsafe.Pointer, size uintptr) error {
	st := rs.(*sysvRegionState)
	err := b.detachRegion(rs, addr, size)
	_, _, errno := unix.Syscall(unix.SYS_SHMCTL, uintptr(st.id), ipcRmid, 0)
	if errno != 0 {
		logCleanupErr("sysv destroy: shmctl IPC_RMID", fmt.Errorf("shmctl: %w", errno))
		if err == nil {
			err = fmt.Errorf("shmctl: %w", errno)
		}
	}
	return err
}

func (b *sysvBackend) finalize() error {
	if err := os.Remove(b.seedPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sysv key seed file: %w", err)
	}
	return nil
}

// shmAttach attaches segment id, honoring hint on a best-effort basis: the
// SysV shmat(2) call accepts a hint address directly (no MAP_FIXED
// equivalent needed); if attaching at the hint fails, the segment is
// attached again at an address the OS chooses.
func shmAttach(id int, hint unsafe.Pointer) (unsafe.Pointer, error) {
	addr, _, errno := unix.Syscall(unix.SYS_SHMAT, uintptr(id), uintptr(hint), 0)
	if errno != 0 && hint != nil {
		warnf("shmat at hint %#x failed (%v), letting the OS choose", uintptr(hint), errno)
		addr, _, errno = unix.Syscall(unix.SYS_SHMAT, uintptr(id), 0, 0)
	}
	if errno != 0 {
		return nil, fmt.Errorf("shmat: %w", errno)
	}
	got := unsafe.Pointer(addr)
	placeHint(hint, got)
	return got, nil
}

// sysvKeyFromName derives a stable key from a caller-supplied name for
// CreateNamed and AttachNamed, by hashing it with 32-bit FNV-1a.
func sysvKeyFromName(name string) (int, error) {
	if name == "" {
		return 0, ErrInvalidArgument
	}
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return int(int32(h)), nil
}
