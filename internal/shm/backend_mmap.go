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
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapBackend backs regions with a temporary file mapped with mmap(2).
// Grounded on the teacher's shm_mmap_unix.go: same O_CREATE|O_EXCL creation,
// same syscall-level Mmap/Munmap, generalized from one fixed two-ring
// segment layout to an arbitrary-size region.
type mmapBackend struct {
	tempDir string
	pid     int
}

// mmapRegionState is the backend-private state threaded through
// detach/destroy/contact for a single mmap-backed region.
type mmapRegionState struct {
	file *os.File
	path string
}

func (b *mmapBackend) init(cfg BackendConfig) error {
	b.tempDir = cfg.TempDir
	if b.tempDir == "" {
		b.tempDir = os.TempDir()
	}
	b.pid = os.Getpid()
	return nil
}

func (b *mmapBackend) createRegion(size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	f, err := os.CreateTemp(b.tempDir, fmt.Sprintf("df_shm_mmap.%d.", b.pid))
	if err != nil {
		return nil, nil, fmt.Errorf("create mmap backing file: %w", err)
	}
	if err := f.Chmod(0600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, fmt.Errorf("chmod mmap backing file: %w", err)
	}
	return b.mapNewFile(f, size, hint)
}

func (b *mmapBackend) createNamedRegion(name string, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	path := filepath.Join(b.tempDir, name)
	// A pre-existing object at this path is truncated/replaced, per the
	// contact-token format table's backend-variance rule.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("create named mmap backing file %s: %w", path, err)
	}
	return b.mapNewFile(f, size, hint)
}

func (b *mmapBackend) mapNewFile(f *os.File, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, fmt.Errorf("truncate mmap backing file: %w", err)
	}
	addr, err := mmapFD(int(f.Fd()), size, hint)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, err
	}
	return &mmapRegionState{file: f, path: f.Name()}, addr, nil
}

func (b *mmapBackend) regionContact(rs any) (ContactToken, error) {
	st := rs.(*mmapRegionState)
	info, err := st.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat mmap backing file: %w", err)
	}
	return encodePathToken(st.path, uintptr(info.Size())), nil
}

func (b *mmapBackend) attachRegion(token ContactToken, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	path, tokenSize, err := decodePathToken(token)
	if err != nil {
		return nil, nil, err
	}
	if size == 0 {
		size = tokenSize
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open mmap backing file %s: %w", path, err)
	}
	addr, err := mmapFD(int(f.Fd()), size, hint)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &mmapRegionState{file: f, path: path}, addr, nil
}

// attachNamedRegion reopens the backing file createNamedRegion created,
// joining name against this backend's own configured tempDir the same way
// createNamedRegion does — the bare name alone is not a usable path.
func (b *mmapBackend) attachNamedRegion(name string, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	path := filepath.Join(b.tempDir, name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open named mmap backing file %s: %w", path, err)
	}
	if size == 0 {
		info, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			return nil, nil, fmt.Errorf("stat named mmap backing file: %w", statErr)
		}
		size = uintptr(info.Size())
	}
	addr, err := mmapFD(int(f.Fd()), size, hint)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &mmapRegionState{file: f, path: path}, addr, nil
}

func (b *mmapBackend) detachRegion(rs any, addr unsafe.Pointer, size uintptr) error {
	st := rs.(*mmapRegionState)
	err := munmapAddr(addr, size)
	if cerr := st.file.Close(); cerr != nil {
		logCleanupErr("mmap detach: close backing file", cerr)
		if err == nil {
			err = cerr
		}
	}
	return err
}

func (b *mmapBackend) destroyRegion(rs any, addr unsafe.Pointer, size uintptr) error {
	st := rs.(*mmapRegionState)
	err := munmapAddr(addr, size)
	if cerr := st.file.Close(); cerr != nil {
		logCleanupErr("mmap destroy: close backing file", cerr)
		if err == nil {
			err = cerr
		}
	}
	if rerr := os.Remove(st.path); rerr != nil && !os.IsNotExist(rerr) {
		logCleanupErr("mmap destroy: unlink backing file", rerr)
		if err == nil {
			err = rerr
		}
	}
	return err
}

func (b *mmapBackend) finalize() error {
	return nil
}

// mmapFD maps size bytes of fd into this process, honoring hint on a
// best-effort basis: a hint is attempted with MAP_FIXED via a raw mmap(2)
// call and, if that fails (or no hint was given), unix.Mmap lets the OS
// choose the address.
func mmapFD(fd int, size uintptr, hint unsafe.Pointer) (unsafe.Pointer, error) {
	const prot = unix.PROT_READ | unix.PROT_WRITE
	if hint != nil {
		addr, _, errno := unix.Syscall6(unix.SYS_MMAP, uintptr(hint), size,
			uintptr(prot), uintptr(unix.MAP_SHARED|unix.MAP_FIXED), uintptr(fd), 0)
		if errno == 0 {
			got := unsafe.Pointer(addr)
			placeHint(hint, got)
			return got, nil
		}
		warnf("MAP_FIXED at hint %#x failed (%v), letting the OS choose", uintptr(hint), errno)
	}
	data, err := unix.Mmap(fd, 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return unsafe.Pointer(&data[0]), nil
}

func munmapAddr(addr unsafe.Pointer, size uintptr) error {
	data := unsafe.Slice((*byte)(addr), size)
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
