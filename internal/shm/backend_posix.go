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
	"sync/atomic"
	"unsafe"
)

// posixShmDir is where POSIX named shared memory objects live. On Linux,
// shm_open(3) is defined in terms of this tmpfs namespace, so a plain file
// under it is a POSIX-named shared memory object in every way that matters
// to this package — grounded on the teacher's own probe-and-fallback
// between /dev/shm and os.TempDir() in shm_mmap_unix.go's
// generateSegmentPath/isDevShmAvailable.
const posixShmDir = "/dev/shm"

// posixBackend backs regions with a POSIX named shared memory object.
type posixBackend struct {
	pid     int
	counter atomic.Uint32
}

type posixRegionState struct {
	file *os.File
	name string
	dir  string
}

func (b *posixBackend) init(cfg BackendConfig) error {
	b.pid = os.Getpid()
	return nil
}

func posixDir() string {
	if info, err := os.Stat(posixShmDir); err == nil && info.IsDir() {
		return posixShmDir
	}
	return os.TempDir()
}

func (b *posixBackend) createRegion(size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	n := b.counter.Add(1)
	name := fmt.Sprintf("df_shm_posixshm.%d.%d", b.pid, n)
	return b.createNamed(name, size, hint)
}

func (b *posixBackend) createNamedRegion(name string, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	// §9 open question 3: a pre-existing object of the same name is
	// truncated/replaced rather than rejected with O_EXCL, matching the
	// contact-token format table's rule for mmap and POSIX-named backends
	// (this implementation makes the same choice for both, documented
	// here rather than left to the default-mode silent reopen the
	// original left ambiguous).
	return b.createNamed(name, size, hint)
}

func (b *posixBackend) createNamed(name string, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	dir := posixDir()
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("create posix shm object %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, nil, fmt.Errorf("truncate posix shm object: %w", err)
	}
	addr, err := mmapFD(int(f.Fd()), size, hint)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, nil, err
	}
	return &posixRegionState{file: f, name: name, dir: dir}, addr, nil
}

func (b *posixBackend) regionContact(rs any) (ContactToken, error) {
	st := rs.(*posixRegionState)
	info, err := st.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat posix shm object: %w", err)
	}
	return encodePathToken(st.name, uintptr(info.Size())), nil
}

func (b *posixBackend) attachRegion(token ContactToken, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	name, tokenSize, err := decodePathToken(token)
	if err != nil {
		return nil, nil, err
	}
	if size == 0 {
		size = tokenSize
	}
	dir := posixDir()
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open posix shm object %s: %w", path, err)
	}
	addr, err := mmapFD(int(f.Fd()), size, hint)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &posixRegionState{file: f, name: name, dir: dir}, addr, nil
}

// attachNamedRegion reopens the object createNamedRegion created, rederiving
// the same posixDir() this backend always uses rather than trusting a path
// baked into the caller's identity string.
func (b *posixBackend) attachNamedRegion(name string, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	dir := posixDir()
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open named posix shm object %s: %w", path, err)
	}
	if size == 0 {
		info, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			return nil, nil, fmt.Errorf("stat named posix shm object: %w", statErr)
		}
		size = uintptr(info.Size())
	}
	addr, err := mmapFD(int(f.Fd()), size, hint)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &posixRegionState{file: f, name: name, dir: dir}, addr, nil
}

func (b *posixBackend) detachRegion(rs any, addr unsafe.Pointer, size uintptr) error {
	st := rs.(*posixRegionState)
	err := munmapAddr(addr, size)
	if cerr := st.file.Close(); cerr != nil {
		logCleanupErr("posix detach: close shm object", cerr)
		if err == nil {
			err = cerr
		}
	}
	return err
}

func (b *posixBackend) destroyRegion(rs any, addr unsafe.Pointer, size uintptr) error {
	st := rs.(*posixRegionState)
	err := munmapAddr(addr, size)
	if cerr := st.file.Close(); cerr != nil {
		logCleanupErr("posix destroy: close shm object", cerr)
		if err == nil {
			err = cerr
		}
	}
	path := filepath.Join(st.dir, st.name)
	if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
		logCleanupErr("posix destroy: unlink shm object", rerr)
		if err == nil {
			err = rerr
		}
	}
	return err
}

func (b *posixBackend) finalize() error {
	return nil
}
