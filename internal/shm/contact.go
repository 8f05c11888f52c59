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
	"encoding/binary"
	"fmt"
)

// Method identifies one of the three compiled-in shared-memory backends.
// Selection happens once, at NewManager, and never changes for the lifetime
// of a Manager (see the design note on sealed backend selection).
type Method int

const (
	// MethodMmap backs regions with a temporary file mapped with mmap(2).
	MethodMmap Method = iota
	// MethodSysV backs regions with a System V shared memory segment
	// obtained via shmget(2)/shmat(2).
	MethodSysV
	// MethodPosixSHM backs regions with a POSIX named shared memory object
	// (a file under /dev/shm on Linux).
	MethodPosixSHM
)

func (m Method) String() string {
	switch m {
	case MethodMmap:
		return "mmap"
	case MethodSysV:
		return "sysv"
	case MethodPosixSHM:
		return "posix-shm"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// BackendConfig carries backend-private initialization input. It is
// intentionally sparse: each backend derives everything else (unique name
// seeds, counters) from the owning process's pid during init.
type BackendConfig struct {
	// TempDir overrides the directory the mmap and SysV backends use for
	// their OS-namespace artifacts. Empty means os.TempDir(). The
	// POSIX-named backend ignores it and always uses /dev/shm (or
	// os.TempDir() where /dev/shm is absent).
	TempDir string
}

// ContactToken is an opaque byte string produced by one backend and
// consumable only by the same backend. Its format is backend-specific (see
// the contact token format section); callers should treat it as opaque and
// ship it to a peer over whatever out-of-band channel they have.
type ContactToken []byte

// tokenSizeWidth is the fixed width used for the size/key field encoded into
// every contact token, for every backend. The original C implementation
// disagreed with itself about whether this should be sizeof(size_t) or
// sizeof(key_t) bytes for the SysV backend (see the open questions); this
// implementation picks one width, uint64 (8 bytes), and uses it everywhere.
const tokenSizeWidth = 8

// encodePathToken builds the path/name-shaped contact token used by the
// mmap and POSIX-named backends: a NUL-terminated identity string followed
// by the region length as a fixed-width native-endian integer.
func encodePathToken(identity string, size uintptr) ContactToken {
	buf := make([]byte, len(identity)+1+tokenSizeWidth)
	copy(buf, identity)
	buf[len(identity)] = 0
	binary.NativeEndian.PutUint64(buf[len(identity)+1:], uint64(size))
	return ContactToken(buf)
}

// decodePathToken reverses encodePathToken: it scans for the NUL terminator
// and reads the fixed-width size field immediately after it.
func decodePathToken(token ContactToken) (identity string, size uintptr, err error) {
	nul := -1
	for i, b := range token {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return "", 0, fmt.Errorf("%w: missing NUL terminator", ErrShortToken)
	}
	if len(token) < nul+1+tokenSizeWidth {
		return "", 0, fmt.Errorf("%w: want %d bytes after terminator, have %d", ErrShortToken, tokenSizeWidth, len(token)-nul-1)
	}
	identity = string(token[:nul])
	size = uintptr(binary.NativeEndian.Uint64(token[nul+1 : nul+1+tokenSizeWidth]))
	return identity, size, nil
}

// encodeKeyToken builds the SysV contact token: the native-endian key only.
func encodeKeyToken(key int) ContactToken {
	buf := make([]byte, tokenSizeWidth)
	binary.NativeEndian.PutUint64(buf, uint64(uint32(key)))
	return ContactToken(buf)
}

// decodeKeyToken reverses encodeKeyToken.
func decodeKeyToken(token ContactToken) (key int, err error) {
	if len(token) < tokenSizeWidth {
		return 0, fmt.Errorf("%w: want %d bytes, have %d", ErrShortToken, tokenSizeWidth, len(token))
	}
	return int(int32(binary.NativeEndian.Uint64(token))), nil
}
