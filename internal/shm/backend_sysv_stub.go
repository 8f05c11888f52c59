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

//go:build !(linux && (amd64 || arm64))

package shm

import (
	"unsafe"
)

// sysvBackend is a stub on platforms without a System V shm binding here.
// The original's SysV method is Linux-specific raw-syscall territory (see
// backend_sysv.go); this mirrors the teacher's shm_futex_stub.go split
// between a real implementation and an "unsupported platform" fallback.
type sysvBackend struct{}

func (b *sysvBackend) init(cfg BackendConfig) error { return ErrUnsupportedBackend }

func (b *sysvBackend) createRegion(size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	return nil, nil, ErrUnsupportedBackend
}

func (b *sysvBackend) createNamedRegion(name string, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	return nil, nil, ErrUnsupportedBackend
}

func (b *sysvBackend) regionContact(rs any) (ContactToken, error) {
	return nil, ErrUnsupportedBackend
}

func (b *sysvBackend) attachRegion(token ContactToken, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	return nil, nil, ErrUnsupportedBackend
}

func (b *sysvBackend) attachNamedRegion(name string, size uintptr, hint unsafe.Pointer) (any, unsafe.Pointer, error) {
	return nil, nil, ErrUnsupportedBackend
}

func (b *sysvBackend) detachRegion(rs any, addr unsafe.Pointer, size uintptr) error {
	return ErrUnsupportedBackend
}

func (b *sysvBackend) destroyRegion(rs any, addr unsafe.Pointer, size uintptr) error {
	return ErrUnsupportedBackend
}

func (b *sysvBackend) finalize() error { return nil }
