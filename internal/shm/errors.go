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

import "errors"

// Error taxonomy. These are sentinels, not an exhaustive set: backend calls
// also surface wrapped OS errors via fmt.Errorf("...: %w", err).
var (
	// ErrInvalidArgument covers zero sizes, nil queue bases, empty names, and
	// a Release on a slot that is not FULL. Oversize payloads have their own
	// sentinel, ErrOversizePayload. Endpoint operations do not check the
	// endpoint's role, so a role mismatch is not reported.
	ErrInvalidArgument = errors.New("dfshm: invalid argument")

	// ErrNotInitialized is returned when an operation targets a Manager or
	// Queue that has not completed initialization.
	ErrNotInitialized = errors.New("dfshm: not initialized")

	// ErrOversizePayload is returned by Enqueue/TryEnqueue when the payload
	// (or the sum of a gather-list's segments) exceeds the queue's maximum
	// payload size.
	ErrOversizePayload = errors.New("dfshm: payload exceeds queue capacity")

	// ErrQueueClosed is returned when an operation is attempted on an
	// Endpoint after its Close. DestroyQueue does not affect open endpoints.
	ErrQueueClosed = errors.New("dfshm: queue destroyed")

	// ErrRegionExists is returned by CreateNamed on the SysV backend, which
	// requires exclusive creation, when an object of that identity already
	// exists.
	ErrRegionExists = errors.New("dfshm: named region already exists")

	// ErrUnknownBackend is returned by NewManager for an unrecognized
	// Method value.
	ErrUnknownBackend = errors.New("dfshm: unknown backend method")

	// ErrShortToken is returned when a contact token is too short for its
	// declared backend format.
	ErrShortToken = errors.New("dfshm: truncated contact token")

	// ErrUnsupportedBackend is returned by every sysvBackend operation but
	// finalize on
	// platforms where this package has no System V shared memory binding
	// (see backend_sysv_stub.go).
	ErrUnsupportedBackend = errors.New("dfshm: sysv backend not supported on this platform")
)
