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

// Package shm implements a shared-memory SPSC ring transport for
// inter-process and inter-thread communication on a single multicore
// machine.
//
// Two cooperating processes establish a common region of memory through one
// of three OS-provided mechanisms (file-backed mmap, System V shared memory,
// or POSIX named shared memory), lay out one or more fixed-slot circular
// ring buffers inside that region, and exchange messages across the ring
// through cache-coherent loads and stores with no system calls on the hot
// path.
//
// A Manager creates or attaches Regions through a chosen Backend. A Queue is
// placed at a caller-chosen address inside a Region. Each Queue has exactly
// one sender Endpoint and one receiver Endpoint, each process-local.
package shm
