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

// Command shmregion creates or attaches a shared-memory region and prints
// its contact token or contents, for manual inspection and scripting.
// Grounded on _examples/original_source/tests/test_shm_region.c's
// sender/receiver pair, which creates a region, derives its contact info,
// and has a peer attach and read it back; this CLI exposes the same two
// steps as subcommands instead of two MPI ranks.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/raffino/dfshm/internal/shm"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "create":
		if err := runCreate(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "shmregion create:", err)
			os.Exit(1)
		}
	case "attach":
		if err := runAttach(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "shmregion attach:", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  shmregion create -method mmap|sysv|posix -size N
      creates a region, writes the creating pid into its first bytes,
      prints its contact token (base64) and size, and blocks until
      interrupted so a peer has time to attach.
  shmregion attach -method mmap|sysv|posix -token TOKEN -size N
      attaches an existing region by contact token and dumps the pid
      found at its first bytes.`)
}

func parseMethod(s string) (shm.Method, error) {
	switch s {
	case "mmap":
		return shm.MethodMmap, nil
	case "sysv":
		return shm.MethodSysV, nil
	case "posix":
		return shm.MethodPosixSHM, nil
	default:
		return 0, fmt.Errorf("unknown -method %q (want mmap, sysv, or posix)", s)
	}
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	methodFlag := fs.String("method", "mmap", "shm backend: mmap, sysv, or posix")
	size := fs.Uint64("size", 4096, "region size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	method, err := parseMethod(*methodFlag)
	if err != nil {
		return err
	}

	mgr, err := shm.NewManager(method, shm.BackendConfig{})
	if err != nil {
		return fmt.Errorf("NewManager: %w", err)
	}
	defer mgr.Close()

	region, err := mgr.Create(uintptr(*size), nil)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	pid := int32(os.Getpid())
	buf := region.Bytes()
	buf[0] = byte(pid)
	buf[1] = byte(pid >> 8)
	buf[2] = byte(pid >> 16)
	buf[3] = byte(pid >> 24)

	token, err := mgr.Contact(region)
	if err != nil {
		return fmt.Errorf("Contact: %w", err)
	}

	fmt.Printf("method=%s size=%d pid=%d token=%s\n", method, region.Size(), os.Getpid(),
		base64.StdEncoding.EncodeToString(token))
	fmt.Fprintln(os.Stderr, "press Ctrl-C to destroy the region and exit")

	waitForInterrupt()

	return mgr.Destroy(region)
}

func runAttach(args []string) error {
	fs := flag.NewFlagSet("attach", flag.ContinueOnError)
	methodFlag := fs.String("method", "mmap", "shm backend: mmap, sysv, or posix")
	tokenB64 := fs.String("token", "", "base64 contact token from shmregion create")
	size := fs.Uint64("size", 4096, "region size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	method, err := parseMethod(*methodFlag)
	if err != nil {
		return err
	}
	if *tokenB64 == "" {
		return fmt.Errorf("-token is required")
	}
	token, err := base64.StdEncoding.DecodeString(*tokenB64)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}

	mgr, err := shm.NewManager(method, shm.BackendConfig{})
	if err != nil {
		return fmt.Errorf("NewManager: %w", err)
	}
	defer mgr.Close()

	region, err := mgr.Attach(-1, shm.ContactToken(token), uintptr(*size), nil)
	if err != nil {
		return fmt.Errorf("Attach: %w", err)
	}
	defer mgr.Detach(region)

	buf := region.Bytes()
	creatorPID := int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24
	fmt.Printf("attached region: size=%d creator_pid_in_region=%d\n", region.Size(), creatorPID)
	return nil
}
