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

// Command shmbench measures round-trip latency of a pair of shared-memory
// queues between two processes, doubling the message size on each pass.
// Grounded on _examples/original_source/trunk/tests/perf_queue_latency.c:
// one process enqueues on the A->B queue and dequeues the reply on B->A; the
// peer does the mirror image. The original coordinates its two ranks with
// MPI; this rewrite spawns its own peer process instead, since nothing else
// in this module needs an MPI dependency, and hands the peer its contact
// token base64-encoded on the command line, treating it as the opaque
// out-of-band bootstrap transport the core package assumes exists.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"
	"unsafe"

	"github.com/raffino/dfshm/internal/shm"
)

const (
	numSlots        = 5
	maxPayloadSize  = 2048
	numMessages     = 1000
	numMessagesSkip = 100
)

func main() {
	method := flag.String("method", "mmap", "shm backend: mmap, sysv, or posix")
	peerToken := flag.String("peer-token", "", "internal: base64 contact token for the peer role")
	peerSize := flag.Uint64("peer-size", 0, "internal: region size for the peer role")
	flag.Parse()

	m, err := parseMethod(*method)
	if err != nil {
		log.Fatal(err)
	}

	if *peerToken != "" {
		if err := runPeer(m, *peerToken, uintptr(*peerSize)); err != nil {
			log.Fatalf("peer: %v", err)
		}
		return
	}
	if err := runSender(m); err != nil {
		log.Fatalf("sender: %v", err)
	}
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

type rings struct {
	abAddr, baAddr unsafe.Pointer
	queueSize      uintptr
}

// layout places the A->B queue at base and the B->A queue immediately
// after it, each cache-line-aligned, mirroring the original's "send queue
// (cacheline aligned), recv queue (cacheline aligned)" region plan.
func layout(base unsafe.Pointer) (rings, error) {
	qSize, err := shm.CalculateQueueSize(numSlots, maxPayloadSize)
	if err != nil {
		return rings{}, err
	}
	qSize = (qSize + 63) &^ 63
	return rings{
		abAddr:    base,
		baAddr:    unsafe.Pointer(uintptr(base) + qSize),
		queueSize: qSize,
	}, nil
}

func methodFlagValue(m shm.Method) string {
	switch m {
	case shm.MethodSysV:
		return "sysv"
	case shm.MethodPosixSHM:
		return "posix"
	default:
		return "mmap"
	}
}

func runSender(method shm.Method) error {
	mgr, err := shm.NewManager(method, shm.BackendConfig{})
	if err != nil {
		return fmt.Errorf("NewManager: %w", err)
	}
	defer mgr.Close()

	l, err := layout(nil)
	if err != nil {
		return err
	}
	region, err := mgr.Create(2*l.queueSize, nil)
	if err != nil {
		return fmt.Errorf("create region: %w", err)
	}
	l, _ = layout(region.Addr())

	abQueue, err := shm.CreateQueue(l.abAddr, numSlots, maxPayloadSize)
	if err != nil {
		return fmt.Errorf("create queue A->B: %w", err)
	}
	baQueue, err := shm.CreateQueue(l.baAddr, numSlots, maxPayloadSize)
	if err != nil {
		return fmt.Errorf("create queue B->A: %w", err)
	}

	sender, err := shm.OpenSender(abQueue)
	if err != nil {
		return err
	}
	receiver, err := shm.OpenReceiver(baQueue)
	if err != nil {
		return err
	}

	token, err := mgr.Contact(region)
	if err != nil {
		return fmt.Errorf("contact: %w", err)
	}

	cmd := exec.Command(os.Args[0],
		"-method", methodFlagValue(method),
		"-peer-token", base64.StdEncoding.EncodeToString(token),
		"-peer-size", fmt.Sprintf("%d", region.Size()),
	)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting peer process: %w", err)
	}
	defer cmd.Process.Kill()

	fmt.Printf("DataFabrics SHM Queue Latency Benchmark (%s)\n", method)
	fmt.Printf("%-10s%20s\n", "# Size", "Latency (us)")

	for msgSize := 1; msgSize < maxPayloadSize; msgSize *= 2 {
		payload := make([]byte, msgSize)
		var total time.Duration
		for i := 0; i < numMessages+numMessagesSkip; i++ {
			start := time.Now()
			if err := sender.Enqueue(payload); err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			if _, err := receiver.Dequeue(); err != nil {
				return fmt.Errorf("dequeue: %w", err)
			}
			elapsed := time.Since(start)
			if err := receiver.Release(); err != nil {
				return fmt.Errorf("release: %w", err)
			}
			if i >= numMessagesSkip {
				total += elapsed
			}
		}
		avg := total / time.Duration(numMessages)
		fmt.Printf("%-10d%20.2f\n", msgSize, float64(avg.Microseconds()))
	}

	if err := mgr.Destroy(region); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	return cmd.Wait()
}

func runPeer(method shm.Method, tokenB64 string, size uintptr) error {
	token, err := base64.StdEncoding.DecodeString(tokenB64)
	if err != nil {
		return fmt.Errorf("decode peer token: %w", err)
	}

	mgr, err := shm.NewManager(method, shm.BackendConfig{})
	if err != nil {
		return err
	}
	defer mgr.Close()

	region, err := mgr.Attach(-1, shm.ContactToken(token), size, nil)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}

	l, err := layout(region.Addr())
	if err != nil {
		return err
	}
	abQueue, err := shm.OpenQueue(l.abAddr)
	if err != nil {
		return fmt.Errorf("open queue A->B: %w", err)
	}
	baQueue, err := shm.OpenQueue(l.baAddr)
	if err != nil {
		return fmt.Errorf("open queue B->A: %w", err)
	}

	receiver, err := shm.OpenReceiver(abQueue)
	if err != nil {
		return err
	}
	sender, err := shm.OpenSender(baQueue)
	if err != nil {
		return err
	}

	for {
		payload, err := receiver.Dequeue()
		if err != nil {
			return fmt.Errorf("dequeue: %w", err)
		}
		reply := append([]byte(nil), payload...)
		if err := receiver.Release(); err != nil {
			return fmt.Errorf("release: %w", err)
		}
		if err := sender.Enqueue(reply); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
	}
}
