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
	"log"
	"os"
)

// Logger receives the package's diagnostic output: address-placement
// warnings, cleanup anomalies, and invalid-state conditions (see the error
// handling design). It defaults to stderr and can be overridden by a caller
// that wants these routed into its own logging pipeline.
var Logger = log.New(os.Stderr, "dfshm: ", log.LstdFlags)

func warnf(format string, args ...any) {
	Logger.Printf("warning: "+format, args...)
}

func logCleanupErr(op string, err error) {
	if err != nil {
		Logger.Printf("cleanup anomaly during %s: %v", op, err)
	}
}
