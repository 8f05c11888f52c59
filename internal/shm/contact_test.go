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

import "testing"

func TestEncodeDecodePathToken(t *testing.T) {
	token := encodePathToken("/tmp/df_shm_mmap.123.abcdef", 4096)

	identity, size, err := decodePathToken(token)
	if err != nil {
		t.Fatalf("decodePathToken: %v", err)
	}
	if identity != "/tmp/df_shm_mmap.123.abcdef" {
		t.Fatalf("identity = %q, want the original path", identity)
	}
	if size != 4096 {
		t.Fatalf("size = %d, want 4096", size)
	}
}

func TestDecodePathTokenShort(t *testing.T) {
	cases := []ContactToken{
		nil,
		[]byte("no-terminator"),
		append([]byte("ok\x00"), 0, 0, 0), // terminator present, size field truncated
	}
	for i, token := range cases {
		if _, _, err := decodePathToken(token); err == nil {
			t.Fatalf("case %d: decodePathToken(%q) succeeded, want ErrShortToken", i, token)
		}
	}
}

func TestEncodeDecodeKeyToken(t *testing.T) {
	for _, key := range []int{0, 1, -1, 0x7fffffff, -123456} {
		token := encodeKeyToken(key)
		if len(token) != tokenSizeWidth {
			t.Fatalf("encodeKeyToken(%d) length = %d, want %d", key, len(token), tokenSizeWidth)
		}
		got, err := decodeKeyToken(token)
		if err != nil {
			t.Fatalf("decodeKeyToken: %v", err)
		}
		if got != int(int32(key)) {
			t.Fatalf("round trip key = %d, want %d", got, int(int32(key)))
		}
	}
}

func TestDecodeKeyTokenShort(t *testing.T) {
	if _, err := decodeKeyToken(ContactToken{1, 2, 3}); err == nil {
		t.Fatal("decodeKeyToken on a 3-byte token succeeded, want ErrShortToken")
	}
}
