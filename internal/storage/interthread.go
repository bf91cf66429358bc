/*
 *
 * Copyright 2025 The Pika Authors
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

package storage

import (
	"sync"
	"unsafe"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/status"
)

// heapAlign is the base alignment of registry buffers. 64 covers the
// 8-byte alignment the channel header and ring state need and starts each
// buffer on a cache-line boundary.
const heapAlign = 64

var (
	registryMu sync.Mutex
	registry   = make(map[string]*heapBuffer)
)

type heapBuffer struct {
	buf []byte // aligned window into a larger allocation
}

// InterThread is a Region backed by a named heap buffer shared by all
// threads of this process. Buffers live for the life of the process;
// reopening a name attaches to the same memory.
type InterThread struct {
	name string
	hb   *heapBuffer
}

// OpenInterThread opens the in-process buffer called name, allocating it
// with the requested size on first use. Reopening with a different size is
// an error.
func OpenInterThread(name string, size uint64) (*InterThread, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, status.Newf(codes.SharedBuffer, "shared buffer %q: size must be non-zero", name)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if hb, ok := registry[name]; ok {
		if uint64(len(hb.buf)) != size {
			return nil, status.Newf(codes.SharedBuffer,
				"shared buffer %q exists with size %d, requested %d", name, len(hb.buf), size)
		}
		return &InterThread{name: name, hb: hb}, nil
	}

	raw := make([]byte, size+heapAlign-1)
	off := uintptr(0)
	if rem := uintptr(unsafe.Pointer(&raw[0])) % heapAlign; rem != 0 {
		off = heapAlign - rem
	}
	hb := &heapBuffer{buf: raw[off : off+uintptr(size) : off+uintptr(size)]}
	registry[name] = hb
	return &InterThread{name: name, hb: hb}, nil
}

// Base returns the start of the buffer, aligned to heapAlign.
func (b *InterThread) Base() unsafe.Pointer {
	return unsafe.Pointer(&b.hb.buf[0])
}

// Size returns the buffer length in bytes.
func (b *InterThread) Size() uint64 {
	return uint64(len(b.hb.buf))
}

// Close is a no-op; registry buffers have process lifetime.
func (b *InterThread) Close() error {
	return nil
}

// Unlink is a no-op; the name stays registered so late joiners within the
// process can still attach.
func (b *InterThread) Unlink() error {
	return nil
}
