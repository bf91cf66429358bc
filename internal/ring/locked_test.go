//go:build linux && (amd64 || arm64)

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

package ring

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"
	"unsafe"

	"code.hybscloud.com/iox"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/status"
)

// allocAligned returns a 64-byte aligned heap area of the given size.
func allocAligned(size uint64) unsafe.Pointer {
	raw := make([]byte, size+63)
	p := unsafe.Pointer(unsafe.SliceData(raw))
	if rem := uintptr(p) % 64; rem != 0 {
		p = unsafe.Add(p, 64-rem)
	}
	return p
}

// newLockedRing builds a fresh MPMC ring over heap memory with uint64
// elements.
func newLockedRing(t *testing.T, queueLen uint64) *Locked {
	t.Helper()
	const elemSize, elemAlign = 8, 8
	state := allocAligned(LockedStateSize)
	slots := allocAligned(queueLen * elemSize)
	r, err := InitLocked(state, slots, elemSize, elemAlign, queueLen, false)
	if err != nil {
		t.Fatalf("InitLocked failed: %v", err)
	}
	return r
}

func encodeU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func decodeU64(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

func TestLockedInitValidation(t *testing.T) {
	state := allocAligned(LockedStateSize)
	slots := allocAligned(64)

	tests := []struct {
		name      string
		state     unsafe.Pointer
		slots     unsafe.Pointer
		elemSize  uint64
		elemAlign uint64
		queueLen  uint64
	}{
		{"NilState", nil, slots, 8, 8, 4},
		{"NilSlots", state, nil, 8, 8, 4},
		{"ZeroLength", state, slots, 8, 8, 0},
		{"ZeroElemSize", state, slots, 0, 8, 4},
		{"NonPowerOfTwoAlign", state, slots, 8, 3, 4},
		{"MisalignedSlots", state, unsafe.Add(slots, 1), 8, 8, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InitLocked(tt.state, tt.slots, tt.elemSize, tt.elemAlign, tt.queueLen, false)
			if status.Code(err) != codes.RingBuffer {
				t.Fatalf("InitLocked: got %v, want RingBuffer", err)
			}
		})
	}
}

func TestLockedPushPopOrder(t *testing.T) {
	r := newLockedRing(t, 4)

	for i := uint64(0); i < 4; i++ {
		if err := r.PushFront(encodeU64(i), -1); err != nil {
			t.Fatalf("PushFront(%d) failed: %v", i, err)
		}
	}
	for i := uint64(0); i < 4; i++ {
		buf := make([]byte, 8)
		if err := r.PopBack(buf, -1); err != nil {
			t.Fatalf("PopBack failed: %v", err)
		}
		if got := decodeU64(buf); got != i {
			t.Fatalf("PopBack returned %d, want %d", got, i)
		}
	}
}

func TestLockedWrapAround(t *testing.T) {
	r := newLockedRing(t, 3)
	buf := make([]byte, 8)

	for round := uint64(0); round < 10; round++ {
		if err := r.PushFront(encodeU64(round), -1); err != nil {
			t.Fatalf("PushFront failed on round %d: %v", round, err)
		}
		if err := r.PopBack(buf, -1); err != nil {
			t.Fatalf("PopBack failed on round %d: %v", round, err)
		}
		if got := decodeU64(buf); got != round {
			t.Fatalf("round %d read back %d", round, got)
		}
	}
}

func TestLockedPushTimeoutWhenFull(t *testing.T) {
	r := newLockedRing(t, 2)

	for i := uint64(0); i < 2; i++ {
		if err := r.PushFront(encodeU64(i), -1); err != nil {
			t.Fatalf("PushFront failed: %v", err)
		}
	}

	const timeout = 50 * time.Millisecond
	start := time.Now()
	err := r.PushFront(encodeU64(99), timeout)
	if status.Code(err) != codes.Timeout {
		t.Fatalf("PushFront on full ring: got %v, want Timeout", err)
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Fatalf("PushFront returned after %v, want at least %v", elapsed, timeout)
	}

	// The timed-out push must not have disturbed the contents.
	buf := make([]byte, 8)
	for i := uint64(0); i < 2; i++ {
		if err := r.PopBack(buf, -1); err != nil {
			t.Fatalf("PopBack failed: %v", err)
		}
		if got := decodeU64(buf); got != i {
			t.Fatalf("after timeout PopBack returned %d, want %d", got, i)
		}
	}
}

func TestLockedPopTimeoutWhenEmpty(t *testing.T) {
	r := newLockedRing(t, 2)
	buf := make([]byte, 8)

	if err := r.PopBack(buf, 50*time.Millisecond); status.Code(err) != codes.Timeout {
		t.Fatalf("PopBack on empty ring: got %v, want Timeout", err)
	}

	// Ring still behaves after the timeout.
	if err := r.PushFront(encodeU64(7), -1); err != nil {
		t.Fatalf("PushFront after timeout failed: %v", err)
	}
	if err := r.PopBack(buf, -1); err != nil {
		t.Fatalf("PopBack after timeout failed: %v", err)
	}
	if got := decodeU64(buf); got != 7 {
		t.Fatalf("read back %d, want 7", got)
	}
}

func TestLockedTryPushTryPop(t *testing.T) {
	r := newLockedRing(t, 2)
	buf := make([]byte, 8)

	if err := r.TryPop(buf); !iox.IsWouldBlock(err) {
		t.Fatalf("TryPop on empty ring: got %v, want ErrWouldBlock", err)
	}
	for i := uint64(0); i < 2; i++ {
		if err := r.TryPush(encodeU64(i)); err != nil {
			t.Fatalf("TryPush(%d) failed: %v", i, err)
		}
	}
	if err := r.TryPush(encodeU64(9)); !iox.IsWouldBlock(err) {
		t.Fatalf("TryPush on full ring: got %v, want ErrWouldBlock", err)
	}
	for i := uint64(0); i < 2; i++ {
		if err := r.TryPop(buf); err != nil {
			t.Fatalf("TryPop failed: %v", err)
		}
		if got := decodeU64(buf); got != i {
			t.Fatalf("TryPop returned %d, want %d", got, i)
		}
	}
}

func TestLockedBlockedPopWakesOnPush(t *testing.T) {
	r := newLockedRing(t, 2)

	done := make(chan uint64, 1)
	go func() {
		buf := make([]byte, 8)
		if err := r.PopBack(buf, -1); err != nil {
			t.Errorf("PopBack failed: %v", err)
			done <- 0
			return
		}
		done <- decodeU64(buf)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := r.PushFront(encodeU64(42), -1); err != nil {
		t.Fatalf("PushFront failed: %v", err)
	}

	select {
	case got := <-done:
		if got != 42 {
			t.Fatalf("blocked consumer read %d, want 42", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked consumer never woke")
	}
}

func TestLockedZeroCopyRoundTrip(t *testing.T) {
	r := newLockedRing(t, 2)

	slot, err := r.AcquireWriteSlot(-1)
	if err != nil {
		t.Fatalf("AcquireWriteSlot failed: %v", err)
	}
	*(*uint64)(slot) = 1234
	if err := r.CommitWriteSlot(slot); err != nil {
		t.Fatalf("CommitWriteSlot failed: %v", err)
	}

	rslot, err := r.AcquireReadSlot(-1)
	if err != nil {
		t.Fatalf("AcquireReadSlot failed: %v", err)
	}
	if got := *(*uint64)(rslot); got != 1234 {
		t.Fatalf("read slot holds %d, want 1234", got)
	}
	if err := r.ReleaseReadSlot(rslot); err != nil {
		t.Fatalf("ReleaseReadSlot failed: %v", err)
	}
}

func TestLockedZeroCopyForeignPointer(t *testing.T) {
	r := newLockedRing(t, 2)

	slot, err := r.AcquireWriteSlot(-1)
	if err != nil {
		t.Fatalf("AcquireWriteSlot failed: %v", err)
	}
	var local uint64
	if err := r.CommitWriteSlot(unsafe.Pointer(&local)); status.Code(err) != codes.RingBuffer {
		t.Fatalf("CommitWriteSlot with foreign pointer: got %v, want RingBuffer", err)
	}

	// The real slot is still committable.
	*(*uint64)(slot) = 5
	if err := r.CommitWriteSlot(slot); err != nil {
		t.Fatalf("CommitWriteSlot after rejection failed: %v", err)
	}

	buf := make([]byte, 8)
	if err := r.PopBack(buf, -1); err != nil {
		t.Fatalf("PopBack failed: %v", err)
	}
	if got := decodeU64(buf); got != 5 {
		t.Fatalf("read back %d, want 5", got)
	}
}

func TestLockedZeroCopyWithoutAcquire(t *testing.T) {
	r := newLockedRing(t, 2)
	var local uint64

	if err := r.CommitWriteSlot(unsafe.Pointer(&local)); status.Code(err) != codes.RingBuffer {
		t.Fatalf("CommitWriteSlot without acquire: got %v, want RingBuffer", err)
	}
	if err := r.ReleaseReadSlot(unsafe.Pointer(&local)); status.Code(err) != codes.RingBuffer {
		t.Fatalf("ReleaseReadSlot without acquire: got %v, want RingBuffer", err)
	}
}

func TestLockedMultiProducerMultiConsumer(t *testing.T) {
	const queueLen = 8
	const producers = 4
	const consumers = 4
	const perProducer = 500

	state := allocAligned(LockedStateSize)
	slots := allocAligned(queueLen * 8)
	if _, err := InitLocked(state, slots, 8, 8, queueLen, false); err != nil {
		t.Fatalf("InitLocked failed: %v", err)
	}

	// Every endpoint attaches its own handle, as channel endpoints do.
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			r, err := AttachLocked(state, slots, 8, 8, queueLen)
			if err != nil {
				t.Errorf("AttachLocked failed: %v", err)
				return
			}
			for i := 0; i < perProducer; i++ {
				v := uint64(p*perProducer + i)
				if err := r.PushFront(encodeU64(v), -1); err != nil {
					t.Errorf("PushFront failed: %v", err)
					return
				}
			}
		}(p)
	}

	var mu sync.Mutex
	seen := make(map[uint64]int)
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := AttachLocked(state, slots, 8, 8, queueLen)
			if err != nil {
				t.Errorf("AttachLocked failed: %v", err)
				return
			}
			buf := make([]byte, 8)
			for i := 0; i < producers * perProducer / consumers; i++ {
				if err := r.PopBack(buf, -1); err != nil {
					t.Errorf("PopBack failed: %v", err)
					return
				}
				mu.Lock()
				seen[decodeU64(buf)]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != producers*perProducer {
		t.Fatalf("consumed %d distinct values, want %d", len(seen), producers*perProducer)
	}
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("value %d consumed %d times", v, n)
		}
	}
}
