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

// Package channel glues storage, sync primitives and rings into a named
// rendezvous point. The first endpoint to open a name lays out the shared
// region and constructs the ring in place; later endpoints validate their
// parameters against the stored configuration and attach. The last
// endpoint to leave tears the name down.
package channel

import (
	"log/slog"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/internal/ipcsync"
	"github.com/kevinjoseph1995/pika/internal/ring"
	"github.com/kevinjoseph1995/pika/internal/storage"
	"github.com/kevinjoseph1995/pika/status"
)

// header sits at offset 0 of the shared region. registered flips to 1
// exactly once, after the constructor finished writing the configuration
// and ring state; attachers read it with acquire semantics so everything
// written before the flip is visible to them.
type header struct {
	registered    uint32
	spscMode      uint32
	producerCount atomix.Int64
	consumerCount atomix.Int64
	queueLen      uint64
	elemSize      uint64
	elemAlign     uint64
}

const headerSize = uint64(unsafe.Sizeof(header{}))

// ringStateArea reserves room for either ring variant so the slot offset
// does not depend on the mode.
const ringStateArea = max(ring.LockedStateSize, ring.SPSCStateSize)

func roundUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}

// stateOffset is where the ring state starts, 8-aligned after the header.
const stateOffset = (headerSize + 7) &^ 7

// layout returns the slot offset and total region size for a
// configuration. The lock-free ring stores one extra slot.
func layout(queueLen, elemSize, elemAlign uint64, spsc bool) (slotsOffset, total uint64) {
	slotsOffset = roundUp(stateOffset+ringStateArea, elemAlign)
	slotCount := queueLen
	if spsc {
		slotCount++
	}
	return slotsOffset, slotsOffset + slotCount*elemSize
}

// Side says which end of the channel an endpoint is.
type Side int

const (
	SideProducer Side = iota
	SideConsumer
)

// Config carries everything needed to open or attach a channel.
type Config struct {
	Name         string
	QueueLen     uint64
	ElemSize     uint64
	ElemAlign    uint64
	InterProcess bool
	SPSC         bool
}

// A Channel is one endpoint's connection to a named shared ring.
type Channel struct {
	name   string
	store  storage.Region
	sem    *ipcsync.Semaphore
	hdr    *header
	ring   ring.Ring
	side   Side
	closed bool
}

// Open creates or attaches the channel endpoint described by cfg. The
// whole construct-or-validate sequence runs under a named semaphore so
// concurrent openers of the same name serialize.
func Open(cfg Config, side Side) (*Channel, error) {
	if cfg.QueueLen < 1 {
		return nil, status.Newf(codes.Channel, "channel %q: queue size must be at least 1", cfg.Name)
	}
	if cfg.ElemSize == 0 {
		return nil, status.Newf(codes.Channel, "channel %q: element size must be non-zero", cfg.Name)
	}
	if cfg.ElemAlign == 0 || cfg.ElemAlign&(cfg.ElemAlign-1) != 0 {
		return nil, status.Newf(codes.Channel, "channel %q: element alignment %d is not a power of two", cfg.Name, cfg.ElemAlign)
	}

	semName := cfg.Name + "_inter_thread"
	if cfg.InterProcess {
		semName = cfg.Name + "_inter_process"
	}
	sem, err := ipcsync.OpenSemaphore(semName, 1)
	if err != nil {
		return nil, err
	}
	if err := sem.Wait(); err != nil {
		sem.Close()
		return nil, err
	}

	ch, err := openLocked(cfg, side, sem)
	if postErr := sem.Post(); postErr != nil {
		slog.Error("channel open: semaphore post failed", "channel", cfg.Name, "error", postErr)
	}
	if err != nil {
		sem.Close()
		return nil, err
	}
	return ch, nil
}

// openLocked runs with the channel semaphore held.
func openLocked(cfg Config, side Side, sem *ipcsync.Semaphore) (*Channel, error) {
	slotsOffset, total := layout(cfg.QueueLen, cfg.ElemSize, cfg.ElemAlign, cfg.SPSC)

	var store storage.Region
	var err error
	if cfg.InterProcess {
		store, err = storage.OpenInterProcess(cfg.Name, total)
	} else {
		store, err = storage.OpenInterThread(cfg.Name, total)
	}
	if err != nil {
		return nil, err
	}

	base := store.Base()
	if uintptr(base)%uintptr(cfg.ElemAlign) != 0 || uintptr(base)%8 != 0 {
		store.Close()
		return nil, status.Newf(codes.RingBuffer,
			"channel %q: backing region %p does not satisfy alignment %d", cfg.Name, base, cfg.ElemAlign)
	}

	hdr := (*header)(base)
	state := unsafe.Add(base, uintptr(stateOffset))
	slots := unsafe.Add(base, uintptr(slotsOffset))
	var spscMode uint32
	if cfg.SPSC {
		spscMode = 1
	}

	var rg ring.Ring
	if atomic.LoadUint32(&hdr.registered) == 0 {
		// First endpoint: lay the channel out in place.
		hdr.queueLen = cfg.QueueLen
		hdr.elemSize = cfg.ElemSize
		hdr.elemAlign = cfg.ElemAlign
		hdr.spscMode = spscMode
		if cfg.SPSC {
			rg, err = ring.InitSPSC(state, slots, cfg.ElemSize, cfg.ElemAlign, cfg.QueueLen)
		} else {
			rg, err = ring.InitLocked(state, slots, cfg.ElemSize, cfg.ElemAlign, cfg.QueueLen, cfg.InterProcess)
		}
		if err != nil {
			store.Close()
			return nil, err
		}
		atomic.StoreUint32(&hdr.registered, 1)
	} else {
		// Later endpoint: every stored parameter must match before anything
		// is touched.
		if hdr.queueLen != cfg.QueueLen || hdr.elemSize != cfg.ElemSize ||
			hdr.elemAlign != cfg.ElemAlign || hdr.spscMode != spscMode {
			got := Config{
				QueueLen:  hdr.queueLen,
				ElemSize:  hdr.elemSize,
				ElemAlign: hdr.elemAlign,
				SPSC:      hdr.spscMode == 1,
			}
			store.Close()
			return nil, status.Newf(codes.RingBuffer,
				"channel %q already exists with queue_size=%d elem_size=%d elem_align=%d spsc=%t; "+
					"requested queue_size=%d elem_size=%d elem_align=%d spsc=%t",
				cfg.Name, got.QueueLen, got.ElemSize, got.ElemAlign, got.SPSC,
				cfg.QueueLen, cfg.ElemSize, cfg.ElemAlign, cfg.SPSC)
		}
		if cfg.SPSC {
			rg, err = ring.AttachSPSC(state, slots, cfg.ElemSize, cfg.ElemAlign, cfg.QueueLen)
		} else {
			rg, err = ring.AttachLocked(state, slots, cfg.ElemSize, cfg.ElemAlign, cfg.QueueLen)
		}
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	if side == SideProducer {
		hdr.producerCount.Add(1)
	} else {
		hdr.consumerCount.Add(1)
	}

	return &Channel{
		name:  cfg.Name,
		store: store,
		sem:   sem,
		hdr:   hdr,
		ring:  rg,
		side:  side,
	}, nil
}

// Ring returns the endpoint's ring handle.
func (c *Channel) Ring() ring.Ring {
	return c.ring
}

// QueueLen returns the stored queue capacity of the channel.
func (c *Channel) QueueLen() uint64 {
	return c.hdr.queueLen
}

// ElemSize returns the stored element size of the channel.
func (c *Channel) ElemSize() uint64 {
	return c.hdr.elemSize
}

// oppositeCount reads the endpoint count of the other side.
func (c *Channel) oppositeCount() int64 {
	if c.side == SideProducer {
		return c.hdr.consumerCount.Load()
	}
	return c.hdr.producerCount.Load()
}

// IsConnected reports whether at least one endpoint of the opposite kind
// is currently attached.
func (c *Channel) IsConnected() bool {
	return c.oppositeCount() >= 1
}

// Connect blocks until the opposite side attaches. There is no deadline;
// callers that want one should poll IsConnected themselves.
func (c *Channel) Connect() error {
	backoff := iox.Backoff{}
	for !c.IsConnected() {
		backoff.Wait()
	}
	return nil
}

// Close detaches this endpoint. The endpoint that observes both counts at
// zero removes the semaphore name and, for an inter-process channel, the
// shared object, so the next open of that name starts fresh. An
// inter-thread channel's region stays registered for the life of the
// process; a later open of the name attaches to it, with its stored
// configuration and contents. Teardown failures are logged, never
// returned; by then there is nobody meaningful to report them to.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	semHeld := true
	if err := c.sem.Wait(); err != nil {
		slog.Error("channel close: semaphore wait failed", "channel", c.name, "error", err)
		semHeld = false
	}

	if c.side == SideProducer {
		c.hdr.producerCount.Add(-1)
	} else {
		c.hdr.consumerCount.Add(-1)
	}
	if c.hdr.producerCount.Load() == 0 && c.hdr.consumerCount.Load() == 0 {
		if err := c.store.Unlink(); err != nil {
			slog.Error("channel close: unlink failed", "channel", c.name, "error", err)
		}
		if err := c.sem.Unlink(); err != nil {
			slog.Error("channel close: semaphore unlink failed", "channel", c.name, "error", err)
		}
	}

	if semHeld {
		if err := c.sem.Post(); err != nil {
			slog.Error("channel close: semaphore post failed", "channel", c.name, "error", err)
		}
	}
	if err := c.sem.Close(); err != nil {
		slog.Error("channel close: semaphore close failed", "channel", c.name, "error", err)
	}
	if err := c.store.Close(); err != nil {
		slog.Error("channel close: store close failed", "channel", c.name, "error", err)
	}
	return nil
}
