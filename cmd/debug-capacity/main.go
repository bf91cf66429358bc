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

// debug-capacity opens an inter-process channel and reports how much of
// the requested queue is actually usable: the backing region size under
// /dev/shm, the point at which TrySend starts refusing elements, and a
// quick blocking round-trip to confirm the queue drains cleanly.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"code.hybscloud.com/iox"

	"github.com/kevinjoseph1995/pika"
)

type element struct {
	Sequence uint64
	Payload  [56]byte
}

func main() {
	name := fmt.Sprintf("/pika_debug_capacity_%d", os.Getpid())
	params := pika.ChannelParameters{
		Name:      name,
		QueueSize: 64,
		Type:      pika.InterProcess,
	}

	p, err := pika.CreateProducer[element](params)
	if err != nil {
		log.Fatalf("CreateProducer failed: %v", err)
	}
	defer p.Close()
	c, err := pika.CreateConsumer[element](params)
	if err != nil {
		log.Fatalf("CreateConsumer failed: %v", err)
	}
	defer c.Close()

	fmt.Printf("=== Channel Layout ===\n")
	fmt.Printf("Requested queue size: %d elements\n", params.QueueSize)
	fmt.Printf("Element size: %d bytes\n", 64)
	if info, err := os.Stat("/dev/shm/" + name[1:]); err == nil {
		fmt.Printf("Backing region: %d bytes\n", info.Size())
	} else {
		fmt.Printf("Backing region: stat failed: %v\n", err)
	}

	fmt.Printf("\n=== Fill Test ===\n")
	var filled uint64
	for {
		if err := p.TrySend(element{Sequence: filled}); err != nil {
			if iox.IsWouldBlock(err) {
				fmt.Printf("Channel refused element %d: queue holds %d\n", filled, filled)
				break
			}
			log.Fatalf("TrySend failed at %d: %v", filled, err)
		}
		filled++
	}
	if filled != params.QueueSize {
		fmt.Printf("WARNING: usable capacity %d differs from requested %d\n", filled, params.QueueSize)
	}

	fmt.Printf("\n=== Drain Test ===\n")
	for i := uint64(0); i < filled; i++ {
		var got element
		if err := c.Receive(&got, time.Second); err != nil {
			log.Fatalf("Receive failed at %d: %v", i, err)
		}
		if got.Sequence != i {
			log.Fatalf("element %d drained as %d", i, got.Sequence)
		}
	}
	var got element
	if err := c.TryReceive(&got); !iox.IsWouldBlock(err) {
		log.Fatalf("channel not empty after drain: %v", err)
	}
	fmt.Printf("Drained %d elements in order; channel empty\n", filled)
}
