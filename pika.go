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

// Package pika provides typed bounded channels over shared memory. A
// channel is named, carries fixed-size elements of one Go type, and moves
// them between endpoints that may live in different processes (backed by a
// /dev/shm object) or in one process (backed by a shared heap buffer).
//
// Endpoints are created independently with CreateProducer and
// CreateConsumer; the first one to open a name sizes and lays out the
// channel, later ones attach and must present identical parameters. Every
// blocking operation takes a timeout; pass Infinite to wait without a
// deadline.
//
//	params := pika.ChannelParameters{Name: "/telemetry", QueueSize: 64, Type: pika.InterProcess}
//	producer, err := pika.CreateProducer[Sample](params)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer producer.Close()
//	if err := producer.Send(sample, time.Second); err != nil {
//		log.Fatal(err)
//	}
package pika

import (
	"reflect"
	"time"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/internal/channel"
	"github.com/kevinjoseph1995/pika/status"
)

// Infinite disables the deadline of a blocking operation. An operation
// called with Infinite never returns a Timeout error.
const Infinite time.Duration = -1

// ChannelType selects the sharing boundary of a channel.
type ChannelType int

const (
	// InterProcess channels are backed by a named shared memory object and
	// usable from any process that opens the same name.
	InterProcess ChannelType = iota
	// InterThread channels are backed by process memory and shared between
	// the goroutines and threads of one process.
	InterThread
)

// ChannelParameters describes the channel an endpoint wants. Every
// endpoint of one channel must pass the same parameters; the element type
// and its size are part of that contract.
type ChannelParameters struct {
	// Name identifies the channel. It must begin with '/' and contain no
	// further slashes, like a shm_open name.
	Name string
	// QueueSize is the number of in-flight elements the channel can hold.
	// Must be at least 1.
	QueueSize uint64
	// Type selects inter-process or inter-thread backing.
	Type ChannelType
	// SPSC switches the channel to the lock-free single-producer
	// single-consumer ring. Zero-copy slot operations are unavailable in
	// this mode.
	SPSC bool
}

// validateElementType rejects types that cannot be copied bit-for-bit into
// shared memory. Anything holding a Go pointer would dangle in another
// process, and anything unsized has no slot layout.
func validateElementType(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return validateElementType(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := validateElementType(t.Field(i).Type); err != nil {
				return err
			}
		}
		return nil
	default:
		return status.Newf(codes.Channel,
			"element type %s contains %s, which cannot cross an address space", t, t.Kind())
	}
}

// openChannel validates the element type and opens the underlying channel
// endpoint.
func openChannel[T any](params ChannelParameters, side channel.Side) (*channel.Channel, error) {
	t := reflect.TypeFor[T]()
	if err := validateElementType(t); err != nil {
		return nil, err
	}
	if t.Size() == 0 {
		return nil, status.Newf(codes.Channel, "element type %s has zero size", t)
	}
	return channel.Open(channel.Config{
		Name:         params.Name,
		QueueLen:     params.QueueSize,
		ElemSize:     uint64(t.Size()),
		ElemAlign:    uint64(t.Align()),
		InterProcess: params.Type == InterProcess,
		SPSC:         params.SPSC,
	}, side)
}
