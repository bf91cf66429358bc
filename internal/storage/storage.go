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

// Package storage provides the byte regions that back a channel: a file in
// /dev/shm mapped into every participating process, or a named heap buffer
// shared between the threads of one process. Both hand out a raw base
// pointer and size; layout and synchronization are the caller's business.
package storage

import (
	"strings"
	"unsafe"

	"github.com/kevinjoseph1995/pika/codes"
	"github.com/kevinjoseph1995/pika/status"
)

// nameMax mirrors the filesystem NAME_MAX limit on the shm object name.
const nameMax = 255

// A Region is a contiguous byte range backing a channel.
//
// Base is valid until Close. For an inter-process region, Unlink removes
// the name so later opens start fresh; handles opened before Unlink keep
// working. An inter-thread region keeps its name for the life of the
// process, and Unlink on it does nothing.
type Region interface {
	Base() unsafe.Pointer
	Size() uint64
	Close() error
	Unlink() error
}

// validateName checks a region identifier against the shm_open naming
// rules: a leading slash, no interior slashes, bounded length.
func validateName(name string) error {
	if len(name) == 0 || name[0] != '/' {
		return status.Newf(codes.SharedBuffer, "shared buffer name %q must begin with '/'", name)
	}
	if len(name) == 1 {
		return status.Newf(codes.SharedBuffer, "shared buffer name %q has no identifier after '/'", name)
	}
	if strings.Contains(name[1:], "/") {
		return status.Newf(codes.SharedBuffer, "shared buffer name %q must not contain interior '/'", name)
	}
	if len(name) > nameMax {
		return status.Newf(codes.SharedBuffer, "shared buffer name %q exceeds %d characters", name, nameMax)
	}
	return nil
}
