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

package ipcsync

import "errors"

// ErrFutexTimeout is returned by the futex layer when a timed wait expires.
// Callers translate it into a codes.Timeout status.
var ErrFutexTimeout = errors.New("futex wait timed out")

// ErrUnsupported is returned on platforms without futex support.
var ErrUnsupported = errors.New("futex operations not supported on this platform")
