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

package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kevinjoseph1995/pika/codes"
)

func TestCodeExtraction(t *testing.T) {
	err := New(codes.RingBuffer, "misaligned base")
	if Code(err) != codes.RingBuffer {
		t.Fatalf("Code = %v, want RingBuffer", Code(err))
	}
	if Code(nil) != codes.Unknown {
		t.Fatalf("Code(nil) = %v, want Unknown", Code(nil))
	}
	if Code(errors.New("plain")) != codes.Unknown {
		t.Fatalf("Code(plain error) = %v, want Unknown", Code(errors.New("plain")))
	}
}

func TestWrappedStatusIsFound(t *testing.T) {
	inner := Newf(codes.Timeout, "waited %v", "50ms")
	wrapped := fmt.Errorf("sending sample: %w", inner)

	if !IsTimeout(wrapped) {
		t.Fatalf("IsTimeout(%v) = false, want true", wrapped)
	}
	s, ok := FromError(wrapped)
	if !ok {
		t.Fatalf("FromError did not find embedded status in %v", wrapped)
	}
	if s.Code() != codes.Timeout {
		t.Fatalf("embedded code = %v, want Timeout", s.Code())
	}
}

func TestFromErrorForeign(t *testing.T) {
	s, ok := FromError(errors.New("not ours"))
	if ok {
		t.Fatal("FromError claimed ownership of a foreign error")
	}
	if s.Code() != codes.Unknown {
		t.Fatalf("foreign error code = %v, want Unknown", s.Code())
	}
}

func TestErrorStringCarriesCodeAndMessage(t *testing.T) {
	err := New(codes.SharedBuffer, "size mismatch")
	got := err.Error()
	want := "pika: code = SharedBuffer desc = size mismatch"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestCodeString(t *testing.T) {
	tests := []struct {
		code codes.Code
		want string
	}{
		{codes.Unknown, "Unknown"},
		{codes.SharedBuffer, "SharedBuffer"},
		{codes.SyncPrimitive, "SyncPrimitive"},
		{codes.RingBuffer, "RingBuffer"},
		{codes.Channel, "Channel"},
		{codes.Timeout, "Timeout"},
		{codes.Code(42), "Code(42)"},
	}
	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Fatalf("String() = %q, want %q", got, tt.want)
		}
	}
}
