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

// Package status implements the error type returned by the fallible
// operations of the pika channel library. A Status pairs a codes.Code with
// a human-readable message.
package status

import (
	"errors"
	"fmt"

	"github.com/kevinjoseph1995/pika/codes"
)

// Status represents a library error. It satisfies the error interface and is
// the concrete type behind every error the library returns, except the
// iox.ErrWouldBlock that the non-blocking Try operations report for a full
// or empty channel.
type Status struct {
	code codes.Code
	msg  string
}

// New returns a Status representing c and msg.
func New(c codes.Code, msg string) *Status {
	return &Status{code: c, msg: msg}
}

// Newf returns New(c, fmt.Sprintf(format, a...)).
func Newf(c codes.Code, format string, a ...any) *Status {
	return New(c, fmt.Sprintf(format, a...))
}

// Code returns the status code contained in s. A nil Status is treated as
// code Unknown.
func (s *Status) Code() codes.Code {
	if s == nil {
		return codes.Unknown
	}
	return s.code
}

// Message returns the message contained in s.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return s.msg
}

func (s *Status) Error() string {
	return fmt.Sprintf("pika: code = %s desc = %s", s.code, s.msg)
}

// FromError returns the Status embedded in err, if any. The bool reports
// whether err was produced by this library.
func FromError(err error) (*Status, bool) {
	if err == nil {
		return nil, false
	}
	var s *Status
	if errors.As(err, &s) {
		return s, true
	}
	return New(codes.Unknown, err.Error()), false
}

// Code extracts the codes.Code from err. It returns codes.Unknown for nil or
// foreign errors.
func Code(err error) codes.Code {
	if err == nil {
		return codes.Unknown
	}
	var s *Status
	if errors.As(err, &s) {
		return s.Code()
	}
	return codes.Unknown
}

// IsTimeout reports whether err is a deadline expiry from a blocking
// operation.
func IsTimeout(err error) bool {
	return Code(err) == codes.Timeout
}
