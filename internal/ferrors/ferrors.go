/*
 * Copyright 2016 ClusterHQ
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
 */

// Package ferrors provides the engine's error type: a stack-capturing
// wrapper around one of a fixed set of sentinel kinds, so callers can both
// errors.Is against a kind and print a human-readable trace on diagnosis.
//
// Error handling guideline: code in this module wraps every returned error
// with Wrap (or, for errors escaping from outside this module, with New)
// against one of the sentinel kinds below so the stack is never lost.
package ferrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// MaxStackDepth bounds the captured call stack.
const MaxStackDepth = 50

// Sentinel error kinds.
var (
	ErrBadSignature        = errors.New("bad signature")
	ErrShortRead            = errors.New("short read")
	ErrIoError              = errors.New("i/o error")
	ErrRegionUnderPartition = errors.New("region underflows partition offset")
	ErrWidthOverflow        = errors.New("value exceeds target width")
	ErrFixupViolation       = errors.New("fixup query or application out of bounds")
	ErrOutOfMemory          = errors.New("out of memory")
	ErrCancelled            = errors.New("cancelled")
)

// Error is a customized error that captures the call stack at creation time
// and optionally wraps one of the sentinel kinds above.
type Error struct {
	msg   string
	kind  error
	stack []uintptr
}

var _ error = &Error{}

func captureStack() []uintptr {
	stack := make([]uintptr, MaxStackDepth)
	n := runtime.Callers(2, stack)
	return stack[:n]
}

// New wraps an arbitrary value (commonly an error returned by code outside
// this module) into an *Error, capturing the current stack.
func New(e interface{}) *Error {
	var err Error
	switch e := e.(type) {
	case error:
		err.msg = e.Error()
	default:
		err.msg = fmt.Sprintf("%+v", e)
	}
	err.stack = captureStack()
	return &err
}

// Errorf formats a new *Error, unassociated with any sentinel kind.
func Errorf(format string, a ...interface{}) *Error {
	err := fmt.Errorf(format, a...)
	return New(err)
}

// Wrap formats a new *Error associated with the given sentinel kind so that
// errors.Is(result, kind) holds.
func Wrap(kind error, format string, a ...interface{}) *Error {
	msg := fmt.Sprintf(format, a...)
	return &Error{
		msg:   fmt.Sprintf("%s: %s", msg, kind),
		kind:  kind,
		stack: captureStack(),
	}
}

func (err *Error) Error() string {
	return err.msg
}

// Unwrap exposes the sentinel kind, if any, so errors.Is/errors.As work.
func (err *Error) Unwrap() error {
	return err.kind
}

// GetStackTrace renders the captured stack in human-readable form, one
// frame per line.
func (err *Error) GetStackTrace() string {
	frames := make([]string, 0, len(err.stack))
	for _, pc := range err.stack {
		f := runtime.FuncForPC(pc)
		if f == nil {
			continue
		}
		file, line := f.FileLine(pc - 1)
		frames = append(frames, fmt.Sprintf("%s:%d (0x%x)", file, line, pc))
	}
	return strings.Join(frames, "\n")
}
