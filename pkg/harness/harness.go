// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package harness defines the boundary between the engine and the fuzz
// target. A harness consumes a candidate buffer and either returns
// normally, panics (observed by the engine as a crash) or hangs
// (observed as a timeout). The engine never retains the buffer past the
// call and never passes a buffer longer than declared.
package harness

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/peelfuzz/peelfuzz/pkg/cover"
)

type Kind int

const (
	// KindBytes targets receive the raw candidate buffer.
	KindBytes Kind = iota
	// KindString targets receive the buffer reinterpreted as a
	// NUL-delimited string.
	KindString
)

func (kind Kind) String() string {
	switch kind {
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("harness.Kind(%d)", int(kind))
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "bytes":
		return KindBytes, nil
	case "string":
		return KindString, nil
	default:
		return 0, fmt.Errorf("unknown harness kind %q (want bytes or string)", s)
	}
}

// Func is a byte-buffer target. It must not assume any minimum length
// and must not retain data past the call. cov is the worker-local
// coverage map instrumented targets report edges to; targets without
// instrumentation may ignore it.
type Func func(cov *cover.Map, data []byte)

// StringFunc is a target with string-calling semantics.
type StringFunc func(cov *cover.Map, s string)

// IntFunc is a target taking a single integer, invoked through the
// byte-reinterpreting shim (see WrapInt).
type IntFunc func(cov *cover.Map, v int32)

type Harness interface {
	Name() string
	Invoke(cov *cover.Map, data []byte)
}

type bytesHarness struct {
	name string
	fn   Func
}

// Bytes builds a harness for byte-buffer targets.
func Bytes(name string, fn Func) Harness {
	return &bytesHarness{name: name, fn: fn}
}

func (h *bytesHarness) Name() string { return h.name }

func (h *bytesHarness) Invoke(cov *cover.Map, data []byte) {
	h.fn(cov, data)
}

type stringHarness struct {
	name string
	fn   StringFunc
}

// String builds a harness for string targets. The candidate buffer is
// cut at the first NUL byte, mirroring C string semantics.
func String(name string, fn StringFunc) Harness {
	return &stringHarness{name: name, fn: fn}
}

func (h *stringHarness) Name() string { return h.name }

func (h *stringHarness) Invoke(cov *cover.Map, data []byte) {
	if idx := bytes.IndexByte(data, 0); idx >= 0 {
		data = data[:idx]
	}
	h.fn(cov, string(data))
}

// WrapInt adapts an integer-taking target to the byte-buffer contract:
// the first 4 bytes of the candidate are reinterpreted as a little-endian
// int32 (shorter buffers are zero padded).
func WrapInt(name string, fn IntFunc) Harness {
	return Bytes(name, func(cov *cover.Map, data []byte) {
		var raw [4]byte
		copy(raw[:], data)
		fn(cov, int32(binary.LittleEndian.Uint32(raw[:])))
	})
}
