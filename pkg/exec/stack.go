// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package exec

import (
	"path/filepath"
	"strings"
)

// maxFrames bounds the call context folded into the crash dedup key.
// Deep recursive crashes still collapse to one signature.
const maxFrames = 4

// targetFrames extracts the innermost target call frames from a
// captured stack trace. Runtime frames and the engine's own trap
// machinery are skipped, so the frames describe the fault location in
// the target, independent of the input that triggered it.
func targetFrames(stack []byte) []string {
	lines := strings.Split(string(stack), "\n")
	var frames []string
	for i := 0; i+1 < len(lines); i++ {
		fn := strings.TrimSpace(lines[i])
		paren := strings.IndexByte(fn, '(')
		if paren <= 0 || !strings.HasSuffix(fn, ")") {
			continue
		}
		name := fn[:paren]
		if skipFrame(name) {
			continue
		}
		loc := strings.TrimSpace(lines[i+1])
		if idx := strings.LastIndex(loc, " +0x"); idx >= 0 {
			loc = loc[:idx]
		}
		if idx := strings.LastIndex(loc, "/"); idx >= 0 {
			loc = loc[idx+1:]
		}
		frames = append(frames, name+" "+filepath.Base(loc))
		if len(frames) == maxFrames {
			break
		}
	}
	return frames
}

func skipFrame(name string) bool {
	if name == "panic" || strings.HasPrefix(name, "runtime.") ||
		strings.HasPrefix(name, "runtime/debug.") {
		return true
	}
	// The trap machinery itself.
	if strings.Contains(name, "/pkg/exec.") {
		return true
	}
	// Uninstrumented harness wrappers.
	if strings.Contains(name, "/pkg/harness.") {
		return true
	}
	return false
}
