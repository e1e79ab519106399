// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/peelfuzz/peelfuzz/pkg/stat"
	"github.com/peelfuzz/peelfuzz/pkg/triage"
)

func TestLogTail(t *testing.T) {
	assert.Nil(t, logTail("", 5))
	assert.Equal(t, []string{"a"}, logTail("a\n", 5))
	assert.Equal(t, []string{"b", "c"}, logTail("a\nb\nc\n", 2))
}

func TestView(t *testing.T) {
	m := newDashboard(func() Snapshot {
		return Snapshot{
			Target:    "deadbeef",
			Scheduler: "weighted",
			Workers:   2,
			Started:   time.Now(),
			Metrics:   []stat.UI{{Name: "executions", Value: "123"}},
			Bugs:      []triage.Bug{{Title: "nil deref", Count: 4}},
			Log:       "run started\nnew bug: nil deref\n",
		}
	})
	view := m.View()
	assert.Contains(t, view, "deadbeef")
	assert.Contains(t, view, "executions")
	assert.Contains(t, view, "123")
	assert.Contains(t, view, "nil deref")
	assert.Contains(t, view, "new bug: nil deref")
	assert.Contains(t, view, "q to quit")
}
