// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package targets holds the built-in fuzz targets. Real deployments
// register their own harness via Register, the built-ins double as demo
// workloads and as end-to-end test subjects.
package targets

import (
	"fmt"
	"sort"
	"sync"

	"github.com/peelfuzz/peelfuzz/pkg/harness"
)

var (
	mu       sync.Mutex
	registry = make(map[string]harness.Harness)
)

// Register adds a harness to the registry. Duplicate names panic, the
// registry is populated from init functions where a duplicate is a
// programming error.
func Register(h harness.Harness) {
	mu.Lock()
	defer mu.Unlock()
	if registry[h.Name()] != nil {
		panic(fmt.Sprintf("duplicate target %q", h.Name()))
	}
	registry[h.Name()] = h
}

func Lookup(name string) (harness.Harness, error) {
	mu.Lock()
	defer mu.Unlock()
	h := registry[name]
	if h == nil {
		return nil, fmt.Errorf("unknown target %q (have %v)", name, names())
	}
	return h, nil
}

func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	return names()
}

func names() []string {
	list := make([]string, 0, len(registry))
	for name := range registry {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}
