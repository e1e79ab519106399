// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package targets

import (
	"github.com/peelfuzz/peelfuzz/pkg/cover"
	"github.com/peelfuzz/peelfuzz/pkg/harness"
)

// deadbeef crashes on the 4-byte magic DE AD BE EF. Each matched byte
// is a separate coverage site, so the engine can climb the prefix
// byte by byte instead of guessing all four at once.
var deadbeefSites = [4]uint32{
	cover.Site("deadbeef/b0"),
	cover.Site("deadbeef/b1"),
	cover.Site("deadbeef/b2"),
	cover.Site("deadbeef/b3"),
}

var deadbeefMagic = [4]byte{0xDE, 0xAD, 0xBE, 0xEF}

func deadbeef(cov *cover.Map, data []byte) {
	for i := range deadbeefMagic {
		if i >= len(data) || data[i] != deadbeefMagic[i] {
			return
		}
		cov.Hit(deadbeefSites[i])
	}
	*badPtr = 0xDEAD
}

// badPtr stays nil, writes through it are the intentional crash.
var badPtr *int

func init() {
	Register(harness.Bytes("deadbeef", deadbeef))
}
