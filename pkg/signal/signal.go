// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package signal provides types for working with coverage feedback signal.
// A signal element identifies a coverage site together with its hit-count
// bucket, so an input that hits a known edge much more often than before
// still counts as new signal.
package signal

type elemType uint32

type Signal map[elemType]struct{}

type Serial struct {
	Elems []uint32
}

func (s Signal) Len() int {
	return len(s)
}

func (s Signal) Empty() bool {
	return len(s) == 0
}

func (s Signal) Copy() Signal {
	c := make(Signal, len(s))
	for e := range s {
		c[e] = struct{}{}
	}
	return c
}

func FromRaw(raw []uint32) Signal {
	if len(raw) == 0 {
		return nil
	}
	s := make(Signal, len(raw))
	for _, e := range raw {
		s[elemType(e)] = struct{}{}
	}
	return s
}

func (s Signal) Serialize() Serial {
	if s.Empty() {
		return Serial{}
	}
	res := Serial{Elems: make([]uint32, 0, len(s))}
	for e := range s {
		res.Elems = append(res.Elems, uint32(e))
	}
	return res
}

func (ser Serial) Deserialize() Signal {
	if len(ser.Elems) == 0 {
		return nil
	}
	s := make(Signal, len(ser.Elems))
	for _, e := range ser.Elems {
		s[elemType(e)] = struct{}{}
	}
	return s
}

// Diff returns the part of s1 that is not already covered by s.
func (s Signal) Diff(s1 Signal) Signal {
	if s1.Empty() {
		return nil
	}
	var res Signal
	for e := range s1 {
		if _, ok := s[e]; ok {
			continue
		}
		if res == nil {
			res = make(Signal)
		}
		res[e] = struct{}{}
	}
	return res
}

// DiffRaw is Diff over a raw element slice, avoiding an intermediate Signal.
func (s Signal) DiffRaw(raw []uint32) Signal {
	var res Signal
	for _, e := range raw {
		if _, ok := s[elemType(e)]; ok {
			continue
		}
		if res == nil {
			res = make(Signal)
		}
		res[elemType(e)] = struct{}{}
	}
	return res
}

func (s Signal) Intersection(s1 Signal) Signal {
	if s1.Empty() {
		return nil
	}
	res := make(Signal, len(s))
	for e := range s {
		if _, ok := s1[e]; ok {
			res[e] = struct{}{}
		}
	}
	return res
}

func (s *Signal) Merge(s1 Signal) {
	if s1.Empty() {
		return
	}
	s0 := *s
	if s0 == nil {
		s0 = make(Signal, len(s1))
		*s = s0
	}
	for e := range s1 {
		s0[e] = struct{}{}
	}
}
