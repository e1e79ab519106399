// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package targets

import (
	"encoding/binary"

	"github.com/peelfuzz/peelfuzz/pkg/cover"
	"github.com/peelfuzz/peelfuzz/pkg/harness"
)

// packet parses a framed binary protocol with a checksummed header and
// three versioned payload formats, each hiding a distinct bug behind a
// chain of arithmetic gates. It exercises the engine's ability to climb
// multi-byte constraints through coverage feedback.

const packetHeaderSize = 12

type packetHeader struct {
	magic    [4]byte // DE AD BE EF
	version  uint8
	xorCheck uint8
	length   uint16
	crc      uint16
	reserved uint16
}

func parseHeader(data []byte) packetHeader {
	var hdr packetHeader
	copy(hdr.magic[:], data[0:4])
	hdr.version = data[4]
	hdr.xorCheck = data[5]
	hdr.length = binary.LittleEndian.Uint16(data[6:8])
	hdr.crc = binary.LittleEndian.Uint16(data[8:10])
	hdr.reserved = binary.LittleEndian.Uint16(data[10:12])
	return hdr
}

// crc16 is CRC-16/CCITT with the 0xFFFF init vector.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func xorFold(data []byte) uint8 {
	x := uint8(0)
	for _, b := range data {
		x ^= b
	}
	return x
}

func scramble(a, b uint8) uint8 {
	return a*7 ^ (b + 0x55)
}

// miniHash is a djb2 variant truncated to 16 bits.
func miniHash(data []byte) uint16 {
	h := uint32(5381)
	for _, b := range data {
		h = h<<5 + h + uint32(b)
	}
	return uint16(h)
}

func rol8(v uint8, n int) uint8 {
	return v<<n | v>>(8-n)
}

// xteaTransform runs 2 XTEA rounds over a 64-bit block.
func xteaTransform(v *[2]uint32, key *[4]uint32) {
	v0, v1 := v[0], v[1]
	const delta = 0x9E3779B9
	sum := uint32(0)
	for i := 0; i < 2; i++ {
		sum += delta
		v0 += ((v1<<4 ^ v1>>5) + v1) ^ (sum + key[sum&3])
		v1 += ((v0<<4 ^ v0>>5) + v0) ^ (sum + key[sum>>11&3])
	}
	v[0], v[1] = v0, v1
}

var packetSites = struct {
	header [7]uint32
	v1, v2 [10]uint32
	v3     [10]uint32
}{}

func init() {
	for i := range packetSites.header {
		packetSites.header[i] = cover.Site("packet/hdr" + string(rune('0'+i)))
	}
	for i := range packetSites.v1 {
		packetSites.v1[i] = cover.Site("packet/v1/" + string(rune('a'+i)))
		packetSites.v2[i] = cover.Site("packet/v2/" + string(rune('a'+i)))
		packetSites.v3[i] = cover.Site("packet/v3/" + string(rune('a'+i)))
	}
	Register(harness.Bytes("packet", parsePacket))
}

func parsePacket(cov *cover.Map, data []byte) {
	if len(data) < packetHeaderSize {
		return
	}
	cov.Hit(packetSites.header[0])
	hdr := parseHeader(data)
	if hdr.magic != [4]byte{0xDE, 0xAD, 0xBE, 0xEF} {
		return
	}
	cov.Hit(packetSites.header[1])
	if hdr.version < 1 || hdr.version > 3 {
		return
	}
	cov.Hit(packetSites.header[2])
	if hdr.reserved != 0 {
		return
	}
	cov.Hit(packetSites.header[3])
	payload := data[packetHeaderSize:]
	if int(hdr.length) != len(payload) {
		return
	}
	cov.Hit(packetSites.header[4])
	if hdr.crc != crc16(payload) {
		return
	}
	cov.Hit(packetSites.header[5])
	if hdr.xorCheck != xorFold(payload) {
		return
	}
	cov.Hit(packetSites.header[6])

	switch hdr.version {
	case 1:
		packetV1(cov, payload)
	case 2:
		packetV2(cov, payload)
	case 3:
		packetV3(cov, payload)
	}
}

// packetV1 is the arithmetic maze. Solving it ends in a nil write.
func packetV1(cov *cover.Map, payload []byte) {
	if len(payload) < 24 {
		return
	}
	cov.Hit(packetSites.v1[0])
	if payload[0] != 'F' || payload[1] != 'U' || payload[2] != 'Z' || payload[3] != 'Z' {
		return
	}
	cov.Hit(packetSites.v1[1])
	if binary.LittleEndian.Uint16(payload[4:6]) != miniHash(payload[:4]) {
		return
	}
	cov.Hit(packetSites.v1[2])
	if payload[6] != scramble(payload[4], payload[5]) {
		return
	}
	cov.Hit(packetSites.v1[3])
	b7, b8, b9, b10 := payload[7], payload[8], payload[9], payload[10]
	if b7+b8 != 0xFF || b8^b9 != 0x3C || b9*b10 != 0x90 || b10-b7 != 0x15 {
		return
	}
	cov.Hit(packetSites.v1[4])
	if binary.LittleEndian.Uint16(payload[11:13]) != crc16(payload[:11]) {
		return
	}
	cov.Hit(packetSites.v1[5])
	if payload[13] != rol8(b7, 3) || payload[14] != rol8(b8, 5) || payload[15] != rol8(b9, 1) {
		return
	}
	cov.Hit(packetSites.v1[6])
	if payload[16] != xorFold(payload[:16]) {
		return
	}
	cov.Hit(packetSites.v1[7])
	if binary.LittleEndian.Uint32(payload[17:21]) != 0xDEADC0DE {
		return
	}
	cov.Hit(packetSites.v1[8])
	total := uint32(0)
	for _, b := range payload[:24] {
		total += uint32(b)
	}
	if total%251 != 0 {
		return
	}
	cov.Hit(packetSites.v1[9])
	*badPtr = 0xDEAD
}

// packetV2 is the command protocol. Solving it ends in an out of
// bounds write into a fixed-size scratch buffer.
func packetV2(cov *cover.Map, payload []byte) {
	if len(payload) < 28 {
		return
	}
	cov.Hit(packetSites.v2[0])
	cmd, subcmd, auth, flags := payload[0], payload[1], payload[2], payload[3]
	if cmd != 0x42 {
		return
	}
	cov.Hit(packetSites.v2[1])
	if subcmd != 0x0A && subcmd != 0x0B && subcmd != 0x0C {
		return
	}
	cov.Hit(packetSites.v2[2])
	if auth != scramble(cmd, subcmd) {
		return
	}
	cov.Hit(packetSites.v2[3])
	if flags&0x49 != 0x49 || flags&0xA0 != 0 {
		return
	}
	cov.Hit(packetSites.v2[4])
	if binary.LittleEndian.Uint16(payload[4:6]) != miniHash(payload[:4]) {
		return
	}
	cov.Hit(packetSites.v2[5])
	if miniHash(payload[6:10]) != 0xBEEF {
		return
	}
	cov.Hit(packetSites.v2[6])
	if binary.LittleEndian.Uint16(payload[10:12]) != crc16(payload[:10]) {
		return
	}
	cov.Hit(packetSites.v2[7])
	for i := 12; i < 20; i += 2 {
		if payload[i]^payload[i+1] != 0xAA || payload[i] <= 0xC0 {
			return
		}
	}
	cov.Hit(packetSites.v2[8])
	v := [2]uint32{
		binary.LittleEndian.Uint32(payload[20:24]),
		binary.LittleEndian.Uint32(payload[24:28]),
	}
	key := [4]uint32{uint32(cmd), uint32(subcmd), uint32(auth), uint32(flags)}
	xteaTransform(&v, &key)
	if v[0]&0xFFFF != 0x1337 {
		return
	}
	cov.Hit(packetSites.v2[9])
	var small [4]byte
	for i := 12; i < len(payload); i++ {
		small[i-12] = payload[i]
	}
}

// packetV3 is the layered checksum challenge. Solving it ends in an
// integer division by zero.
func packetV3(cov *cover.Map, payload []byte) {
	if len(payload) < 32 {
		return
	}
	cov.Hit(packetSites.v3[0])
	if payload[0] != 'P' || payload[1] != 'E' || payload[2] != 'E' || payload[3] != 'L' {
		return
	}
	cov.Hit(packetSites.v3[1])
	if binary.LittleEndian.Uint32(payload[4:8]) != 0x00010007 {
		return
	}
	cov.Hit(packetSites.v3[2])
	b8, b9, b10, b11 := payload[8], payload[9], payload[10], payload[11]
	if b8+b9 != 0xFF || b9*b10 != 0x20 || b10^b11 != 0x3C || b11&0x0F != 0x08 {
		return
	}
	cov.Hit(packetSites.v3[3])
	if binary.LittleEndian.Uint16(payload[12:14]) != crc16(payload[:12]) {
		return
	}
	cov.Hit(packetSites.v3[4])
	if binary.LittleEndian.Uint16(payload[14:16]) != crc16(payload[:14]) {
		return
	}
	cov.Hit(packetSites.v3[5])
	if binary.LittleEndian.Uint32(payload[16:20]) != uint32(miniHash(payload[:16])) {
		return
	}
	cov.Hit(packetSites.v3[6])
	for i := 20; i < 24; i++ {
		if payload[i] != rol8(payload[i-4], i%3+1) {
			return
		}
	}
	cov.Hit(packetSites.v3[7])
	if binary.LittleEndian.Uint32(payload[24:28]) != 0xCAFEBABE {
		return
	}
	cov.Hit(packetSites.v3[8])
	finalCRC := crc16(payload[:28])
	if binary.LittleEndian.Uint16(payload[28:30]) != finalCRC ||
		binary.LittleEndian.Uint16(payload[30:32]) != finalCRC {
		return
	}
	cov.Hit(packetSites.v3[9])
	_ = 1 / int(payload[8]-b8)
}
