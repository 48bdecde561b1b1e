// Package manifest implements the chunked-content binary manifest container:
// header, metadata, chunk data list, file manifest list and custom fields.
package manifest

import (
	"fmt"
	"hash/crc32"
)

// GUID is a 128-bit chunk/content identifier stored as four little-endian
// 32-bit words, matching the on-disk column layout used by the chunk data
// list and chunk parts.
type GUID [4]uint32

// Num returns the canonical 128-bit numeric form used as a map/dictionary
// key: g3 | (g2<<32) | (g1<<64) | (g0<<96).
func (g GUID) Num() [2]uint64 {
	lo := uint64(g[3]) | uint64(g[2])<<32
	hi := uint64(g[1]) | uint64(g[0])<<32
	return [2]uint64{hi, lo}
}

// String returns the canonical hyphen-separated lowercase form, e.g.
// "0a1b2c3d-00000000-00000000-00000001".
func (g GUID) String() string {
	return fmt.Sprintf("%08x-%08x-%08x-%08x", g[0], g[1], g[2], g[3])
}

// Upper returns the concatenated uppercase hex form used in chunk file
// names (no separators).
func (g GUID) Upper() string {
	return fmt.Sprintf("%08X%08X%08X%08X", g[0], g[1], g[2], g[3])
}

// crc32GroupNum derives the group number for a GUID whose stored group_num
// is absent: crc32(le_bytes(g0..g3)) mod 100.
func crc32GroupNum(g GUID) uint8 {
	var buf [16]byte
	for i, word := range g {
		buf[i*4+0] = byte(word)
		buf[i*4+1] = byte(word >> 8)
		buf[i*4+2] = byte(word >> 16)
		buf[i*4+3] = byte(word >> 24)
	}
	return uint8(crc32.ChecksumIEEE(buf[:]) % 100)
}
