package core

import (
	"encoding/binary"
	"fmt"
)

// Lookup3 computes the Jenkins lookup3 hashlittle value HDF5 uses for
// metadata checksums (superblock v2+, OHDR, fractal heap and v2 B-tree blocks).
func Lookup3(data []byte) uint32 {
	a := uint32(0xdeadbeef) + uint32(len(data)) //nolint:gosec // G115: wraps by definition
	b, c := a, a
	k := data

	for len(k) > 12 {
		a += binary.LittleEndian.Uint32(k[0:])
		b += binary.LittleEndian.Uint32(k[4:])
		c += binary.LittleEndian.Uint32(k[8:])
		a, b, c = lookup3Mix(a, b, c)
		k = k[12:]
	}

	switch len(k) {
	case 12:
		c += uint32(k[11]) << 24
		fallthrough
	case 11:
		c += uint32(k[10]) << 16
		fallthrough
	case 10:
		c += uint32(k[9]) << 8
		fallthrough
	case 9:
		c += uint32(k[8])
		fallthrough
	case 8:
		b += uint32(k[7]) << 24
		fallthrough
	case 7:
		b += uint32(k[6]) << 16
		fallthrough
	case 6:
		b += uint32(k[5]) << 8
		fallthrough
	case 5:
		b += uint32(k[4])
		fallthrough
	case 4:
		a += uint32(k[3]) << 24
		fallthrough
	case 3:
		a += uint32(k[2]) << 16
		fallthrough
	case 2:
		a += uint32(k[1]) << 8
		fallthrough
	case 1:
		a += uint32(k[0])
	case 0:
		return c
	}

	_, _, c = lookup3Final(a, b, c)
	return c
}

func lookup3Mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= rotl32(c, 4)
	c += b
	b -= a
	b ^= rotl32(a, 6)
	a += c
	c -= b
	c ^= rotl32(b, 8)
	b += a
	a -= c
	a ^= rotl32(c, 16)
	c += b
	b -= a
	b ^= rotl32(a, 19)
	a += c
	c -= b
	c ^= rotl32(b, 4)
	b += a
	return a, b, c
}

func lookup3Final(a, b, c uint32) (uint32, uint32, uint32) {
	c ^= b
	c -= rotl32(b, 14)
	a ^= c
	a -= rotl32(c, 11)
	b ^= a
	b -= rotl32(a, 25)
	c ^= b
	c -= rotl32(b, 16)
	a ^= c
	a -= rotl32(c, 4)
	b ^= a
	b -= rotl32(a, 14)
	c ^= b
	c -= rotl32(b, 24)
	return a, b, c
}

func rotl32(x uint32, k uint) uint32 {
	return (x << k) | (x >> (32 - k))
}

// VerifyChecksum checks the trailing 4-byte lookup3 checksum of block.
func VerifyChecksum(block []byte, what string) error {
	if len(block) < 4 {
		return fmt.Errorf("%s: block too short for checksum", what)
	}
	n := len(block) - 4
	stored := binary.LittleEndian.Uint32(block[n:])
	if got := Lookup3(block[:n]); got != stored {
		return fmt.Errorf("%s: checksum mismatch (stored %08x, computed %08x)", what, stored, got)
	}
	return nil
}

// AppendChecksum appends the lookup3 checksum of block to it.
func AppendChecksum(block []byte) []byte {
	return binary.LittleEndian.AppendUint32(block, Lookup3(block))
}
