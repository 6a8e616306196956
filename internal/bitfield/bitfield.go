// Package bitfield provides a set data structure for tracking piece possession.
package bitfield

import (
	"encoding/hex"
	"errors"
	"math/bits"
)

// Bitfield is a fixed-length bit vector. Bit 0 is the most significant bit of the
// first byte, matching the encoding of the peer protocol bitfield message.
type Bitfield struct {
	b      []byte
	length uint32
}

// New creates a new Bitfield of length bits, all zero.
func New(length uint32) *Bitfield {
	return &Bitfield{
		b:      make([]byte, (length+7)/8),
		length: length,
	}
}

// NewBytes returns a new Bitfield of length bits from the wire encoding in b.
// The slice must be exactly the required size and spare bits in the last byte
// must be zero; anything else is an error because it indicates a peer that does
// not follow the message format.
func NewBytes(b []byte, length uint32) (*Bitfield, error) {
	div, mod := divMod32(length, 8)
	requiredBytes := div
	if mod != 0 {
		requiredBytes++
	}
	if uint32(len(b)) != requiredBytes {
		return nil, errors.New("invalid bitfield length")
	}
	if mod != 0 && b[len(b)-1]&(0xff>>mod) != 0 {
		return nil, errors.New("spare bits in bitfield are set")
	}
	data := make([]byte, len(b))
	copy(data, b)
	return &Bitfield{b: data, length: length}, nil
}

// Bytes returns the underlying bytes. Modifying the returned slice modifies the Bitfield.
func (b *Bitfield) Bytes() []byte { return b.b }

// Len returns the number of bits as given to New.
func (b *Bitfield) Len() uint32 { return b.length }

// Hex returns the bytes as a hex string.
func (b *Bitfield) Hex() string { return hex.EncodeToString(b.b) }

// Set bit i. Panics if i >= b.Len().
func (b *Bitfield) Set(i uint32) {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	b.b[div] |= 1 << (7 - mod)
}

// Clear bit i. Panics if i >= b.Len().
func (b *Bitfield) Clear(i uint32) {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	b.b[div] &^= 1 << (7 - mod)
}

// ClearAll clears all bits.
func (b *Bitfield) ClearAll() {
	for i := range b.b {
		b.b[i] = 0
	}
}

// Test bit i. Panics if i >= b.Len().
func (b *Bitfield) Test(i uint32) bool {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	return b.b[div]&(1<<(7-mod)) != 0
}

// Count returns the number of set bits.
func (b *Bitfield) Count() uint32 {
	var total int
	for _, v := range b.b {
		total += bits.OnesCount8(v)
	}
	return uint32(total)
}

// All returns true if all bits are set.
func (b *Bitfield) All() bool {
	return b.Count() == b.length
}

func (b *Bitfield) checkIndex(i uint32) {
	if i >= b.length {
		panic("bitfield index out of bound")
	}
}

func divMod32(a, b uint32) (uint32, uint32) { return a / b, a % b }
