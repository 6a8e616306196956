package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitfield(t *testing.T) {
	b := New(10)
	assert.Equal(t, uint32(10), b.Len())
	assert.Equal(t, 2, len(b.Bytes()))
	assert.False(t, b.Test(0))

	b.Set(0)
	b.Set(9)
	assert.True(t, b.Test(0))
	assert.True(t, b.Test(9))
	assert.Equal(t, uint32(2), b.Count())
	assert.Equal(t, "8040", b.Hex())

	b.Clear(0)
	assert.False(t, b.Test(0))
	assert.Equal(t, uint32(1), b.Count())

	b.ClearAll()
	assert.Equal(t, uint32(0), b.Count())
}

func TestAll(t *testing.T) {
	b := New(3)
	b.Set(0)
	b.Set(1)
	assert.False(t, b.All())
	b.Set(2)
	assert.True(t, b.All())
}

func TestNewBytes(t *testing.T) {
	// 10 bits in 2 bytes, spare 6 bits of last byte must be zero.
	b, err := NewBytes([]byte{0xff, 0xc0}, 10)
	assert.NoError(t, err)
	assert.Equal(t, uint32(10), b.Count())

	_, err = NewBytes([]byte{0xff, 0xc1}, 10) // spare bit set
	assert.Error(t, err)

	_, err = NewBytes([]byte{0xff}, 10) // short
	assert.Error(t, err)

	_, err = NewBytes([]byte{0xff, 0xc0, 0x00}, 10) // long
	assert.Error(t, err)
}

func TestNewBytesCopies(t *testing.T) {
	raw := []byte{0x80}
	b, err := NewBytes(raw, 8)
	assert.NoError(t, err)
	raw[0] = 0
	assert.True(t, b.Test(0))
}
