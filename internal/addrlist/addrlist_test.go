package addrlist

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func addr(i byte, port int) *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, i), Port: port}
}

func TestPushPop(t *testing.T) {
	d := New(10, time.Minute)
	d.Push([]*net.TCPAddr{addr(1, 6881), addr(2, 6881)}, 1234)
	assert.Equal(t, 2, d.Len())

	// Freshest first; same timestamp keeps push order, so pop returns the last.
	a := d.Pop()
	assert.NotNil(t, a)
	assert.Equal(t, 1, d.Len())
	d.Pop()
	assert.Nil(t, d.Pop())
}

func TestDedup(t *testing.T) {
	d := New(10, time.Minute)
	d.Push([]*net.TCPAddr{addr(1, 6881)}, 1234)
	d.Push([]*net.TCPAddr{addr(1, 6881)}, 1234)
	assert.Equal(t, 1, d.Len())
}

func TestInvalidDropped(t *testing.T) {
	d := New(10, time.Minute)
	d.Push([]*net.TCPAddr{
		{IP: net.IPv4(10, 0, 0, 1), Port: 0},     // zero port
		{IP: net.IPv4(127, 0, 0, 1), Port: 1234}, // our own listen addr
	}, 1234)
	assert.Equal(t, 0, d.Len())
}

func TestOverflowDropsOldest(t *testing.T) {
	d := New(2, time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }
	d.Push([]*net.TCPAddr{addr(1, 6881)}, 1234)
	now = now.Add(time.Second)
	d.Push([]*net.TCPAddr{addr(2, 6881)}, 1234)
	now = now.Add(time.Second)
	d.Push([]*net.TCPAddr{addr(3, 6881)}, 1234)
	assert.Equal(t, 2, d.Len())

	// Oldest (addr 1) was discarded.
	popped := []string{d.Pop().String(), d.Pop().String()}
	assert.NotContains(t, popped, addr(1, 6881).String())
}

func TestCooldown(t *testing.T) {
	d := New(10, 5*time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }

	d.MarkFailed(addr(1, 6881))
	d.Push([]*net.TCPAddr{addr(1, 6881)}, 1234)
	assert.Equal(t, 0, d.Len())

	// After the cool-down the address is accepted again.
	now = now.Add(5 * time.Minute)
	d.Push([]*net.TCPAddr{addr(1, 6881)}, 1234)
	assert.Equal(t, 1, d.Len())
}
