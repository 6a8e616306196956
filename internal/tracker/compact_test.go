package tracker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactPeerRoundTrip(t *testing.T) {
	addr := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 6881}
	p := NewCompactPeer(addr)
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 0, 0, 1, 0x1a, 0xe1}, b)

	var p2 CompactPeer
	require.NoError(t, p2.UnmarshalBinary(b))
	assert.Equal(t, p, p2)
	assert.Equal(t, "10.0.0.1:6881", p2.Addr().String())
}

func TestDecodePeersCompact(t *testing.T) {
	addrs, err := DecodePeersCompact([]byte{10, 0, 0, 1, 0x1a, 0xe1, 127, 0, 0, 1, 0x1a, 0xe2})
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "10.0.0.1:6881", addrs[0].String())
	assert.Equal(t, "127.0.0.1:6882", addrs[1].String())
}

func TestDecodePeersCompactEmpty(t *testing.T) {
	addrs, err := DecodePeersCompact(nil)
	require.NoError(t, err)
	assert.Len(t, addrs, 0)
}

func TestDecodePeersCompactInvalid(t *testing.T) {
	_, err := DecodePeersCompact([]byte{1, 2, 3})
	assert.Error(t, err)
}
