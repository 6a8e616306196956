package btconn

import (
	"encoding/binary"
	"io"
)

// pstrlen byte followed by the 19-byte protocol string.
var pstr = [20]byte{19, 'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l'}

func writeHandshake(w io.Writer, ih, id [20]byte) error {
	h := struct {
		Pstr     [20]byte
		Reserved [8]byte
		InfoHash [20]byte
		PeerID   [20]byte
	}{
		Pstr:     pstr,
		InfoHash: ih,
		PeerID:   id,
	}
	return binary.Write(w, binary.BigEndian, h)
}

// readHandshake1 reads the protocol string, reserved bytes and info hash.
func readHandshake1(r io.Reader) (ih [20]byte, err error) {
	_, err = io.ReadFull(r, ih[:])
	if err != nil {
		return
	}
	if ih != pstr {
		err = ErrInvalidProtocol
		return
	}
	var reserved [8]byte
	_, err = io.ReadFull(r, reserved[:])
	if err != nil {
		return
	}
	_, err = io.ReadFull(r, ih[:])
	return
}

// readHandshake2 reads the remote peer id.
func readHandshake2(r io.Reader) (id [20]byte, err error) {
	_, err = io.ReadFull(r, id[:])
	return
}
