// Package btconn dials outgoing peer connections and runs the BitTorrent handshake.
package btconn

import (
	"net"
	"time"
)

// Dial opens a TCP connection to the address and exchanges the 68-byte
// handshake. The returned conn is ready for peer protocol messages.
// The connection is closed when stopC is closed during dial or handshake.
func Dial(
	addr net.Addr,
	dialTimeout, handshakeTimeout time.Duration,
	ih, ourID [20]byte,
	stopC chan struct{},
) (conn net.Conn, peerID [20]byte, err error) {
	done := make(chan struct{})
	defer close(done)

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err = dialer.Dial(addr.Network(), addr.String())
	if err != nil {
		return
	}
	defer func(conn net.Conn) {
		if err != nil {
			conn.Close()
		}
	}(conn)

	// Unblock reads and writes below if the torrent is stopped mid-handshake.
	go func(conn net.Conn) {
		select {
		case <-stopC:
			conn.Close()
		case <-done:
		}
	}(conn)

	// Handshake must be completed in allowed duration.
	if err = conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	if err = writeHandshake(conn, ih, ourID); err != nil {
		return
	}
	var ihRead [20]byte
	ihRead, err = readHandshake1(conn)
	if err != nil {
		return
	}
	if ihRead != ih {
		err = ErrInvalidInfoHash
		return
	}
	peerID, err = readHandshake2(conn)
	if err != nil {
		return
	}
	if peerID == ourID {
		err = ErrOwnConnection
		return
	}
	err = conn.SetDeadline(time.Time{})
	return
}
