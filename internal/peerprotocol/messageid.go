// Package peerprotocol contains the messages of the BitTorrent peer wire protocol.
package peerprotocol

import "strconv"

// MessageID is the identifier byte that follows the length prefix of a frame.
type MessageID uint8

// Message IDs defined in BEP 3, plus the DHT port message from BEP 5.
const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port
)

var messageIDStrings = []string{
	"choke",
	"unchoke",
	"interested",
	"not interested",
	"have",
	"bitfield",
	"request",
	"piece",
	"cancel",
	"port",
}

func (m MessageID) String() string {
	if int(m) >= len(messageIDStrings) {
		return "unknown (" + strconv.Itoa(int(m)) + ")"
	}
	return messageIDStrings[m]
}
