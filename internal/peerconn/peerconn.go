// Package peerconn provides a message-based interface over one peer's TCP connection.
package peerconn

import (
	"net"
	"time"

	"github.com/juju/ratelimit"

	"github.com/downpour-dl/downpour/internal/logger"
	"github.com/downpour-dl/downpour/internal/peerconn/peerreader"
	"github.com/downpour-dl/downpour/internal/peerconn/peerwriter"
	"github.com/downpour-dl/downpour/internal/peerprotocol"
)

// Conn is a peer connection that provides a channel for received messages and
// methods for sending messages.
type Conn struct {
	conn     net.Conn
	reader   *peerreader.PeerReader
	writer   *peerwriter.PeerWriter
	messages chan interface{}
	log      logger.Logger
	closeC   chan struct{}
	doneC    chan struct{}
}

// New returns a Conn by wrapping a net.Conn whose handshake is already done.
func New(conn net.Conn, l logger.Logger, pieceTimeout, keepAlivePeriod time.Duration, br *ratelimit.Bucket) *Conn {
	return &Conn{
		conn:     conn,
		reader:   peerreader.New(conn, l, pieceTimeout, br),
		writer:   peerwriter.New(conn, l, keepAlivePeriod),
		messages: make(chan interface{}),
		log:      l,
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Addr returns the remote address.
func (p *Conn) Addr() *net.TCPAddr {
	return p.conn.RemoteAddr().(*net.TCPAddr)
}

// String returns the remote address as string.
func (p *Conn) String() string {
	return p.conn.RemoteAddr().String()
}

// Logger for the peer, prefixed with the peer address.
func (p *Conn) Logger() logger.Logger {
	return p.log
}

// Close stops receiving and sending messages and closes the underlying net.Conn.
func (p *Conn) Close() {
	close(p.closeC)
	<-p.doneC
}

// Messages received from the peer are sent to the returned channel.
// The channel is closed on any receive or send error.
func (p *Conn) Messages() <-chan interface{} {
	return p.messages
}

// SendMessage queues a message for sending. Does not block.
func (p *Conn) SendMessage(msg peerprotocol.Message) {
	p.writer.SendMessage(msg)
}

// CancelRequest removes a queued request message that has not been written yet.
func (p *Conn) CancelRequest(msg peerprotocol.RequestMessage) {
	p.writer.CancelRequest(msg)
}

// Run starts the reader and writer loops and forwards received messages until
// either loop fails or Close is called.
func (p *Conn) Run() {
	defer close(p.doneC)
	defer close(p.messages)

	go p.reader.Run()
	defer func() { <-p.reader.Done() }()

	go p.writer.Run()
	defer func() { <-p.writer.Done() }()

	defer p.conn.Close()
	for {
		select {
		case msg := <-p.reader.Messages():
			select {
			case p.messages <- msg:
			case <-p.closeC:
				p.reader.Stop()
				p.writer.Stop()
				return
			}
		case <-p.closeC:
			p.reader.Stop()
			p.writer.Stop()
			return
		case <-p.reader.Done():
			p.writer.Stop()
			return
		case <-p.writer.Done():
			p.reader.Stop()
			return
		}
	}
}
