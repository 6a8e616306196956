// Package peerwriter queues and writes the framed messages of a peer connection.
package peerwriter

import (
	"container/list"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/downpour-dl/downpour/internal/logger"
	"github.com/downpour-dl/downpour/internal/peerprotocol"
)

// PeerWriter runs the send loop of one peer connection.
type PeerWriter struct {
	conn            net.Conn
	keepAlivePeriod time.Duration
	queueC          chan peerprotocol.Message
	cancelC         chan peerprotocol.RequestMessage
	writeQueue      *list.List
	writeC          chan peerprotocol.Message
	log             logger.Logger
	stopC           chan struct{}
	doneC           chan struct{}
}

// New returns a PeerWriter wrapping conn.
func New(conn net.Conn, l logger.Logger, keepAlivePeriod time.Duration) *PeerWriter {
	return &PeerWriter{
		conn:            conn,
		keepAlivePeriod: keepAlivePeriod,
		queueC:          make(chan peerprotocol.Message),
		cancelC:         make(chan peerprotocol.RequestMessage),
		writeQueue:      list.New(),
		writeC:          make(chan peerprotocol.Message),
		log:             l,
		stopC:           make(chan struct{}),
		doneC:           make(chan struct{}),
	}
}

// SendMessage queues a message for sending. Does not block.
func (p *PeerWriter) SendMessage(msg peerprotocol.Message) {
	select {
	case p.queueC <- msg:
	case <-p.doneC:
	}
}

// CancelRequest removes a previously queued request message that has not been
// written yet, so a withdrawn request does not hit the wire at all.
func (p *PeerWriter) CancelRequest(msg peerprotocol.RequestMessage) {
	select {
	case p.cancelC <- msg:
	case <-p.doneC:
	}
}

// Stop the send loop.
func (p *PeerWriter) Stop() {
	close(p.stopC)
}

// Done is closed when the send loop exits.
func (p *PeerWriter) Done() chan struct{} {
	return p.doneC
}

// Run moves messages from the queue to the connection until an error or Stop.
func (p *PeerWriter) Run() {
	defer close(p.doneC)

	go p.messageWriter()

	for {
		var (
			e      *list.Element
			msg    peerprotocol.Message
			writeC chan peerprotocol.Message
		)
		if p.writeQueue.Len() > 0 {
			e = p.writeQueue.Front()
			msg = e.Value.(peerprotocol.Message)
			writeC = p.writeC
		}
		select {
		case msg = <-p.queueC:
			p.writeQueue.PushBack(msg)
		case writeC <- msg:
			p.writeQueue.Remove(e)
		case rm := <-p.cancelC:
			p.removeRequest(rm)
		case <-p.stopC:
			return
		}
	}
}

func (p *PeerWriter) removeRequest(rm peerprotocol.RequestMessage) {
	for e := p.writeQueue.Front(); e != nil; e = e.Next() {
		if qm, ok := e.Value.(peerprotocol.RequestMessage); ok && qm == rm {
			p.writeQueue.Remove(e)
			break
		}
	}
}

func (p *PeerWriter) messageWriter() {
	defer p.conn.Close()

	// Disable the write deadline that was set by the handshaker.
	err := p.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		p.log.Error(err)
		return
	}

	keepAliveTicker := time.NewTicker(p.keepAlivePeriod)
	defer keepAliveTicker.Stop()

	buf := make([]byte, 4+1+12)
	for {
		select {
		case msg := <-p.writeC:
			n, err := msg.Read(buf[5:])
			if err != nil && err != io.EOF {
				p.log.Error(err)
				return
			}
			binary.BigEndian.PutUint32(buf[0:4], uint32(1+n))
			buf[4] = byte(msg.ID())
			if _, err = p.conn.Write(buf[:5+n]); err != nil {
				p.logWriteError(err)
				return
			}
			keepAliveTicker.Reset(p.keepAlivePeriod)
		case <-keepAliveTicker.C:
			// Zero-length frame.
			if _, err := p.conn.Write([]byte{0, 0, 0, 0}); err != nil {
				p.logWriteError(err)
				return
			}
		case <-p.stopC:
			return
		}
	}
}

func (p *PeerWriter) logWriteError(err error) {
	if _, ok := err.(*net.OpError); ok {
		return
	}
	select {
	case <-p.stopC:
	default:
		p.log.Error(err)
	}
}
