// Package bufferpool provides pooled byte buffers for piece block data.
package bufferpool

import "sync"

// Pool is a wrapper around sync.Pool that hands out Buffers of a fixed capacity.
type Pool struct {
	pool sync.Pool
}

// New returns a new Pool for Buffers of capacity buflen.
func New(buflen int) *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, buflen)
				return &b
			},
		},
	}
}

// Get a Buffer of datalen bytes from the pool. datalen must not exceed the
// capacity given in the constructor. Call Buffer.Release when done.
func (p *Pool) Get(datalen int) Buffer {
	buf := p.pool.Get().(*[]byte)
	return Buffer{
		Data: (*buf)[:datalen],
		buf:  buf,
		pool: p,
	}
}

// Buffer is a slice with a pointer back to its Pool.
type Buffer struct {
	Data []byte
	buf  *[]byte
	pool *Pool
}

// Release returns the Buffer to the Pool.
func (b Buffer) Release() {
	// argument to Put should be pointer-like to avoid allocations
	b.pool.pool.Put(b.buf)
}
