// Package bufpool reuses fixed-size chunk buffers to keep the transfer
// hot path from allocating per frame.
package bufpool

import "sync"

// Pool hands out byte slices of exactly one size.
type Pool struct {
	pool sync.Pool
	size int
}

// New creates a pool of size-byte buffers. Panics if size is not positive.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	return &Pool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Get returns a buffer of the pool's size. Contents are unspecified.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.size {
		return make([]byte, p.size)
	}
	return buf[:p.size]
}

// Put returns a buffer for reuse. Undersized buffers are discarded.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// Size reports the length of buffers this pool hands out.
func (p *Pool) Size() int {
	return p.size
}
