package bufpool

import (
	"sync"
	"sync/atomic"
)

// Pool hands out copy buffers of one fixed chunk size.
// It also tracks how many buffers are checked out at once, which is the
// memory bound of an assembly run: one chunk per active worker.
type Pool struct {
	pool      sync.Pool
	chunkSize int
	inUse     atomic.Int64
	peak      atomic.Int64
}

// New creates a pool whose buffers are exactly chunkSize bytes.
func New(chunkSize int) *Pool {
	if chunkSize <= 0 {
		panic("chunkSize must be positive")
	}
	p := &Pool{chunkSize: chunkSize}
	p.pool.New = func() any {
		buf := make([]byte, chunkSize)
		return &buf
	}
	return p
}

// Get checks out a buffer. Callers must hand it back with Put.
func (p *Pool) Get() []byte {
	bp := p.pool.Get().(*[]byte)
	n := p.inUse.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return (*bp)[:p.chunkSize]
}

// Put returns a buffer obtained from Get. Foreign buffers smaller than the
// chunk size are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.chunkSize {
		return
	}
	p.inUse.Add(-1)
	buf = buf[:p.chunkSize]
	p.pool.Put(&buf)
}

// ChunkSize returns the size of buffers in this pool.
func (p *Pool) ChunkSize() int {
	return p.chunkSize
}

// InUse reports buffers currently checked out.
func (p *Pool) InUse() int64 {
	return p.inUse.Load()
}

// Peak reports the highest number of buffers checked out at the same time.
func (p *Pool) Peak() int64 {
	return p.peak.Load()
}
