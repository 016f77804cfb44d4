// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import "sync/atomic"

// BytePool hands out byte slices of one fixed capacity.
type BytePool struct {
	pool  ObjectPool[*[]byte]
	size  int
	inUse atomic.Int64
}

// NewBytePool creates a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		size = 1024
	}
	return &BytePool{
		pool: NewSyncPool(
			func() *[]byte {
				b := make([]byte, size)
				return &b
			},
			func(b *[]byte) { clear(*b) },
		),
		size: size,
	}
}

// Size returns the capacity of every buffer.
func (b *BytePool) Size() int {
	return b.size
}

// GetBuffer returns a zeroed buffer of full length.
func (b *BytePool) GetBuffer() []byte {
	buf := *b.pool.Get()
	b.inUse.Add(1)
	return buf
}

// PutBuffer returns buf to the pool. Buffers of a foreign size are dropped.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.inUse.Add(-1)
	buf = buf[:b.size]
	b.pool.Put(&buf)
}

// InUse reports buffers handed out and not yet returned.
func (b *BytePool) InUse() int64 {
	return b.inUse.Load()
}
