package chunklog

import (
	"sync"
)

// 写 缓存：append 时从 reader 搬运 payload
type copyBufferPool struct {
	buffer sync.Pool
}

var defaultCopyBuffer = newCopyBufferPool()

func newCopyBufferPool() *copyBufferPool {
	return &copyBufferPool{
		buffer: sync.Pool{
			New: func() any {
				buf := make([]byte, copyBufferSize)
				return &buf
			},
		},
	}
}

func (b *copyBufferPool) Get() *[]byte {
	return b.buffer.Get().(*[]byte)
}

func (b *copyBufferPool) Put(buf *[]byte) {
	b.buffer.Put(buf)
}
