/*
Copyright 2019 The Vitess Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package bucketpool implements a pool of []byte slices of assorted
// sizes. Buffers are grouped in buckets, each bucket being a sync.Pool
// of slices of a fixed power-of-two capacity between minSize and
// maxSize. A Get for a size larger than maxSize allocates directly and
// the buffer is dropped on Put.
package bucketpool

import (
	"sync"
)

type sizedPool struct {
	size int
	pool sync.Pool
}

func newSizedPool(size int) *sizedPool {
	return &sizedPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Pool is a pool of buckets of buffers.
type Pool struct {
	minSize int
	maxSize int
	pools   []*sizedPool
}

// New returns Pool with buckets covering sizes from minSize to maxSize.
// Sizes double from bucket to bucket; the last bucket is clamped to
// maxSize even if it is not a power-of-two multiple of minSize.
func New(minSize, maxSize int) *Pool {
	if maxSize < minSize {
		panic("maxSize can't be less than minSize")
	}
	const multiplier = 2
	var pools []*sizedPool
	curSize := minSize
	if curSize == 0 {
		// Doubling from zero would never terminate.
		curSize = 1
	}
	for curSize < maxSize {
		pools = append(pools, newSizedPool(curSize))
		curSize *= multiplier
	}
	pools = append(pools, newSizedPool(maxSize))
	return &Pool{
		minSize: minSize,
		maxSize: maxSize,
		pools:   pools,
	}
}

func (p *Pool) findPool(size int) *sizedPool {
	if size > p.maxSize {
		return nil
	}
	idx := 0
	poolSize := p.minSize
	if poolSize == 0 {
		poolSize = 1
	}
	for size > poolSize {
		poolSize *= 2
		idx++
	}
	if poolSize > p.maxSize {
		// The last pool is clamped to maxSize.
		return p.pools[len(p.pools)-1]
	}
	return p.pools[idx]
}

// Get returns a pointer to a []byte with the given length. The
// capacity is the bucket size the length falls into, or exactly the
// requested size if it exceeds maxSize.
func (p *Pool) Get(size int) *[]byte {
	sp := p.findPool(size)
	if sp == nil {
		b := make([]byte, size)
		return &b
	}
	buf := sp.pool.Get().(*[]byte)
	*buf = (*buf)[:size]
	return buf
}

// Put returns a buffer obtained from Get back to its bucket. Buffers
// larger than maxSize are dropped.
func (p *Pool) Put(b *[]byte) {
	sp := p.findPool(cap(*b))
	if sp == nil {
		return
	}
	*b = (*b)[:cap(*b)]
	sp.pool.Put(b)
}
