package texel

import (
	"math/bits"
	"sync"
	"unsafe"
)

// AllocScratch returns an n byte scratch block aligned to 8 bytes, suitable
// for a single filter invocation. It returns nil for n <= 0.
func AllocScratch(n int) []byte {
	if n <= 0 {
		return nil
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// ScratchPool recycles scratch blocks between filter invocations.
// Blocks are grouped in power-of-two size classes so a block returned by Get
// may be reused by any later request of the same class.
// The zero value is ready to use. A ScratchPool is safe for concurrent use,
// but a block obtained from it must only be used by one invocation at a time.
type ScratchPool struct {
	classes [bits.UintSize]sync.Pool
}

// Get returns an aligned block of length n. Its capacity is the size class of n.
func (p *ScratchPool) Get(n int) []byte {
	if n <= 0 {
		return nil
	}
	class := sizeClass(n)
	if v := p.classes[class].Get(); v != nil {
		return (*v.(*[]byte))[:n]
	}
	return AllocScratch(1 << class)[:n]
}

// Put returns a block obtained from Get to the pool. Blocks whose capacity is
// not a size class are dropped.
func (p *ScratchPool) Put(b []byte) {
	c := cap(b)
	if c == 0 {
		return
	}
	class := sizeClass(c)
	if 1<<class != c {
		return
	}
	b = b[:c]
	p.classes[class].Put(&b)
}

func sizeClass(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}
