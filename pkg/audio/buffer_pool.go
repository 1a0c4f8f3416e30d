package audio

import "sync"

// slicePool recycles scratch slices used while decoding and resampling.
type slicePool[T any] struct {
	pool sync.Pool
}

func (p *slicePool[T]) acquire(size int) []T {
	if size <= 0 {
		return nil
	}
	if v := p.pool.Get(); v != nil {
		buf := v.([]T)
		if cap(buf) >= size {
			return buf[:size]
		}
	}
	return make([]T, size)
}

func (p *slicePool[T]) release(buf []T) {
	if buf == nil {
		return
	}
	p.pool.Put(buf[:0])
}

var (
	int16Pool   slicePool[int16]
	float32Pool slicePool[float32]
)
