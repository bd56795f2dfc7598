package interp

import (
	"sync"
	"sync/atomic"
)

// Owned is a scoped owning handle to a runtime object. Release runs the
// release hook exactly once; later calls do nothing. Pass it by pointer.
type Owned[T any] struct {
	value    T
	release  func(T)
	once     sync.Once
	released atomic.Bool
}

func NewOwned[T any](value T, release func(T)) *Owned[T] {
	return &Owned[T]{value: value, release: release}
}

// Get returns the owned value, or the zero value once released.
func (o *Owned[T]) Get() T {
	return o.value
}

func (o *Owned[T]) Released() bool {
	return o.released.Load()
}

func (o *Owned[T]) Release() {
	if o == nil {
		return
	}
	o.once.Do(func() {
		o.released.Store(true)
		if o.release != nil {
			o.release(o.value)
		}
		var zero T
		o.value = zero
	})
}
