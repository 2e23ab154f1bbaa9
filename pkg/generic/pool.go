package generic

import "sync"

// Pool is a typed sync.Pool. Values are reset before they go back.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	keep  func(T) bool
}

func NewPool[T any](generate func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
		reset: reset,
	}
}

// NewBoundedPool is NewPool that drops values keep rejects instead of
// pooling them, so one oversized value does not stay pinned.
func NewBoundedPool[T any](generate func() T, reset func(T), keep func(T) bool) *Pool[T] {
	p := NewPool(generate, reset)
	p.keep = keep
	return p
}

// NewHotPool pre-fills the pool with hotSize values.
func NewHotPool[T any](generate func() T, reset func(T), hotSize int) *Pool[T] {
	p := NewPool(generate, reset)
	for i := 0; i < hotSize; i++ {
		p.pool.Put(generate())
	}
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.keep != nil && !p.keep(value) {
		return
	}
	if p.reset != nil {
		p.reset(value)
	}
	p.pool.Put(value)
}
