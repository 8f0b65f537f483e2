package netif

import (
	"sync"
)

// Pool hands out handles for native objects owned by a Library. Handles are
// never reused within a process.
type Pool[T any] struct {
	pool map[Handle]T
	mux  sync.RWMutex
	next Handle
}

func NewPool[T any]() *Pool[T] {
	return &Pool[T]{
		pool: make(map[Handle]T),
		next: INVALID_HANDLE + 1,
	}
}

func (self *Pool[T]) Add(obj T) Handle {
	self.mux.Lock()
	h := self.next
	self.pool[h] = obj
	self.next++
	self.mux.Unlock()

	return h
}

func (self *Pool[T]) Get(h Handle) (T, bool) {
	self.mux.RLock()
	obj, ok := self.pool[h]
	self.mux.RUnlock()
	return obj, ok
}

// Del removes h and returns the object it referred to.
func (self *Pool[T]) Del(h Handle) (T, bool) {
	self.mux.Lock()
	obj, ok := self.pool[h]
	delete(self.pool, h)
	self.mux.Unlock()
	return obj, ok
}

func (self *Pool[T]) Len() int {
	self.mux.RLock()
	defer self.mux.RUnlock()
	return len(self.pool)
}
