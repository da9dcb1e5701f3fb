package esclient

import (
	"context"
	"sync"
)

// completion is a single-shot future keyed by correlation id. Exactly one of
// resolve or reject takes effect; a second attempt is reported back to the
// caller as an invariant violation rather than applied.
type completion[T any] struct {
	mutex    sync.Mutex
	done     chan struct{}
	resolved bool
	value    T
	err      error
}

func newCompletion[T any]() *completion[T] {
	return &completion[T]{
		done: make(chan struct{}),
	}
}

func (self *completion[T]) resolve(value T) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.resolved {
		return false
	}
	self.resolved = true
	self.value = value
	close(self.done)
	return true
}

func (self *completion[T]) reject(err error) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.resolved {
		return false
	}
	self.resolved = true
	self.err = err
	close(self.done)
	return true
}

func (self *completion[T]) await(ctx context.Context) (T, error) {
	select {
	case <-self.done:
		return self.value, self.err
	case <-ctx.Done():
		var empty T
		return empty, ctx.Err()
	}
}

// multi-producer queue drained whole by the pump loop each tick
type packageQueue struct {
	mutex    sync.Mutex
	packages []*Package
}

func (self *packageQueue) enqueue(pkg *Package) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.packages = append(self.packages, pkg)
}

func (self *packageQueue) drain() []*Package {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	packages := self.packages
	self.packages = nil
	return packages
}
