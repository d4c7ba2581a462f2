package common

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lazy memoizes the first successful construction of a shared resource
// (hashing engine state, storage clients). Concurrent first-users share one
// in-flight construction instead of each taking a lock and building their
// own; a failed construction is not memoized, so the next caller retries.
type Lazy[T any] struct {
	build func() (T, error)

	group singleflight.Group
	mu    sync.RWMutex
	value T
	ready bool
}

// NewLazy wraps a constructor. The constructor runs at most once
// successfully for the lifetime of the Lazy.
func NewLazy[T any](build func() (T, error)) *Lazy[T] {
	return &Lazy[T]{build: build}
}

// Get returns the memoized value, constructing it on first use.
func (l *Lazy[T]) Get() (T, error) {
	l.mu.RLock()
	if l.ready {
		v := l.value
		l.mu.RUnlock()
		return v, nil
	}
	l.mu.RUnlock()

	v, err, _ := l.group.Do("init", func() (interface{}, error) {
		l.mu.RLock()
		if l.ready {
			v := l.value
			l.mu.RUnlock()
			return v, nil
		}
		l.mu.RUnlock()

		built, err := l.build()
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		l.value = built
		l.ready = true
		l.mu.Unlock()
		return built, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
