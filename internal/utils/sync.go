package utils

import (
	"sync"
)

// OptionalMutex only locks when it was created with useMutex set. Arenas and engines created
// with an externally-synchronized flag skip locking entirely.
type OptionalMutex struct {
	mutex    sync.Mutex
	useMutex bool
}

func NewOptionalMutex(useMutex bool) OptionalMutex {
	return OptionalMutex{useMutex: useMutex}
}

func (m *OptionalMutex) Lock() {
	if m.useMutex {
		m.mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.useMutex {
		m.mutex.Unlock()
	}
}

// Do runs fn while holding the lock
func (m *OptionalMutex) Do(fn func() error) error {
	m.Lock()
	defer m.Unlock()

	return fn()
}

type OptionalRWMutex struct {
	mutex    sync.RWMutex
	useMutex bool
}

func NewOptionalRWMutex(useMutex bool) OptionalRWMutex {
	return OptionalRWMutex{useMutex: useMutex}
}

func (m *OptionalRWMutex) Lock() {
	if m.useMutex {
		m.mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.useMutex {
		m.mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.useMutex {
		m.mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.useMutex {
		m.mutex.RUnlock()
	}
}
