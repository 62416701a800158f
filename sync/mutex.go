package sync

import (
	"sync"

	"github.com/petermattis/goid"
)

// Mutex is a re-entrant mutual exclusion lock. The goroutine holding it may
// lock it again; every Lock must be paired with an Unlock on that goroutine.
type Mutex struct {
	state sync.Mutex
	lock  sync.Mutex
	owner int64
	depth int
}

func (m *Mutex) Lock() {
	id := goid.Get()

	m.state.Lock()
	if m.depth > 0 && m.owner == id {
		m.depth++
		m.state.Unlock()
		return
	}
	m.state.Unlock()

	m.lock.Lock()

	m.state.Lock()
	m.owner = id
	m.depth = 1
	m.state.Unlock()
}

func (m *Mutex) Unlock() {
	id := goid.Get()

	m.state.Lock()
	if m.depth == 0 || m.owner != id {
		m.state.Unlock()
		panic("sync: unlock of unowned re-entrant mutex")
	}

	m.depth--
	if m.depth > 0 {
		m.state.Unlock()
		return
	}

	m.owner = 0
	m.state.Unlock()
	m.lock.Unlock()
}

// Held reports whether the calling goroutine owns the lock.
func (m *Mutex) Held() bool {
	id := goid.Get()

	m.state.Lock()
	defer m.state.Unlock()

	return m.depth > 0 && m.owner == id
}
