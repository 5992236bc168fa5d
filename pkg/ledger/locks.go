package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// planLocks hands out one mutex per plan ID. Entries are reference counted
// and dropped once nobody holds or waits for them.
type planLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*planLock
}

type planLock struct {
	sync.Mutex
	refs int
}

func newPlanLocks() *planLocks {
	return &planLocks{locks: make(map[uuid.UUID]*planLock)}
}

// lock blocks until the caller is the only writer for id and returns the
// matching unlock function.
func (p *planLocks) lock(id uuid.UUID) func() {
	p.mu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &planLock{}
		p.locks[id] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, id)
		}
		p.mu.Unlock()
	}
}
