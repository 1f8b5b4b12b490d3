package service

import "sync"

// reportLocks serializes work per report id. Generation for different
// reports proceeds in parallel; two runs for the same report never
// overlap, which is what makes edit-triggered re-scans safe without a
// global lock.
type reportLocks struct {
	mu    sync.Mutex
	locks map[string]*reportLock
}

type reportLock struct {
	mu   sync.Mutex
	refs int
}

func newReportLocks() *reportLocks {
	return &reportLocks{locks: make(map[string]*reportLock)}
}

// Lock acquires the lock for id and returns the matching unlock.
func (r *reportLocks) Lock(id string) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &reportLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}
