package calendar

import "sync"

// eventLocks hands out one mutex per event id. Entries are dropped once no
// goroutine holds or waits for them.
type eventLocks struct {
	mu    sync.Mutex
	locks map[int64]*eventLock
}

type eventLock struct {
	sync.Mutex
	refs int
}

func newEventLocks() *eventLocks {
	return &eventLocks{locks: make(map[int64]*eventLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (l *eventLocks) lock(id int64) (unlock func()) {
	l.mu.Lock()
	el, ok := l.locks[id]
	if !ok {
		el = &eventLock{}
		l.locks[id] = el
	}
	el.refs++
	l.mu.Unlock()

	el.Lock()
	return func() {
		el.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
