package reminder

import (
	"sync"
	"time"
)

// FireFunc receives a trigger when it expires.
type FireFunc func(key int64, p Payload)

// LocalTimer is an in-process Timer backed by time.AfterFunc. Triggers do
// not survive a restart; the calendar service re-registers them on startup.
type LocalTimer struct {
	fire FireFunc

	mu      sync.Mutex
	seq     uint64
	pending map[int64]*pendingTrigger
}

type pendingTrigger struct {
	seq     uint64
	timer   *time.Timer
	payload Payload
}

func NewLocalTimer(fire FireFunc) *LocalTimer {
	return &LocalTimer{
		fire:    fire,
		pending: make(map[int64]*pendingTrigger),
	}
}

func (lt *LocalTimer) Register(key int64, at time.Time, payload Payload) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if old, ok := lt.pending[key]; ok {
		old.timer.Stop()
	}
	lt.seq++
	seq := lt.seq

	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	pt := &pendingTrigger{seq: seq, payload: payload}
	pt.timer = time.AfterFunc(d, func() { lt.expire(key, seq) })
	lt.pending[key] = pt
	return nil
}

func (lt *LocalTimer) Cancel(key int64) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	pt, ok := lt.pending[key]
	if !ok {
		return ErrNotRegistered
	}
	pt.timer.Stop()
	delete(lt.pending, key)
	return nil
}

// expire delivers the trigger unless it was cancelled or replaced after
// its timer had already started running.
func (lt *LocalTimer) expire(key int64, seq uint64) {
	lt.mu.Lock()
	pt, ok := lt.pending[key]
	if !ok || pt.seq != seq {
		lt.mu.Unlock()
		return
	}
	delete(lt.pending, key)
	lt.mu.Unlock()

	if lt.fire != nil {
		lt.fire(key, pt.payload)
	}
}

// Pending is the number of triggers that have not fired yet.
func (lt *LocalTimer) Pending() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.pending)
}

// Stop drops every pending trigger without firing it.
func (lt *LocalTimer) Stop() {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for key, pt := range lt.pending {
		pt.timer.Stop()
		delete(lt.pending, key)
	}
}
