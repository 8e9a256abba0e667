package reservation

import (
	"sync"

	"github.com/avolkhin/movie-seat-reservations/internal/domain"
)

// keyMutex serializes transitions per seat without blocking unrelated seats.
// Entries are refcounted and dropped once idle so the table does not grow
// with the keyspace.
type keyMutex struct {
	mu    sync.Mutex
	locks map[domain.SeatKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[domain.SeatKey]*keyLock)}
}

// Lock blocks until the seat's lock is acquired and returns the release
// function, which must be called exactly once.
func (k *keyMutex) Lock(key domain.SeatKey) (unlock func()) {
	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
