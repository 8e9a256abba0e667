package reservation

import (
	"sync"
	"testing"

	"github.com/avolkhin/movie-seat-reservations/internal/domain"
)

func TestKeyMutex_MutualExclusion(t *testing.T) {
	km := newKeyMutex()
	key := domain.SeatKey{MovieID: "m", SeatNumber: "A1"}

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("lost updates under key lock: counter = %d", counter)
	}
}

func TestKeyMutex_DropsIdleEntries(t *testing.T) {
	km := newKeyMutex()
	key := domain.SeatKey{MovieID: "m", SeatNumber: "A1"}

	unlock := km.Lock(key)
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	if len(km.locks) != 0 {
		t.Errorf("expected lock table to be empty, has %d entries", len(km.locks))
	}
}

func TestKeyMutex_IndependentKeys(t *testing.T) {
	km := newKeyMutex()
	a := domain.SeatKey{MovieID: "m", SeatNumber: "A1"}
	b := domain.SeatKey{MovieID: "m", SeatNumber: "B2"}

	unlockA := km.Lock(a)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock(b)
		unlockB()
		close(done)
	}()

	// Holding A must not block B.
	<-done
}
