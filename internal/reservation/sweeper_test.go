package reservation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/avolkhin/movie-seat-reservations/internal/domain"
)

type memScanner struct {
	store *memStore
}

func (s memScanner) FindExpiredHeldSeats(ctx context.Context, now time.Time, limit int) ([]domain.ExpiredHold, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	var expired []domain.ExpiredHold
	for key, rec := range s.store.seats {
		if rec.State != domain.SeatHeld || rec.HoldExpiresAt.After(now) {
			continue
		}
		expired = append(expired, domain.ExpiredHold{Key: key, HolderID: rec.HolderID, ExpiresAt: rec.HoldExpiresAt})
		if len(expired) == limit {
			break
		}
	}
	return expired, nil
}

func TestSweeper_ReleasesOrphanedHolds(t *testing.T) {
	a2 := domain.SeatKey{MovieID: "movie-1", SeatNumber: "A2"}
	store := newMemStore(seatA1, a2)
	m := newTestManager(store)

	store.mu.Lock()
	for i, key := range []domain.SeatKey{seatA1, a2} {
		store.seats[key] = domain.SeatRecord{
			SeatNumber:    key.SeatNumber,
			State:         domain.SeatHeld,
			HolderID:      fmt.Sprintf("gone-%d", i),
			HoldExpiresAt: time.Now().Add(-time.Minute),
		}
	}
	store.mu.Unlock()

	s := NewSweeper(m, memScanner{store}, m.logger, time.Minute)
	s.Sweep(context.Background(), time.Now())

	for _, key := range []domain.SeatKey{seatA1, a2} {
		if rec := store.state(key); rec.State != domain.SeatFree {
			t.Errorf("seat %s not reclaimed: %+v", key, rec)
		}
	}
}

func TestSweeper_LeavesLiveHoldsAlone(t *testing.T) {
	store := newMemStore(seatA1)
	m := newTestManager(store)

	if _, err := m.TryHold(context.Background(), seatA1, "u1", time.Minute); err != nil {
		t.Fatal(err)
	}

	s := NewSweeper(m, memScanner{store}, m.logger, time.Minute)
	s.Sweep(context.Background(), time.Now())

	if rec := store.state(seatA1); rec.State != domain.SeatHeld {
		t.Errorf("live hold swept away: %+v", rec)
	}
}
