package reservation

import (
	"context"
	"sync"
	"time"

	"github.com/avolkhin/movie-seat-reservations/internal/domain"
	"github.com/avolkhin/movie-seat-reservations/internal/observability"
	"github.com/cockroachdb/errors"
)

// SeatStore is the persistent seat state. Every mutation goes through
// CompareAndSetSeat; the store is the final arbiter when several manager
// instances race on the same seat.
type SeatStore interface {
	GetSeat(ctx context.Context, key domain.SeatKey) (domain.SeatRecord, error)
	CompareAndSetSeat(ctx context.Context, key domain.SeatKey, expected, next domain.SeatUpdate) (bool, error)
}

// EventPublisher receives hold lifecycle events. May be nil.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, payload interface{}) error
}

type pendingHold struct {
	holderID string
	deadline time.Time
	timer    *time.Timer
}

// Manager grants exclusive, time-bounded holds on seats. Transitions for a
// given seat are serialized through a per-key mutex; a hold that is neither
// confirmed nor cancelled is released by its timer, guarded on the holder id
// so a raced confirm can never be undone.
type Manager struct {
	store  SeatStore
	events EventPublisher
	logger observability.Logger
	keys   *keyMutex

	mu      sync.Mutex
	pending map[domain.SeatKey]*pendingHold

	maxRetries int
	retryBase  time.Duration
}

func NewManager(store SeatStore, events EventPublisher, logger observability.Logger) *Manager {
	return &Manager{
		store:      store,
		events:     events,
		logger:     logger,
		keys:       newKeyMutex(),
		pending:    make(map[domain.SeatKey]*pendingHold),
		maxRetries: 3,
		retryBase:  time.Second,
	}
}

// TryHold attempts an atomic Free -> Held transition and arms the release
// timer. Exactly one of several concurrent callers on the same seat wins;
// the rest get ErrSeatUnavailable.
func (m *Manager) TryHold(ctx context.Context, key domain.SeatKey, holderID string, ttl time.Duration) (domain.HoldTicket, error) {
	if holderID == "" || ttl <= 0 {
		return domain.HoldTicket{}, domain.ErrInvalidInput
	}

	unlock := m.keys.Lock(key)
	defer unlock()

	rec, err := m.store.GetSeat(ctx, key)
	if err != nil {
		return domain.HoldTicket{}, err
	}
	if rec.State != domain.SeatFree {
		observability.HoldsTotal.WithLabelValues("conflict").Inc()
		return domain.HoldTicket{}, domain.ErrSeatUnavailable
	}

	deadline := time.Now().Add(ttl)
	ok, err := m.store.CompareAndSetSeat(ctx, key,
		domain.SeatUpdate{State: domain.SeatFree},
		domain.SeatUpdate{State: domain.SeatHeld, HolderID: holderID, HoldExpiresAt: deadline},
	)
	if err != nil {
		return domain.HoldTicket{}, err
	}
	if !ok {
		// Another instance won between our read and the write.
		observability.StoreCASFailures.Inc()
		observability.HoldsTotal.WithLabelValues("conflict").Inc()
		return domain.HoldTicket{}, domain.ErrSeatUnavailable
	}

	m.mu.Lock()
	if old := m.pending[key]; old != nil {
		old.timer.Stop()
		observability.ActiveHolds.Dec()
	}
	p := &pendingHold{holderID: holderID, deadline: deadline}
	p.timer = time.AfterFunc(ttl, func() { m.expire(key, holderID) })
	m.pending[key] = p
	m.mu.Unlock()
	observability.ActiveHolds.Inc()
	observability.HoldsTotal.WithLabelValues("granted").Inc()

	m.publish(ctx, "hold.created", key, holderID)
	return domain.HoldTicket{Key: key, HolderID: holderID, ExpiresAt: deadline}, nil
}

// Confirm converts a live hold into a permanent booking and disarms its
// release timer before returning.
func (m *Manager) Confirm(ctx context.Context, key domain.SeatKey, holderID string) error {
	if holderID == "" {
		return domain.ErrInvalidInput
	}

	unlock := m.keys.Lock(key)
	defer unlock()

	m.mu.Lock()
	p := m.pending[key]
	m.mu.Unlock()

	if p == nil || p.holderID != holderID {
		// No live hold for this caller: it expired, was cancelled, or the
		// seat is held by someone else now.
		rec, err := m.store.GetSeat(ctx, key)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err == nil && rec.State == domain.SeatHeld && rec.HolderID != holderID {
			return domain.ErrHolderMismatch
		}
		return domain.ErrHoldExpired
	}

	ok, err := m.store.CompareAndSetSeat(ctx, key,
		domain.SeatUpdate{State: domain.SeatHeld, HolderID: holderID},
		domain.SeatUpdate{State: domain.SeatBooked, HolderID: holderID},
	)
	if err != nil {
		return err
	}
	if !ok {
		// Another instance reclaimed the hold under us.
		observability.StoreCASFailures.Inc()
		m.discard(key, p)
		return domain.ErrHoldExpired
	}

	m.discard(key, p)
	m.publish(ctx, "hold.confirmed", key, holderID)
	return nil
}

// Cancel releases a hold early. It is idempotent: cancelling a hold that
// already expired, was confirmed, or never existed is a no-op success.
func (m *Manager) Cancel(ctx context.Context, key domain.SeatKey, holderID string) error {
	if holderID == "" {
		return domain.ErrInvalidInput
	}

	unlock := m.keys.Lock(key)
	defer unlock()

	// Attempt the release even without a local pending hold: the hold may
	// have been granted by another instance.
	ok, err := m.store.CompareAndSetSeat(ctx, key,
		domain.SeatUpdate{State: domain.SeatHeld, HolderID: holderID},
		domain.SeatUpdate{State: domain.SeatFree},
	)
	if err != nil {
		return err
	}

	m.mu.Lock()
	p := m.pending[key]
	m.mu.Unlock()
	if p != nil && p.holderID == holderID {
		m.discard(key, p)
	}

	if ok {
		m.publish(ctx, "hold.released", key, holderID)
	}
	return nil
}

// ReleaseExpired reclaims a held seat whose deadline passed, guarded on the
// holder id. Used by the sweeper for holds orphaned by a crashed process.
func (m *Manager) ReleaseExpired(ctx context.Context, key domain.SeatKey, holderID string) (bool, error) {
	unlock := m.keys.Lock(key)
	defer unlock()

	m.mu.Lock()
	p := m.pending[key]
	if p != nil && p.holderID == holderID && time.Now().Before(p.deadline) {
		// Live hold owned by this process; its own timer handles it.
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	ok, err := m.store.CompareAndSetSeat(ctx, key,
		domain.SeatUpdate{State: domain.SeatHeld, HolderID: holderID},
		domain.SeatUpdate{State: domain.SeatFree},
	)
	if err != nil {
		return false, err
	}
	if ok {
		if p != nil && p.holderID == holderID {
			m.discard(key, p)
		}
		observability.HoldExpiriesTotal.Inc()
		m.publish(ctx, "hold.expired", key, holderID)
	}
	return ok, nil
}

// ActiveHolds reports the number of pending holds armed in this process.
func (m *Manager) ActiveHolds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// expire runs on the release timer's goroutine. It takes the same per-key
// lock as the request paths, so a confirm or cancel that already resolved
// the hold turns the expiry into a no-op.
func (m *Manager) expire(key domain.SeatKey, holderID string) {
	unlock := m.keys.Lock(key)
	defer unlock()

	m.mu.Lock()
	p := m.pending[key]
	if p == nil || p.holderID != holderID {
		m.mu.Unlock()
		return
	}
	delete(m.pending, key)
	m.mu.Unlock()
	observability.ActiveHolds.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log := m.logger.WithField("seat", key.String()).WithField("holder_id", holderID)
	for attempt := 0; ; attempt++ {
		ok, err := m.store.CompareAndSetSeat(ctx, key,
			domain.SeatUpdate{State: domain.SeatHeld, HolderID: holderID},
			domain.SeatUpdate{State: domain.SeatFree},
		)
		if err == nil {
			if !ok {
				// A confirm or cancel on another instance got there first.
				observability.StoreCASFailures.Inc()
				return
			}
			observability.HoldExpiriesTotal.Inc()
			log.Info("hold expired, seat released")
			m.publish(ctx, "hold.expired", key, holderID)
			return
		}
		if attempt+1 >= m.maxRetries {
			// The sweeper picks the seat up on its next pass.
			log.WithError(err).Error("failed to release expired hold")
			return
		}
		backoff := time.Duration(1<<attempt) * m.retryBase
		log.WithError(err).Warn("release failed, retrying")
		select {
		case <-ctx.Done():
			log.Error("gave up releasing expired hold: context done")
			return
		case <-time.After(backoff):
		}
	}
}

func (m *Manager) discard(key domain.SeatKey, p *pendingHold) {
	p.timer.Stop()
	m.mu.Lock()
	if cur := m.pending[key]; cur == p {
		delete(m.pending, key)
		observability.ActiveHolds.Dec()
	}
	m.mu.Unlock()
}

func (m *Manager) publish(ctx context.Context, event string, key domain.SeatKey, holderID string) {
	if m.events == nil {
		return
	}
	payload := map[string]interface{}{
		"movie_id":    key.MovieID,
		"seat_number": key.SeatNumber,
		"holder_id":   holderID,
	}
	if err := m.events.PublishJSON(ctx, event, payload); err != nil {
		m.logger.WithError(err).WithField("event", event).Warn("failed to publish event")
	}
}
