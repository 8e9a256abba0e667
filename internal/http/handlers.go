package http

import (
	"encoding/json"
	"net/http"
	"time"

	mongoadapter "github.com/avolkhin/movie-seat-reservations/internal/adapters/mongo"
	redisadapter "github.com/avolkhin/movie-seat-reservations/internal/adapters/redis"
	"github.com/avolkhin/movie-seat-reservations/internal/config"
	"github.com/avolkhin/movie-seat-reservations/internal/domain"
	"github.com/avolkhin/movie-seat-reservations/internal/observability"
	"github.com/avolkhin/movie-seat-reservations/internal/reservation"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	cfg     *config.Config
	manager *reservation.Manager
	seats   *mongoadapter.SeatStore
	cache   *redisadapter.Cache
	idemp   *redisadapter.Idempotency
	audit   *mongoadapter.AuditLogger
	logger  observability.Logger
}

func NewHandlers(cfg *config.Config, manager *reservation.Manager, seats *mongoadapter.SeatStore, cache *redisadapter.Cache, idemp *redisadapter.Idempotency, audit *mongoadapter.AuditLogger, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:     cfg,
		manager: manager,
		seats:   seats,
		cache:   cache,
		idemp:   idemp,
		audit:   audit,
		logger:  logger,
	}
}

func seatKeyFromRequest(r *http.Request) domain.SeatKey {
	return domain.SeatKey{
		MovieID:    chi.URLParam(r, "movieID"),
		SeatNumber: chi.URLParam(r, "seatNumber"),
	}
}

func statusFromErr(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "seat not found"
	case errors.Is(err, domain.ErrSeatUnavailable):
		return http.StatusConflict, "seat unavailable"
	case errors.Is(err, domain.ErrHolderMismatch):
		return http.StatusConflict, "seat held by another holder"
	case errors.Is(err, domain.ErrHoldExpired):
		return http.StatusGone, "hold expired"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store unavailable"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (h *Handlers) HoldSeat(w http.ResponseWriter, r *http.Request) {
	idempKey := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), idempKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		HolderID    string `json:"holder_id"`
		HoldSeconds int    `json:"hold_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.HolderID == "" {
		http.Error(w, "holder_id is required", http.StatusBadRequest)
		return
	}
	if req.HoldSeconds < 0 {
		http.Error(w, "hold_seconds must not be negative", http.StatusBadRequest)
		return
	}

	ttl := h.cfg.HoldTTL
	if req.HoldSeconds > 0 {
		ttl = time.Duration(req.HoldSeconds) * time.Second
	}
	key := seatKeyFromRequest(r)

	// Cross-instance guard; the key's TTL matches the hold deadline. The
	// durable compare-and-set below remains the arbiter, so a redis outage
	// only loses the fast path.
	locked, err := h.cache.SetHoldLock(r.Context(), key.MovieID, key.SeatNumber, req.HolderID, ttl)
	if err != nil {
		h.logger.WithError(err).Warn("hold lock unavailable, falling through to store")
	} else if !locked {
		http.Error(w, "seat unavailable", http.StatusConflict)
		return
	}

	ticket, err := h.manager.TryHold(r.Context(), key, req.HolderID, ttl)
	if err != nil {
		if !errors.Is(err, domain.ErrSeatUnavailable) {
			h.cache.ReleaseHoldLock(r.Context(), key.MovieID, key.SeatNumber)
		}
		code, msg := statusFromErr(err)
		http.Error(w, msg, code)
		return
	}

	if err := h.audit.LogHoldCreated(r.Context(), ticket); err != nil {
		h.logger.WithError(err).Warn("failed to audit hold")
	}

	resp := map[string]interface{}{
		"movie_id":    ticket.Key.MovieID,
		"seat_number": ticket.Key.SeatNumber,
		"holder_id":   ticket.HolderID,
		"expires_at":  ticket.ExpiresAt.Format(time.RFC3339),
	}
	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	h.idemp.Set(r.Context(), idempKey, redisadapter.IdempResponse{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) ConfirmSeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HolderID string `json:"holder_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := seatKeyFromRequest(r)

	if err := h.manager.Confirm(r.Context(), key, req.HolderID); err != nil {
		code, msg := statusFromErr(err)
		http.Error(w, msg, code)
		return
	}

	if err := h.audit.LogHoldConfirmed(r.Context(), key, req.HolderID); err != nil {
		h.logger.WithError(err).Warn("failed to audit confirm")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "booked"})
}

func (h *Handlers) CancelSeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HolderID string `json:"holder_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := seatKeyFromRequest(r)

	if err := h.manager.Cancel(r.Context(), key, req.HolderID); err != nil {
		code, msg := statusFromErr(err)
		http.Error(w, msg, code)
		return
	}
	h.cache.ReleaseHoldLock(r.Context(), key.MovieID, key.SeatNumber)

	if err := h.audit.LogHoldReleased(r.Context(), key, req.HolderID, "cancelled"); err != nil {
		h.logger.WithError(err).Warn("failed to audit cancel")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
}

func (h *Handlers) ListSeats(w http.ResponseWriter, r *http.Request) {
	movieID := chi.URLParam(r, "movieID")

	records, err := h.seats.ListSeats(r.Context(), movieID)
	if err != nil {
		code, msg := statusFromErr(err)
		if code == http.StatusNotFound {
			msg = "movie not found"
		}
		http.Error(w, msg, code)
		return
	}

	resp := make([]map[string]string, 0, len(records))
	for _, rec := range records {
		resp = append(resp, map[string]string{
			"seat_number": rec.SeatNumber,
			"state":       string(rec.State),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
