package mongo

import (
	"context"
	"time"

	"github.com/avolkhin/movie-seat-reservations/internal/domain"
	"github.com/avolkhin/movie-seat-reservations/internal/observability"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	HolderID  string    `bson:"holder_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, holderID string, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		HolderID:  holderID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogHoldCreated(ctx context.Context, ticket domain.HoldTicket) error {
	data := map[string]interface{}{
		"movie_id":    ticket.Key.MovieID,
		"seat_number": ticket.Key.SeatNumber,
		"expires_at":  ticket.ExpiresAt.Format(time.RFC3339),
	}
	return a.LogEvent(ctx, "hold.created", ticket.HolderID, data)
}

func (a *AuditLogger) LogHoldConfirmed(ctx context.Context, key domain.SeatKey, holderID string) error {
	data := map[string]interface{}{
		"movie_id":    key.MovieID,
		"seat_number": key.SeatNumber,
	}
	return a.LogEvent(ctx, "hold.confirmed", holderID, data)
}

func (a *AuditLogger) LogHoldReleased(ctx context.Context, key domain.SeatKey, holderID, reason string) error {
	data := map[string]interface{}{
		"movie_id":    key.MovieID,
		"seat_number": key.SeatNumber,
		"reason":      reason,
	}
	return a.LogEvent(ctx, "hold.released", holderID, data)
}
