package mongo

import (
	"context"
	"time"

	"github.com/avolkhin/movie-seat-reservations/internal/domain"
	"github.com/avolkhin/movie-seat-reservations/internal/observability"
	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SeatStore persists seats inside one document per movie, the same layout the
// catalog uses: {_id, title, seats: [{number, state, holder_id, ...}]}.
// Every mutation is a compare-and-set expressed as an $elemMatch filter on the
// expected (state, holder_id) pair with a positional update, so a concurrent
// writer shows up as a matched count of zero rather than a lost update.
type SeatStore struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewSeatStore(db *mongo.Database, logger observability.Logger) *SeatStore {
	return &SeatStore{
		coll:   db.Collection("movies"),
		logger: logger,
	}
}

type MovieDoc struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	Seats     []SeatDoc `bson:"seats"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type SeatDoc struct {
	Number        string    `bson:"number"`
	State         string    `bson:"state"`
	HolderID      string    `bson:"holder_id"`
	HoldExpiresAt time.Time `bson:"hold_expires_at"`
}

func (d SeatDoc) record() domain.SeatRecord {
	return domain.SeatRecord{
		SeatNumber:    d.Number,
		State:         domain.SeatState(d.State),
		HolderID:      d.HolderID,
		HoldExpiresAt: d.HoldExpiresAt,
	}
}

func (s *SeatStore) InsertMovie(ctx context.Context, doc MovieDoc) error {
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()
	_, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		s.logger.WithError(err).Error("failed to insert movie")
		return errors.Mark(errors.Wrap(err, "insert movie"), domain.ErrStoreUnavailable)
	}
	return nil
}

func (s *SeatStore) GetSeat(ctx context.Context, key domain.SeatKey) (domain.SeatRecord, error) {
	start := time.Now()
	defer func() { observability.StoreOpDuration.Observe(time.Since(start).Seconds()) }()

	var doc MovieDoc
	opts := options.FindOne().SetProjection(bson.M{
		"seats": bson.M{"$elemMatch": bson.M{"number": key.SeatNumber}},
	})
	err := s.coll.FindOne(ctx, bson.M{"_id": key.MovieID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.SeatRecord{}, domain.ErrNotFound
	}
	if err != nil {
		s.logger.WithError(err).Error("failed to get seat")
		return domain.SeatRecord{}, errors.Mark(errors.Wrap(err, "get seat"), domain.ErrStoreUnavailable)
	}
	if len(doc.Seats) == 0 {
		return domain.SeatRecord{}, domain.ErrNotFound
	}
	return doc.Seats[0].record(), nil
}

// CompareAndSetSeat writes next only if the seat still matches expected.
// A mismatch returns (false, nil): losing a race is routine, not an error.
func (s *SeatStore) CompareAndSetSeat(ctx context.Context, key domain.SeatKey, expected, next domain.SeatUpdate) (bool, error) {
	start := time.Now()
	defer func() { observability.StoreOpDuration.Observe(time.Since(start).Seconds()) }()

	filter := bson.M{
		"_id": key.MovieID,
		"seats": bson.M{"$elemMatch": bson.M{
			"number":    key.SeatNumber,
			"state":     string(expected.State),
			"holder_id": expected.HolderID,
		}},
	}
	update := bson.M{"$set": bson.M{
		"seats.$.state":           string(next.State),
		"seats.$.holder_id":       next.HolderID,
		"seats.$.hold_expires_at": next.HoldExpiresAt,
		"updated_at":              time.Now(),
	}}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		s.logger.WithError(err).Error("failed to compare-and-set seat")
		return false, errors.Mark(errors.Wrap(err, "compare-and-set seat"), domain.ErrStoreUnavailable)
	}
	return res.MatchedCount == 1, nil
}

func (s *SeatStore) ListSeats(ctx context.Context, movieID string) ([]domain.SeatRecord, error) {
	var doc MovieDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": movieID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		s.logger.WithError(err).Error("failed to list seats")
		return nil, errors.Mark(errors.Wrap(err, "list seats"), domain.ErrStoreUnavailable)
	}

	records := make([]domain.SeatRecord, 0, len(doc.Seats))
	for _, seat := range doc.Seats {
		records = append(records, seat.record())
	}
	return records, nil
}

// FindExpiredHeldSeats returns up to limit held seats with a deadline at or
// before now. Used by the sweeper to reclaim holds whose owning process died
// before its release timer fired.
func (s *SeatStore) FindExpiredHeldSeats(ctx context.Context, now time.Time, limit int) ([]domain.ExpiredHold, error) {
	filter := bson.M{"seats": bson.M{"$elemMatch": bson.M{
		"state":           string(domain.SeatHeld),
		"hold_expires_at": bson.M{"$lte": now},
	}}}

	cursor, err := s.coll.Find(ctx, filter)
	if err != nil {
		s.logger.WithError(err).Error("failed to find expired holds")
		return nil, errors.Mark(errors.Wrap(err, "find expired holds"), domain.ErrStoreUnavailable)
	}
	defer cursor.Close(ctx)

	var expired []domain.ExpiredHold
	for cursor.Next(ctx) {
		var doc MovieDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode movie"), domain.ErrStoreUnavailable)
		}
		for _, seat := range doc.Seats {
			if domain.SeatState(seat.State) != domain.SeatHeld || seat.HoldExpiresAt.After(now) {
				continue
			}
			expired = append(expired, domain.ExpiredHold{
				Key:       domain.SeatKey{MovieID: doc.ID, SeatNumber: seat.Number},
				HolderID:  seat.HolderID,
				ExpiresAt: seat.HoldExpiresAt,
			})
			if len(expired) == limit {
				return expired, nil
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "iterate expired holds"), domain.ErrStoreUnavailable)
	}
	return expired, nil
}
