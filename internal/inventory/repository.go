package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tripseat/internal/shared/apperr"
	"tripseat/pkg/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore persists seats in the seats table. The swap is a single
// conditional UPDATE on (trip_id, seat_number, version), so no row lock is
// held across calls.
type PostgresStore struct {
	db   *gorm.DB
	opts options
}

// NewPostgresStore creates a gorm-backed store
func NewPostgresStore(db *gorm.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: buildOptions(opts)}
}

func (r *PostgresStore) ProvisionTrip(ctx context.Context, tripID string, capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", apperr.ErrValidation)
	}

	now := r.opts.now()
	seats := make([]Seat, capacity)
	for i := range seats {
		seats[i] = Seat{TripID: tripID, SeatNumber: i + 1, State: StateAvailable, Version: 1, UpdatedAt: now}
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&seats, 200).Error
	if err != nil {
		return fmt.Errorf("failed to provision seats: %w", err)
	}
	return nil
}

func (r *PostgresStore) GetSeats(ctx context.Context, tripID string) ([]Seat, error) {
	var seats []Seat
	err := r.db.WithContext(ctx).
		Where("trip_id = ?", tripID).
		Order("seat_number ASC").
		Find(&seats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get seats: %w", err)
	}
	if len(seats) == 0 {
		return nil, tripNotFound(tripID)
	}
	return seats, nil
}

func (r *PostgresStore) ReadSeat(ctx context.Context, tripID string, seatNumber int) (Seat, error) {
	var seat Seat
	err := r.db.WithContext(ctx).
		Where("trip_id = ? AND seat_number = ?", tripID, seatNumber).
		First(&seat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Seat{}, seatNotFound(tripID, seatNumber)
		}
		return Seat{}, fmt.Errorf("failed to read seat: %w", err)
	}
	return seat, nil
}

func (r *PostgresStore) CompareAndSwap(ctx context.Context, tripID string, seatNumber int, expectedVersion int64, next Transition) (Seat, error) {
	if err := validateTransition(next); err != nil {
		return Seat{}, err
	}

	now := r.opts.now()
	updated := next.apply(Seat{TripID: tripID, SeatNumber: seatNumber, Version: expectedVersion}, now)

	start := time.Now()
	res := r.db.WithContext(ctx).
		Model(&Seat{}).
		Where("trip_id = ? AND seat_number = ? AND version = ?", tripID, seatNumber, expectedVersion).
		Updates(map[string]interface{}{
			"state":      updated.State,
			"version":    updated.Version,
			"owner":      updated.Owner,
			"held_until": updated.HeldUntil,
			"updated_at": updated.UpdatedAt,
		})
	logger.GetDefault().LogDBQuery(ctx, "seat compare-and-swap", time.Since(start), res.Error)
	if res.Error != nil {
		return Seat{}, fmt.Errorf("failed to swap seat: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Either the seat does not exist or someone else moved it first.
		if _, err := r.ReadSeat(ctx, tripID, seatNumber); err != nil {
			return Seat{}, err
		}
		return Seat{}, fmt.Errorf("seat %d on trip %s not at version %d: %w",
			seatNumber, tripID, expectedVersion, apperr.ErrVersionConflict)
	}

	r.opts.publisher.Publish(ctx, updated.Delta(now))
	return updated, nil
}
