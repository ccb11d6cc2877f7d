package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tripseat/internal/shared/apperr"
	"tripseat/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists bookings and operation receipts
type Repository interface {
	// Create inserts a new booking. It returns ErrDuplicateKey when the
	// idempotency key is already taken.
	Create(ctx context.Context, booking *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Booking, error)
	GetByTicketRef(ctx context.Context, ref string) (*Booking, error)
	ListByTrip(ctx context.Context, tripID string) ([]Booking, error)

	// Update writes booking if its stored revision still equals
	// expectedRevision and bumps the revision. ErrStale otherwise.
	Update(ctx context.Context, booking *Booking, expectedRevision int64) error

	// UpdateWithReceipt is Update plus the receipt of the intent that caused
	// it, written in the same transaction. A nil receipt makes it Update.
	UpdateWithReceipt(ctx context.Context, booking *Booking, expectedRevision int64, receipt *OperationReceipt) error

	// Sweep queries
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Booking, error)
	ListNoShowsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error)

	// Receipts
	GetReceipt(ctx context.Context, key string) (*OperationReceipt, error)
	SaveReceipt(ctx context.Context, receipt *OperationReceipt) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed booking repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, booking *Booking) error {
	err := r.db.WithContext(ctx).Create(booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("booking %s: %w", booking.IdempotencyKey, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (r *repository) first(ctx context.Context, query string, args ...interface{}) (*Booking, error) {
	var booking Booking
	err := r.db.WithContext(ctx).Where(query, args...).First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("booking: %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *repository) GetByIdempotencyKey(ctx context.Context, key string) (*Booking, error) {
	return r.first(ctx, "idempotency_key = ?", key)
}

func (r *repository) GetByTicketRef(ctx context.Context, ref string) (*Booking, error) {
	return r.first(ctx, "ticket_ref = ?", ref)
}

func (r *repository) ListByTrip(ctx context.Context, tripID string) ([]Booking, error) {
	var bookings []Booking
	err := r.db.WithContext(ctx).
		Where("trip_id = ?", tripID).
		Order("created_at ASC").
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

func (r *repository) Update(ctx context.Context, booking *Booking, expectedRevision int64) error {
	return r.UpdateWithReceipt(ctx, booking, expectedRevision, nil)
}

func (r *repository) UpdateWithReceipt(ctx context.Context, booking *Booking, expectedRevision int64, receipt *OperationReceipt) error {
	start := time.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Booking{}).
			Where("id = ? AND revision = ?", booking.ID, expectedRevision).
			Updates(map[string]interface{}{
				"trip_id":           booking.TripID,
				"seats":             booking.Seats,
				"status":            booking.Status,
				"cancel_reason":     booking.CancelReason,
				"held_until":        booking.HeldUntil,
				"seats_released_at": booking.SeatsReleasedAt,
				"status_changed_at": booking.StatusChangedAt,
				"updated_at":        booking.UpdatedAt,
				"revision":          expectedRevision + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update booking: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("booking %s at revision %d: %w", booking.ID, expectedRevision, ErrStale)
		}
		if receipt == nil {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(receipt).Error; err != nil {
			return fmt.Errorf("failed to save receipt: %w", err)
		}
		return nil
	})
	logger.GetDefault().LogDBQuery(ctx, "booking conditional update", time.Since(start), err)
	if err != nil {
		return err
	}
	booking.Revision = expectedRevision + 1
	return nil
}

func (r *repository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Booking, error) {
	var bookings []Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND held_until <= ?", StatusHeld, now).
		Order("held_until ASC").
		Limit(limit).
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	return bookings, nil
}

func (r *repository) ListNoShowsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error) {
	var bookings []Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND seats_released_at IS NULL AND status_changed_at <= ?", StatusNoShow, cutoff).
		Order("status_changed_at ASC").
		Limit(limit).
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list no-shows: %w", err)
	}
	return bookings, nil
}

func (r *repository) GetReceipt(ctx context.Context, key string) (*OperationReceipt, error) {
	var receipt OperationReceipt
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("receipt: %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return &receipt, nil
}

func (r *repository) SaveReceipt(ctx context.Context, receipt *OperationReceipt) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(receipt).Error
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}
