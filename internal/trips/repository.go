package trips

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tripseat/internal/shared/apperr"

	"gorm.io/gorm"
)

// ErrTripExists is returned by Create for a taken trip ID
var ErrTripExists = errors.New("trip already exists")

type Repository interface {
	Create(ctx context.Context, trip *Trip) error
	GetByID(ctx context.Context, id string) (*Trip, error)
	GetAll(ctx context.Context, query TripListQuery) ([]Trip, int64, error)
	ListIDs(ctx context.Context) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status TripStatus) (*Trip, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, trip *Trip) error {
	if err := r.db.WithContext(ctx).Create(trip).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("trip %s: %w", trip.ID, ErrTripExists)
		}
		return fmt.Errorf("failed to create trip: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*Trip, error) {
	var trip Trip
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trip).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("trip %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &trip, nil
}

func (r *repository) GetAll(ctx context.Context, query TripListQuery) ([]Trip, int64, error) {
	var trips []Trip
	var totalCount int64

	db := r.db.WithContext(ctx).Model(&Trip{})
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}

	if err := db.Count(&totalCount).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trips: %w", err)
	}

	offset := (query.Page - 1) * query.Limit
	if err := db.Order("departure_at ASC, id ASC").Offset(offset).Limit(query.Limit).Find(&trips).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list trips: %w", err)
	}
	return trips, totalCount, nil
}

// ListIDs returns trips that can still have live bookings
func (r *repository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Trip{}).
		Where("status <> ?", TripStatusCancelled).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trip ids: %w", err)
	}
	return ids, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id string, status TripStatus) (*Trip, error) {
	res := r.db.WithContext(ctx).Model(&Trip{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update trip: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("trip %s: %w", id, apperr.ErrNotFound)
	}
	return r.GetByID(ctx, id)
}

// MemoryRepository keeps trips in process
type MemoryRepository struct {
	mu    sync.RWMutex
	trips map[string]Trip
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{trips: make(map[string]Trip)}
}

func (m *MemoryRepository) Create(ctx context.Context, trip *Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[trip.ID]; ok {
		return fmt.Errorf("trip %s: %w", trip.ID, ErrTripExists)
	}
	now := time.Now()
	trip.CreatedAt, trip.UpdatedAt = now, now
	if trip.Status == "" {
		trip.Status = TripStatusScheduled
	}
	m.trips[trip.ID] = *trip
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trip, ok := m.trips[id]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", id, apperr.ErrNotFound)
	}
	return &trip, nil
}

func (m *MemoryRepository) sorted(filter func(Trip) bool) []Trip {
	out := make([]Trip, 0, len(m.trips))
	for _, t := range m.trips {
		if filter(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DepartureAt.Equal(out[j].DepartureAt) {
			return out[i].DepartureAt.Before(out[j].DepartureAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryRepository) GetAll(ctx context.Context, query TripListQuery) ([]Trip, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sorted(func(t Trip) bool {
		return query.Status == "" || string(t.Status) == query.Status
	})
	total := int64(len(all))
	start := (query.Page - 1) * query.Limit
	if start >= len(all) {
		return []Trip{}, total, nil
	}
	end := start + query.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *MemoryRepository) ListIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.trips))
	for id, t := range m.trips {
		if t.Status != TripStatusCancelled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryRepository) UpdateStatus(ctx context.Context, id string, status TripStatus) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[id]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", id, apperr.ErrNotFound)
	}
	trip.Status = status
	trip.UpdatedAt = time.Now()
	m.trips[id] = trip
	return &trip, nil
}
