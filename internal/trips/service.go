package trips

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"tripseat/internal/inventory"
	"tripseat/internal/realtime"
	"tripseat/internal/shared/apperr"
	"tripseat/internal/shared/constants"
	"tripseat/pkg/cache"
	"tripseat/pkg/logger"
)

// SeatAdmin takes seats out of and back into sale
type SeatAdmin interface {
	BlockSeats(ctx context.Context, tripID string, seats []int) ([]inventory.Seat, error)
	UnblockSeats(ctx context.Context, tripID string, seats []int) ([]inventory.Seat, error)
}

// Reconciler repairs booking and seat disagreement on one trip
type Reconciler interface {
	Reconcile(ctx context.Context, tripID string) (int, error)
}

type Service interface {
	// CreateTrip registers a trip and provisions its seats. Repeating it
	// with the same capacity returns the existing trip with created false.
	CreateTrip(ctx context.Context, req CreateTripRequest) (trip *Trip, created bool, err error)
	GetTrip(ctx context.Context, tripID string) (*Trip, error)
	ListTrips(ctx context.Context, query TripListQuery) (*PaginatedTrips, error)
	ListTripIDs(ctx context.Context) ([]string, error)
	UpdateStatus(ctx context.Context, tripID string, status TripStatus) (*Trip, error)

	GetSeatMap(ctx context.Context, tripID string) (*inventory.SeatMap, error)
	GetSeat(ctx context.Context, tripID string, seatNumber int) (*inventory.Seat, error)
	BlockSeats(ctx context.Context, tripID string, seats []int) ([]inventory.Seat, error)
	UnblockSeats(ctx context.Context, tripID string, seats []int) ([]inventory.Seat, error)
	Reconcile(ctx context.Context, tripID string) (int, error)
}

type service struct {
	repo        Repository
	store       inventory.Store
	seats       SeatAdmin
	reconciler  Reconciler
	cache       cache.Service
	invalidator *SeatMapInvalidator
	log         *logger.Logger
}

// NewService wires the trip catalog. invalidator must share cacheService
// and be registered as a publisher of the inventory store.
func NewService(repo Repository, store inventory.Store, seats SeatAdmin, reconciler Reconciler, cacheService cache.Service, invalidator *SeatMapInvalidator) Service {
	if cacheService == nil {
		cacheService = cache.NewMemoryService()
	}
	if invalidator == nil {
		invalidator = NewSeatMapInvalidator(cacheService)
	}
	return &service{
		repo:        repo,
		store:       store,
		seats:       seats,
		reconciler:  reconciler,
		cache:       cacheService,
		invalidator: invalidator,
		log:         logger.GetDefault(),
	}
}

func validateTripID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: trip id is required", apperr.ErrValidation)
	case strings.ContainsAny(id, ":/ \t"):
		return fmt.Errorf("%w: trip id %q may not contain ':', '/' or spaces", apperr.ErrValidation, id)
	}
	return nil
}

func (s *service) CreateTrip(ctx context.Context, req CreateTripRequest) (*Trip, bool, error) {
	req.ID = strings.TrimSpace(req.ID)
	if err := validateTripID(req.ID); err != nil {
		return nil, false, err
	}
	if req.Capacity <= 0 {
		return nil, false, fmt.Errorf("%w: capacity must be positive", apperr.ErrValidation)
	}

	trip := &Trip{
		ID:          req.ID,
		Route:       strings.TrimSpace(req.Route),
		Origin:      strings.TrimSpace(req.Origin),
		Destination: strings.TrimSpace(req.Destination),
		DepartureAt: req.DepartureAt.UTC(),
		Capacity:    req.Capacity,
		Status:      TripStatusScheduled,
	}

	created := true
	if err := s.repo.Create(ctx, trip); err != nil {
		if !errors.Is(err, ErrTripExists) {
			return nil, false, err
		}
		existing, getErr := s.repo.GetByID(ctx, req.ID)
		if getErr != nil {
			return nil, false, getErr
		}
		if existing.Capacity != req.Capacity {
			return nil, false, fmt.Errorf("%w: trip %s already exists with capacity %d", apperr.ErrValidation, req.ID, existing.Capacity)
		}
		trip, created = existing, false
	}

	// Also runs for an existing trip so a previously interrupted
	// provisioning completes. The store ignores trips it already has.
	if err := s.store.ProvisionTrip(ctx, trip.ID, trip.Capacity); err != nil {
		return nil, false, fmt.Errorf("failed to provision seats for trip %s: %w", trip.ID, err)
	}

	if created {
		s.invalidateLists(ctx)
		s.log.InfoWithContext(ctx, "Trip provisioned", map[string]interface{}{
			"trip_id":  trip.ID,
			"capacity": trip.Capacity,
		})
	}
	return trip, created, nil
}

func (s *service) GetTrip(ctx context.Context, tripID string) (*Trip, error) {
	var trip Trip
	err := s.cache.GetOrSet(ctx, constants.BuildTripDetailKey(tripID), constants.TTL_TRIP_DETAIL, func() (interface{}, error) {
		return s.repo.GetByID(ctx, tripID)
	}, &trip)
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

func (s *service) ListTrips(ctx context.Context, query TripListQuery) (*PaginatedTrips, error) {
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 20
	}

	var result PaginatedTrips
	key := constants.BuildTripListKey(query.Status, query.Page, query.Limit)
	err := s.cache.GetOrSet(ctx, key, constants.TTL_TRIP_LIST, func() (interface{}, error) {
		trips, total, err := s.repo.GetAll(ctx, query)
		if err != nil {
			return nil, err
		}
		page := PaginatedTrips{
			Trips:      make([]TripResponse, 0, len(trips)),
			TotalCount: total,
			Page:       query.Page,
			Limit:      query.Limit,
			TotalPages: int(math.Ceil(float64(total) / float64(query.Limit))),
		}
		for i := range trips {
			page.Trips = append(page.Trips, trips[i].ToResponse())
		}
		return page, nil
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *service) ListTripIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListIDs(ctx)
}

func (s *service) UpdateStatus(ctx context.Context, tripID string, status TripStatus) (*Trip, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown trip status %q", apperr.ErrValidation, status)
	}
	trip, err := s.repo.UpdateStatus(ctx, tripID, status)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Delete(ctx, constants.BuildTripDetailKey(tripID)); err != nil {
		s.log.ErrorWithContext(ctx, "Failed to invalidate trip cache", err, map[string]interface{}{"trip_id": tripID})
	}
	s.invalidateLists(ctx)
	return trip, nil
}

// GetSeatMap serves from cache. A map read while a seat of the trip
// changed is returned but not cached.
func (s *service) GetSeatMap(ctx context.Context, tripID string) (*inventory.SeatMap, error) {
	key := constants.BuildSeatMapKey(tripID)

	var seatMap inventory.SeatMap
	err := s.cache.Get(ctx, key, &seatMap)
	if err == nil {
		return &seatMap, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.ErrorWithContext(ctx, "Seat map cache read failed", err, map[string]interface{}{"trip_id": tripID})
	}

	gen := s.invalidator.generation(tripID)
	seats, err := s.store.GetSeats(ctx, tripID)
	if err != nil {
		return nil, err
	}
	seatMap = inventory.NewSeatMap(tripID, seats)
	if s.invalidator.generation(tripID) == gen {
		if err := s.cache.Set(ctx, key, seatMap, constants.TTL_SEAT_MAP); err != nil {
			s.log.ErrorWithContext(ctx, "Seat map cache write failed", err, map[string]interface{}{"trip_id": tripID})
		}
	}
	return &seatMap, nil
}

func (s *service) GetSeat(ctx context.Context, tripID string, seatNumber int) (*inventory.Seat, error) {
	if seatNumber < 1 {
		return nil, fmt.Errorf("%w: seat number must be positive", apperr.ErrValidation)
	}
	seat, err := s.store.ReadSeat(ctx, tripID, seatNumber)
	if err != nil {
		return nil, err
	}
	return &seat, nil
}

func (s *service) BlockSeats(ctx context.Context, tripID string, seats []int) ([]inventory.Seat, error) {
	return s.seats.BlockSeats(ctx, tripID, seats)
}

func (s *service) UnblockSeats(ctx context.Context, tripID string, seats []int) ([]inventory.Seat, error) {
	return s.seats.UnblockSeats(ctx, tripID, seats)
}

func (s *service) Reconcile(ctx context.Context, tripID string) (int, error) {
	if _, err := s.repo.GetByID(ctx, tripID); err != nil {
		return 0, err
	}
	return s.reconciler.Reconcile(ctx, tripID)
}

func (s *service) invalidateLists(ctx context.Context) {
	if err := s.cache.DeletePattern(ctx, constants.BuildTripListPattern()); err != nil {
		s.log.ErrorWithContext(ctx, "Failed to invalidate trip listings", err, nil)
	}
}

// SeatMapInvalidator drops a trip's cached seat map whenever one of its
// seats changes. It must see every seat delta, local and relayed.
type SeatMapInvalidator struct {
	cache cache.Service
	log   *logger.Logger

	mu  sync.Mutex
	gen map[string]uint64
}

func NewSeatMapInvalidator(cacheService cache.Service) *SeatMapInvalidator {
	return &SeatMapInvalidator{cache: cacheService, log: logger.GetDefault(), gen: make(map[string]uint64)}
}

func (i *SeatMapInvalidator) Publish(ctx context.Context, d realtime.Delta) {
	if d.Kind != realtime.KindSeat {
		return
	}
	i.mu.Lock()
	i.gen[d.TripID]++
	i.mu.Unlock()
	if err := i.cache.Delete(ctx, constants.BuildSeatMapKey(d.TripID)); err != nil {
		i.log.ErrorWithContext(ctx, "Failed to invalidate seat map", err, map[string]interface{}{"trip_id": d.TripID})
	}
}

func (i *SeatMapInvalidator) generation(tripID string) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.gen[tripID]
}
