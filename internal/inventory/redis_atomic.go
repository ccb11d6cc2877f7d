package inventory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tripseat/internal/shared/apperr"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each seat as a hash and performs the swap inside a Lua
// script, so the version check and the write are one atomic step.
//
// Keys:
//
//	tripseat:trip:{trip_id}:capacity         string
//	tripseat:seat:{trip_id}:{seat_number}    hash(state, version, owner, held_until, updated_at)
type RedisStore struct {
	redis *redis.Client
	opts  options
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{redis: client, opts: buildOptions(opts)}
}

// Lua script for atomic seat compare-and-swap
var luaSeatCompareAndSwap = redis.NewScript(`
-- KEYS[1] = seat key
-- ARGV[1] = expected version
-- ARGV[2] = new state
-- ARGV[3] = owner
-- ARGV[4] = held_until (unix millis, "" for none)
-- ARGV[5] = updated_at (unix millis)

if redis.call("EXISTS", KEYS[1]) == 0 then
    return {0, "not_found"}
end

local version = tonumber(redis.call("HGET", KEYS[1], "version"))
if version ~= tonumber(ARGV[1]) then
    return {0, "version_conflict"}
end

redis.call("HSET", KEYS[1],
    "state", ARGV[2],
    "version", version + 1,
    "owner", ARGV[3],
    "held_until", ARGV[4],
    "updated_at", ARGV[5]
)

return {1, version + 1}
`)

// Lua script for provisioning a trip's seats once
var luaProvisionTrip = redis.NewScript(`
-- KEYS[1] = capacity key
-- ARGV[1] = trip id
-- ARGV[2] = capacity
-- ARGV[3] = updated_at (unix millis)

if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end

local capacity = tonumber(ARGV[2])
for i = 1, capacity do
    local seat_key = "tripseat:seat:" .. ARGV[1] .. ":" .. i
    redis.call("HSET", seat_key,
        "state", "AVAILABLE",
        "version", 1,
        "owner", "",
        "held_until", "",
        "updated_at", ARGV[3]
    )
end
redis.call("SET", KEYS[1], capacity)

return capacity
`)

func capacityKey(tripID string) string {
	return "tripseat:trip:" + tripID + ":capacity"
}

func seatKey(tripID string, seatNumber int) string {
	return "tripseat:seat:" + tripID + ":" + strconv.Itoa(seatNumber)
}

// PreloadScripts loads Lua scripts into Redis for better performance
func (r *RedisStore) PreloadScripts(ctx context.Context) error {
	if r.redis == nil {
		return fmt.Errorf("redis client not available")
	}

	if err := luaSeatCompareAndSwap.Load(ctx, r.redis).Err(); err != nil {
		return fmt.Errorf("failed to load seat swap script: %w", err)
	}
	if err := luaProvisionTrip.Load(ctx, r.redis).Err(); err != nil {
		return fmt.Errorf("failed to load provision script: %w", err)
	}
	return nil
}

func (r *RedisStore) ProvisionTrip(ctx context.Context, tripID string, capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", apperr.ErrValidation)
	}
	now := r.opts.now().UnixMilli()
	if err := luaProvisionTrip.Run(ctx, r.redis, []string{capacityKey(tripID)}, tripID, capacity, now).Err(); err != nil {
		return fmt.Errorf("failed to provision seats: %w", err)
	}
	return nil
}

func (r *RedisStore) capacity(ctx context.Context, tripID string) (int, error) {
	capacity, err := r.redis.Get(ctx, capacityKey(tripID)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, tripNotFound(tripID)
		}
		return 0, fmt.Errorf("failed to read trip capacity: %w", err)
	}
	return capacity, nil
}

func (r *RedisStore) GetSeats(ctx context.Context, tripID string) ([]Seat, error) {
	capacity, err := r.capacity(ctx, tripID)
	if err != nil {
		return nil, err
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, capacity)
	for i := 0; i < capacity; i++ {
		cmds[i] = pipe.HGetAll(ctx, seatKey(tripID, i+1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read seats: %w", err)
	}

	seats := make([]Seat, 0, capacity)
	for i, cmd := range cmds {
		seat, err := decodeSeat(tripID, i+1, cmd.Val())
		if err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}
	return seats, nil
}

func (r *RedisStore) ReadSeat(ctx context.Context, tripID string, seatNumber int) (Seat, error) {
	fields, err := r.redis.HGetAll(ctx, seatKey(tripID, seatNumber)).Result()
	if err != nil {
		return Seat{}, fmt.Errorf("failed to read seat: %w", err)
	}
	if len(fields) == 0 {
		return Seat{}, seatNotFound(tripID, seatNumber)
	}
	return decodeSeat(tripID, seatNumber, fields)
}

func (r *RedisStore) CompareAndSwap(ctx context.Context, tripID string, seatNumber int, expectedVersion int64, next Transition) (Seat, error) {
	if err := validateTransition(next); err != nil {
		return Seat{}, err
	}

	now := r.opts.now()
	updated := next.apply(Seat{TripID: tripID, SeatNumber: seatNumber, Version: expectedVersion}, now)

	heldUntil := ""
	if updated.HeldUntil != nil {
		heldUntil = strconv.FormatInt(updated.HeldUntil.UnixMilli(), 10)
	}

	result, err := luaSeatCompareAndSwap.Run(ctx, r.redis,
		[]string{seatKey(tripID, seatNumber)},
		expectedVersion,
		string(updated.State),
		updated.Owner,
		heldUntil,
		now.UnixMilli(),
	).Slice()
	if err != nil {
		return Seat{}, fmt.Errorf("failed to execute seat swap: %w", err)
	}
	if len(result) != 2 {
		return Seat{}, fmt.Errorf("unexpected result format from Lua script")
	}

	success, ok := result[0].(int64)
	if !ok {
		return Seat{}, fmt.Errorf("invalid success flag in Lua script result")
	}
	if success == 0 {
		reason, _ := result[1].(string)
		switch reason {
		case "not_found":
			return Seat{}, seatNotFound(tripID, seatNumber)
		case "version_conflict":
			return Seat{}, fmt.Errorf("seat %d on trip %s not at version %d: %w",
				seatNumber, tripID, expectedVersion, apperr.ErrVersionConflict)
		}
		return Seat{}, fmt.Errorf("seat swap rejected: %v", result[1])
	}

	r.opts.publisher.Publish(ctx, updated.Delta(now))
	return updated, nil
}

func decodeSeat(tripID string, seatNumber int, fields map[string]string) (Seat, error) {
	if len(fields) == 0 {
		return Seat{}, seatNotFound(tripID, seatNumber)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return Seat{}, fmt.Errorf("invalid version for seat %d: %w", seatNumber, err)
	}

	seat := Seat{
		TripID:     tripID,
		SeatNumber: seatNumber,
		State:      SeatState(fields["state"]),
		Version:    version,
		Owner:      fields["owner"],
	}
	if ms, err := strconv.ParseInt(fields["held_until"], 10, 64); err == nil {
		until := time.UnixMilli(ms).UTC()
		seat.HeldUntil = &until
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		seat.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return seat, nil
}
