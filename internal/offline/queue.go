package offline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tripseat/internal/shared/apperr"
	"tripseat/pkg/logger"

	"github.com/google/uuid"
)

// Config tunes replay
type Config struct {
	ReplayInterval time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	EventBuffer    int
	Now            func() time.Time
}

func (c *Config) withDefaults() {
	if c.ReplayInterval <= 0 {
		c.ReplayInterval = 15 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// FlushStats summarises one replay pass
type FlushStats struct {
	Applied  int
	Rejected int
	Deferred int
}

// Queue journals operations and replays them in order per trip scope. Only
// the head of a scope is ever in flight; a head that is backing off holds up
// its own scope and nothing else.
type Queue struct {
	journal   Journal
	submitter Submitter
	cfg       Config
	log       *logger.Logger

	mu    sync.Mutex
	state State

	flushMu   sync.Mutex
	events    chan Event
	reconnect chan struct{}
}

// NewQueue restores a queue from journal
func NewQueue(journal Journal, submitter Submitter, cfg Config) (*Queue, error) {
	cfg.withDefaults()
	state, err := journal.Load()
	if err != nil {
		return nil, err
	}
	if state.Resolved == nil {
		state.Resolved = make(map[string]string)
	}
	return &Queue{
		journal:   journal,
		submitter: submitter,
		cfg:       cfg,
		log:       logger.GetDefault(),
		state:     state,
		events:    make(chan Event, cfg.EventBuffer),
		reconnect: make(chan struct{}, 1),
	}, nil
}

// Events delivers outcomes the operator has to act on or be told about
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Enqueue validates op and journals it. It never touches the network.
// Enqueueing an ID that is already queued or applied returns that ID.
func (q *Queue) Enqueue(op Operation) (string, error) {
	if op.Create != nil {
		create := *op.Create
		if op.ID == "" {
			op.ID = create.IdempotencyKey
		}
		if op.ID == "" {
			op.ID = uuid.NewString()
		}
		create.IdempotencyKey = op.ID
		if op.TripScope == "" {
			op.TripScope = strings.TrimSpace(create.TripID)
		}
		op.Create = &create
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if err := validateOperation(&op); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, applied := q.state.Resolved[op.ID]; applied || q.indexOf(op.ID) >= 0 {
		return op.ID, nil
	}

	now := q.cfg.Now()
	op.Attempts = 0
	op.EnqueuedAt = now
	op.NextAttemptAt = now
	op.LastError = ""

	q.state.Operations = append(q.state.Operations, op)
	if err := q.persist(); err != nil {
		q.state.Operations = q.state.Operations[:len(q.state.Operations)-1]
		return "", err
	}
	return op.ID, nil
}

// Pending returns a copy of the queued operations in replay order
func (q *Queue) Pending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Operation(nil), q.state.Operations...)
}

// ResolvedBooking returns the booking an applied create produced
func (q *Queue) ResolvedBooking(createID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, ok := q.state.Resolved[createID]
	return id, ok
}

// Reconnect asks the replay loop to flush now
func (q *Queue) Reconnect() {
	select {
	case q.reconnect <- struct{}{}:
	default:
	}
}

// Run replays on every tick and reconnect signal until ctx ends
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.ReplayInterval)
	defer ticker.Stop()

	q.flushLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.flushLogged(ctx)
		case <-q.reconnect:
			q.flushLogged(ctx)
		}
	}
}

func (q *Queue) flushLogged(ctx context.Context) {
	stats, err := q.Flush(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		q.log.ErrorWithContext(ctx, "Offline queue flush failed", err, nil)
		return
	}
	if stats.Applied > 0 || stats.Rejected > 0 {
		q.log.InfoWithContext(ctx, "Offline queue flushed", map[string]interface{}{
			"applied":  stats.Applied,
			"rejected": stats.Rejected,
			"deferred": stats.Deferred,
		})
	}
}

// Flush submits every ready scope head until each scope is drained or
// blocked by a backing-off head
func (q *Queue) Flush(ctx context.Context) (FlushStats, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	var stats FlushStats
	blocked := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		op, ok, err := q.nextReady(blocked, &stats)
		if err != nil {
			return stats, err
		}
		if !ok {
			return stats, nil
		}

		res, submitErr := q.submitter.Submit(ctx, op)
		retry, err := q.settle(op, res, submitErr)
		if err != nil {
			return stats, err
		}
		switch {
		case retry:
			blocked[op.TripScope] = true
			stats.Deferred++
		case submitErr == nil:
			stats.Applied++
		default:
			stats.Rejected++
		}
	}
}

// nextReady picks the first scope head that may be submitted now. Heads
// whose dependency was never applied are rejected on the way.
func (q *Queue) nextReady(blocked map[string]bool, stats *FlushStats) (Operation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.cfg.Now()
	seen := make(map[string]bool)
	for i := 0; i < len(q.state.Operations); i++ {
		op := &q.state.Operations[i]
		scope := op.TripScope
		if seen[scope] || blocked[scope] {
			continue
		}
		seen[scope] = true

		if op.NextAttemptAt.After(now) {
			continue
		}

		if op.DependsOn != "" && op.BookingID == "" {
			if id, ok := q.state.Resolved[op.DependsOn]; ok {
				op.BookingID = id
				if err := q.persist(); err != nil {
					return Operation{}, false, err
				}
			} else if q.indexOf(op.DependsOn) >= 0 {
				// dependency queued in another scope
				continue
			} else {
				rejected := *op
				q.remove(op.ID)
				if err := q.persist(); err != nil {
					return Operation{}, false, err
				}
				stats.Rejected++
				q.emit(Event{
					Kind:      EventRejected,
					Operation: rejected,
					Message:   "the booking this operation depends on was not created",
					Err:       fmt.Errorf("%w: dependency %s was not applied", apperr.ErrInvalidState, rejected.DependsOn),
				})
				// the next op of this scope is now its head
				delete(seen, scope)
				i--
				continue
			}
		}
		return *op, true, nil
	}
	return Operation{}, false, nil
}

// settle records the outcome of a submit. It reports whether the operation
// stays queued for another attempt.
func (q *Queue) settle(op Operation, res Result, submitErr error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(op.ID)
	if idx < 0 {
		return false, nil
	}

	if submitErr != nil && !apperr.IsBusiness(submitErr) {
		stored := &q.state.Operations[idx]
		stored.Attempts++
		stored.LastError = submitErr.Error()
		stored.NextAttemptAt = q.cfg.Now().Add(q.backoff(stored.Attempts))
		return true, q.persist()
	}

	q.remove(op.ID)
	if submitErr == nil && op.Type == OpCreateBooking && res.BookingID != "" {
		q.state.Resolved[op.ID] = res.BookingID
	}
	if err := q.persist(); err != nil {
		return false, err
	}

	switch {
	case submitErr == nil:
		q.emit(Event{Kind: EventApplied, Operation: op, BookingID: res.BookingID})
	case op.Type == OpCreateBooking && errors.Is(submitErr, apperr.ErrSeatsUnavailable):
		seats, _ := apperr.UnavailableSeats(submitErr)
		q.emit(Event{
			Kind:      EventReselectionRequired,
			Operation: op,
			Seats:     seats,
			Message:   "the selected seats were taken, choose again",
			Err:       submitErr,
		})
	default:
		q.emit(Event{Kind: EventRejected, Operation: op, BookingID: op.BookingID, Message: rejectionMessage(submitErr), Err: submitErr})
	}
	return false, nil
}

// backoff doubles from the base delay per attempt, capped at the maximum
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	return d
}

func rejectionMessage(err error) string {
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidState, apperr.CodeOwnershipMismatch:
		return "this booking has changed"
	case apperr.CodeAlreadyCheckedIn:
		return "passenger is already checked in"
	case apperr.CodeNotFound:
		return "booking not found"
	case apperr.CodeSeatsUnavailable:
		return "the selected seats are not available"
	}
	return "the operation was rejected"
}

func (q *Queue) emit(e Event) {
	select {
	case q.events <- e:
	default:
		q.log.ErrorWithContext(context.Background(), "Offline queue event dropped", errors.New("event buffer full"), map[string]interface{}{
			"operation_id": e.Operation.ID,
			"kind":         string(e.Kind),
		})
	}
}

func (q *Queue) indexOf(id string) int {
	for i := range q.state.Operations {
		if q.state.Operations[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) remove(id string) {
	if i := q.indexOf(id); i >= 0 {
		q.state.Operations = append(q.state.Operations[:i], q.state.Operations[i+1:]...)
	}
}

// persist writes the current state; callers hold q.mu
func (q *Queue) persist() error {
	if err := q.journal.Save(q.state); err != nil {
		return fmt.Errorf("persisting offline queue: %w", err)
	}
	return nil
}
