package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"tripseat/internal/shared/apperr"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const swapQuery = `UPDATE "seats" SET .* WHERE trip_id = \$\d+ AND seat_number = \$\d+ AND version = \$\d+`

func newPostgresStore(t *testing.T, opts ...Option) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewPostgresStore(db, opts...), mock
}

func seatRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"trip_id", "seat_number", "state", "version", "owner", "held_until", "updated_at"})
}

func TestPostgresCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 11, 2, 8, 0, 0, 0, time.UTC)
	rec := &recorder{}
	store, mock := newPostgresStore(t, WithPublisher(rec), WithClock(func() time.Time { return now }))
	until := now.Add(2 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec(swapQuery).
		WithArgs(sqlmock.AnyArg(), "b1", "HELD", sqlmock.AnyArg(), int64(4), "T", 1, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	held, err := store.CompareAndSwap(ctx, "T", 1, 3, Transition{State: StateHeld, Owner: "b1", HeldUntil: &until})
	if err != nil {
		t.Fatal(err)
	}
	if held.Version != 4 || held.Owner != "b1" || !held.HeldUntil.Equal(until) {
		t.Fatalf("held = %+v", held)
	}
	if len(rec.deltas) != 1 || rec.deltas[0].Version != 4 {
		t.Fatalf("deltas = %+v", rec.deltas)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresCompareAndSwapConflict(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	store, mock := newPostgresStore(t, WithPublisher(rec))

	mock.ExpectBegin()
	mock.ExpectExec(swapQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM "seats" WHERE trip_id = \$1 AND seat_number = \$2`).
		WillReturnRows(seatRows().AddRow("T", 1, "BOOKED", 5, "b2", nil, time.Now()))

	_, err := store.CompareAndSwap(ctx, "T", 1, 3, Transition{State: StateBooked, Owner: "b1"})
	if !errors.Is(err, apperr.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	if len(rec.deltas) != 0 {
		t.Fatalf("conflict published %d deltas", len(rec.deltas))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresCompareAndSwapMissingSeat(t *testing.T) {
	ctx := context.Background()
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(swapQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM "seats" WHERE trip_id = \$1 AND seat_number = \$2`).
		WillReturnRows(seatRows())

	_, err := store.CompareAndSwap(ctx, "T", 9, 1, Transition{State: StateHeld, Owner: "b1"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetSeatsUnknownTrip(t *testing.T) {
	store, mock := newPostgresStore(t)
	mock.ExpectQuery(`SELECT \* FROM "seats" WHERE trip_id = \$1 ORDER BY seat_number ASC`).
		WithArgs("nope").
		WillReturnRows(seatRows())

	if _, err := store.GetSeats(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
