package database

import (
	"tripseat/internal/bookings"
	"tripseat/internal/inventory"
	"tripseat/internal/trips"

	"gorm.io/gorm"
)

// Migrate creates or updates the engine tables. Seats are migrated even
// when the seat store runs on Redis so the Postgres backend can be switched
// on later without a separate step.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&trips.Trip{},
		&inventory.Seat{},
		&bookings.Booking{},
		&bookings.OperationReceipt{},
	); err != nil {
		return err
	}
	return MigrateConstraints(db)
}
