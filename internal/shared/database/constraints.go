package database

import (
	"gorm.io/gorm"
)

// MigrateConstraints adds the indexes the sweeper and reconciler rely on
func MigrateConstraints(db *gorm.DB) error {
	statements := []string{
		// Hold sweeper: HELD bookings ordered by deadline
		`CREATE INDEX IF NOT EXISTS idx_bookings_held_until_live
			ON bookings (held_until) WHERE status = 'HELD'`,

		// No-show release: NO_SHOW bookings still owning seats
		`CREATE INDEX IF NOT EXISTS idx_bookings_no_show_pending
			ON bookings (status_changed_at) WHERE status = 'NO_SHOW' AND seats_released_at IS NULL`,

		// Reconciliation walks seats of a trip by owner
		`CREATE INDEX IF NOT EXISTS idx_seats_trip_owner
			ON seats (trip_id, owner) WHERE owner <> ''`,

		// Version can only grow from 1
		`DO $$ BEGIN
			ALTER TABLE seats ADD CONSTRAINT chk_seats_version_positive CHECK (version >= 1);
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$`,
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
