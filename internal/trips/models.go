package trips

import (
	"time"
)

// TripStatus is the operating state of a trip
type TripStatus string

const (
	TripStatusScheduled TripStatus = "SCHEDULED"
	TripStatusDeparted  TripStatus = "DEPARTED"
	TripStatusCancelled TripStatus = "CANCELLED"
)

func (s TripStatus) IsValid() bool {
	switch s {
	case TripStatusScheduled, TripStatusDeparted, TripStatusCancelled:
		return true
	}
	return false
}

// Trip is a scheduled departure whose seats are provisioned in the
// inventory store. Capacity never changes after provisioning.
type Trip struct {
	ID          string     `json:"id" gorm:"type:varchar(64);primaryKey"`
	Route       string     `json:"route" gorm:"not null;size:255"`
	Origin      string     `json:"origin" gorm:"size:255"`
	Destination string     `json:"destination" gorm:"size:255"`
	DepartureAt time.Time  `json:"departure_at" gorm:"not null;index"`
	Capacity    int        `json:"capacity" gorm:"not null;check:capacity > 0"`
	Status      TripStatus `json:"status" gorm:"type:varchar(20);not null;default:'SCHEDULED'"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Trip) TableName() string {
	return "trips"
}

type CreateTripRequest struct {
	ID          string    `json:"id" binding:"required,max=64"`
	Route       string    `json:"route" binding:"required,min=2,max=255"`
	Origin      string    `json:"origin" binding:"max=255"`
	Destination string    `json:"destination" binding:"max=255"`
	DepartureAt time.Time `json:"departure_at" binding:"required"`
	Capacity    int       `json:"capacity" binding:"required,min=1,max=1000"`
}

type TripListQuery struct {
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Status string `form:"status" binding:"omitempty,oneof=SCHEDULED DEPARTED CANCELLED"`
}

// SeatsRequest names seats for block and unblock
type SeatsRequest struct {
	Seats []int `json:"seats" binding:"required,min=1,dive,min=1"`
}

type TripResponse struct {
	ID          string     `json:"id"`
	Route       string     `json:"route"`
	Origin      string     `json:"origin,omitempty"`
	Destination string     `json:"destination,omitempty"`
	DepartureAt time.Time  `json:"departure_at"`
	Capacity    int        `json:"capacity"`
	Status      TripStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

type PaginatedTrips struct {
	Trips      []TripResponse `json:"trips"`
	TotalCount int64          `json:"total_count"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"total_pages"`
}

type ReconcileResponse struct {
	TripID   string `json:"trip_id"`
	Repaired int    `json:"repaired"`
}

func (t *Trip) ToResponse() TripResponse {
	return TripResponse{
		ID:          t.ID,
		Route:       t.Route,
		Origin:      t.Origin,
		Destination: t.Destination,
		DepartureAt: t.DepartureAt,
		Capacity:    t.Capacity,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
	}
}
