package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the subset of the employee record the security pipeline needs.
type User struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	OrgID       uuid.UUID  `json:"org_id" db:"org_id"`
	Active      bool       `json:"active" db:"active"`
	LockedUntil *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	PINHash     string     `json:"-" db:"pin_hash"`
}

// FaceTemplate is a user's normalized reference descriptor.
type FaceTemplate struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	OrgID       uuid.UUID `json:"org_id" db:"org_id"`
	Descriptor  []float32 `json:"-" db:"descriptor"`
	SampleCount int       `json:"sample_count" db:"sample_count"`
	ImageKey    string    `json:"image_key,omitempty" db:"image_key"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// AttendanceRecord is a historical clock event, used for time baselines.
type AttendanceRecord struct {
	UserID   uuid.UUID  `json:"user_id" db:"user_id"`
	ClockIn  time.Time  `json:"clock_in" db:"clock_in"`
	ClockOut *time.Time `json:"clock_out,omitempty" db:"clock_out"`
	Location *Location  `json:"location,omitempty" db:"location"`
}
