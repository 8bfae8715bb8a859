package events

import (
	"errors"
	"time"
)

// Event is an organized activity owned by one BDE. BookingStart and
// BookingEnd, when set, bound the window during which normal booking
// creation is permitted. When both are set, BookingStart is strictly before
// BookingEnd.
type Event struct {
	UUID         string     `json:"uuid"`
	BdeUUID      string     `json:"bde_uuid"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	IsDraft      bool       `json:"is_draft"`
	BookingStart *time.Time `json:"booking_start,omitempty"`
	BookingEnd   *time.Time `json:"booking_end,omitempty"`
	EventDate    *time.Time `json:"event_date,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Booking reserves a slot at an event for a user. The pairing is unique.
type Booking struct {
	EventUUID string    `json:"event_uuid"`
	UserUUID  string    `json:"user_uuid"`
	CreatedAt time.Time `json:"created_at"`
}

// EventUpdate carries patch fields; nil pointers leave the field untouched.
type EventUpdate struct {
	Name         *string
	Description  *string
	IsDraft      *bool
	BdeUUID      *string
	BookingStart *time.Time
	BookingEnd   *time.Time
	EventDate    *time.Time
}

var (
	ErrNotFound      = errors.New("events: not found")
	ErrAlreadyExists = errors.New("events: already exists")
	ErrInvalidInput  = errors.New("events: invalid input")
	ErrForeignKey    = errors.New("events: referenced entity does not exist")
)

// CanBookNow reports whether now falls inside the event's booking window.
// Absent bounds impose no restriction on that side. Advisory only: forced
// booking creation may override it.
func CanBookNow(e Event, now time.Time) bool {
	if e.BookingStart != nil && e.BookingStart.After(now) {
		return false
	}
	if e.BookingEnd != nil && e.BookingEnd.Before(now) {
		return false
	}
	return true
}

// validWindow enforces the strict ordering invariant on the booking window.
func validWindow(start, end *time.Time) bool {
	if start == nil || end == nil {
		return true
	}
	return start.Before(*end)
}
