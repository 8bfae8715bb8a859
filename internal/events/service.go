package events

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"bdehub.org/internal/ids"
)

// Service defines event and booking operations.
type Service interface {
	CreateEvent(ctx context.Context, e Event) (Event, error)
	FindEvent(ctx context.Context, uuid string) (Event, error)
	ListEvents(ctx context.Context) ([]Event, error)
	UpdateEvent(ctx context.Context, uuid string, upd EventUpdate) (Event, error)
	DeleteEvent(ctx context.Context, uuid string) error

	CreateBooking(ctx context.Context, eventUUID, userUUID string) (Booking, error)
	FindBooking(ctx context.Context, eventUUID, userUUID string) (Booking, error)
	BookingsForUser(ctx context.Context, userUUID string) ([]Booking, error)
	BookingsForEvent(ctx context.Context, eventUUID string) ([]Booking, error)
	DeleteBooking(ctx context.Context, eventUUID, userUUID string) error
}

// References resolves foreign keys against the directory.
type References interface {
	BDEExists(ctx context.Context, uuid string) (bool, error)
	UserExists(ctx context.Context, uuid string) (bool, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	refs References

	mu       sync.RWMutex
	events   map[string]*Event
	bookings map[string]Booking // eventUUID + "/" + userUUID
}

// NewInMemory creates an empty event store backed by the given directory.
func NewInMemory(refs References) *InMemory {
	return &InMemory{
		refs:     refs,
		events:   make(map[string]*Event),
		bookings: make(map[string]Booking),
	}
}

var _ Service = (*InMemory)(nil)

func (s *InMemory) CreateEvent(ctx context.Context, e Event) (Event, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return Event{}, fmt.Errorf("%w: event name is required", ErrInvalidInput)
	}
	e.BdeUUID = strings.TrimSpace(e.BdeUUID)
	if e.BdeUUID == "" {
		return Event{}, fmt.Errorf("%w: bde_uuid is required", ErrInvalidInput)
	}
	if !validWindow(e.BookingStart, e.BookingEnd) {
		return Event{}, fmt.Errorf("%w: booking_start must precede booking_end", ErrInvalidInput)
	}
	ok, err := s.refs.BDEExists(ctx, e.BdeUUID)
	if err != nil {
		return Event{}, err
	}
	if !ok {
		return Event{}, fmt.Errorf("%w: bde %s", ErrForeignKey, e.BdeUUID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	e.UUID = ids.New()
	e.CreatedAt = now
	e.UpdatedAt = now
	stored := e
	s.events[e.UUID] = &stored
	return e, nil
}

func (s *InMemory) FindEvent(ctx context.Context, uuid string) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[uuid]
	if !ok {
		return Event{}, ErrNotFound
	}
	return *e, nil
}

func (s *InMemory) ListEvents(ctx context.Context) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (s *InMemory) UpdateEvent(ctx context.Context, uuid string, upd EventUpdate) (Event, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return Event{}, fmt.Errorf("%w: event name is required", ErrInvalidInput)
	}
	if upd.BdeUUID != nil {
		target := strings.TrimSpace(*upd.BdeUUID)
		if target == "" {
			return Event{}, fmt.Errorf("%w: bde_uuid is required", ErrInvalidInput)
		}
		ok, err := s.refs.BDEExists(ctx, target)
		if err != nil {
			return Event{}, err
		}
		if !ok {
			return Event{}, fmt.Errorf("%w: bde %s", ErrForeignKey, target)
		}
		upd.BdeUUID = &target
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[uuid]
	if !ok {
		return Event{}, ErrNotFound
	}
	merged := *e
	if upd.Name != nil {
		merged.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		merged.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.IsDraft != nil {
		merged.IsDraft = *upd.IsDraft
	}
	if upd.BdeUUID != nil {
		merged.BdeUUID = *upd.BdeUUID
	}
	if upd.BookingStart != nil {
		merged.BookingStart = upd.BookingStart
	}
	if upd.BookingEnd != nil {
		merged.BookingEnd = upd.BookingEnd
	}
	if upd.EventDate != nil {
		merged.EventDate = upd.EventDate
	}
	if !validWindow(merged.BookingStart, merged.BookingEnd) {
		return Event{}, fmt.Errorf("%w: booking_start must precede booking_end", ErrInvalidInput)
	}
	merged.UpdatedAt = time.Now().UTC()
	*e = merged
	return merged, nil
}

func (s *InMemory) DeleteEvent(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[uuid]; !ok {
		return ErrNotFound
	}
	delete(s.events, uuid)
	for key := range s.bookings {
		if strings.HasPrefix(key, uuid+"/") {
			delete(s.bookings, key)
		}
	}
	return nil
}

func (s *InMemory) CreateBooking(ctx context.Context, eventUUID, userUUID string) (Booking, error) {
	eventUUID = strings.TrimSpace(eventUUID)
	userUUID = strings.TrimSpace(userUUID)
	if eventUUID == "" || userUUID == "" {
		return Booking{}, fmt.Errorf("%w: event_uuid and user_uuid are required", ErrInvalidInput)
	}
	ok, err := s.refs.UserExists(ctx, userUUID)
	if err != nil {
		return Booking{}, err
	}
	if !ok {
		return Booking{}, fmt.Errorf("%w: user %s", ErrForeignKey, userUUID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventUUID]; !ok {
		return Booking{}, fmt.Errorf("%w: event %s", ErrForeignKey, eventUUID)
	}
	key := bookingKey(eventUUID, userUUID)
	if _, ok := s.bookings[key]; ok {
		return Booking{}, fmt.Errorf("%w: booking for event %s and user %s", ErrAlreadyExists, eventUUID, userUUID)
	}
	b := Booking{
		EventUUID: eventUUID,
		UserUUID:  userUUID,
		CreatedAt: time.Now().UTC(),
	}
	s.bookings[key] = b
	return b, nil
}

func (s *InMemory) FindBooking(ctx context.Context, eventUUID, userUUID string) (Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[bookingKey(eventUUID, userUUID)]
	if !ok {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

func (s *InMemory) BookingsForUser(ctx context.Context, userUUID string) ([]Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Booking
	for _, b := range s.bookings {
		if b.UserUUID == userUUID {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func (s *InMemory) BookingsForEvent(ctx context.Context, eventUUID string) ([]Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.events[eventUUID]; !ok {
		return nil, ErrNotFound
	}
	var out []Booking
	for _, b := range s.bookings {
		if b.EventUUID == eventUUID {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func (s *InMemory) DeleteBooking(ctx context.Context, eventUUID, userUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bookingKey(eventUUID, userUUID)
	if _, ok := s.bookings[key]; !ok {
		return ErrNotFound
	}
	delete(s.bookings, key)
	return nil
}

func bookingKey(eventUUID, userUUID string) string {
	return eventUUID + "/" + userUUID
}

func sortBookings(bs []Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].EventUUID != bs[j].EventUUID {
			return bs[i].EventUUID < bs[j].EventUUID
		}
		return bs[i].UserUUID < bs[j].UserUUID
	})
}
