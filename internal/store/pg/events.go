package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bdehub.org/internal/events"
	"bdehub.org/internal/ids"
)

const eventColumns = `uuid, bde_uuid, name, description, is_draft, booking_start, booking_end, event_date, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (events.Event, error) {
	var (
		e    events.Event
		desc sql.NullString
	)
	if err := row.Scan(&e.UUID, &e.BdeUUID, &e.Name, &desc, &e.IsDraft,
		&e.BookingStart, &e.BookingEnd, &e.EventDate, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return events.Event{}, err
	}
	e.Description = desc.String
	return e, nil
}

func (s *Store) CreateEvent(ctx context.Context, e events.Event) (events.Event, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return events.Event{}, fmt.Errorf("%w: event name is required", events.ErrInvalidInput)
	}
	e.BdeUUID = strings.TrimSpace(e.BdeUUID)
	if e.BdeUUID == "" {
		return events.Event{}, fmt.Errorf("%w: bde_uuid is required", events.ErrInvalidInput)
	}
	if e.BookingStart != nil && e.BookingEnd != nil && !e.BookingStart.Before(*e.BookingEnd) {
		return events.Event{}, fmt.Errorf("%w: booking_start must precede booking_end", events.ErrInvalidInput)
	}
	ok, err := s.BDEExists(ctx, e.BdeUUID)
	if err != nil {
		return events.Event{}, err
	}
	if !ok {
		return events.Event{}, fmt.Errorf("%w: bde %s", events.ErrForeignKey, e.BdeUUID)
	}

	e.UUID = ids.New()
	if err := s.db.QueryRowContext(ctx, `
		insert into events(uuid, bde_uuid, name, description, is_draft, booking_start, booking_end, event_date)
		values($1,$2,$3,$4,$5,$6,$7,$8) returning created_at, updated_at
	`, e.UUID, e.BdeUUID, e.Name, e.Description, e.IsDraft, e.BookingStart, e.BookingEnd, e.EventDate,
	).Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		return events.Event{}, err
	}
	return e, nil
}

func (s *Store) FindEvent(ctx context.Context, uuid string) (events.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx,
		`select `+eventColumns+` from events where uuid=$1`, uuid))
	if errors.Is(err, sql.ErrNoRows) {
		return events.Event{}, events.ErrNotFound
	}
	return e, err
}

func (s *Store) ListEvents(ctx context.Context) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+eventColumns+` from events order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []events.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *Store) UpdateEvent(ctx context.Context, uuid string, upd events.EventUpdate) (events.Event, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return events.Event{}, fmt.Errorf("%w: event name is required", events.ErrInvalidInput)
	}
	if upd.BdeUUID != nil {
		target := strings.TrimSpace(*upd.BdeUUID)
		if target == "" {
			return events.Event{}, fmt.Errorf("%w: bde_uuid is required", events.ErrInvalidInput)
		}
		ok, err := s.BDEExists(ctx, target)
		if err != nil {
			return events.Event{}, err
		}
		if !ok {
			return events.Event{}, fmt.Errorf("%w: bde %s", events.ErrForeignKey, target)
		}
		upd.BdeUUID = &target
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return events.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	merged, err := scanEvent(tx.QueryRowContext(ctx,
		`select `+eventColumns+` from events where uuid=$1 for update`, uuid))
	if errors.Is(err, sql.ErrNoRows) {
		return events.Event{}, events.ErrNotFound
	}
	if err != nil {
		return events.Event{}, err
	}

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
	if merged.BookingStart != nil && merged.BookingEnd != nil && !merged.BookingStart.Before(*merged.BookingEnd) {
		return events.Event{}, fmt.Errorf("%w: booking_start must precede booking_end", events.ErrInvalidInput)
	}

	if err := tx.QueryRowContext(ctx, `
		update events
		set bde_uuid=$2, name=$3, description=$4, is_draft=$5,
		    booking_start=$6, booking_end=$7, event_date=$8, updated_at=now()
		where uuid=$1 returning updated_at
	`, uuid, merged.BdeUUID, merged.Name, merged.Description, merged.IsDraft,
		merged.BookingStart, merged.BookingEnd, merged.EventDate,
	).Scan(&merged.UpdatedAt); err != nil {
		return events.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return events.Event{}, err
	}
	return merged, nil
}

func (s *Store) DeleteEvent(ctx context.Context, uuid string) error {
	// Bookings cascade at the schema level.
	res, err := s.db.ExecContext(ctx, `delete from events where uuid=$1`, uuid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (s *Store) CreateBooking(ctx context.Context, eventUUID, userUUID string) (events.Booking, error) {
	eventUUID = strings.TrimSpace(eventUUID)
	userUUID = strings.TrimSpace(userUUID)
	if eventUUID == "" || userUUID == "" {
		return events.Booking{}, fmt.Errorf("%w: event_uuid and user_uuid are required", events.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return events.Booking{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from users where uuid=$1)`, userUUID,
	).Scan(&exists); err != nil {
		return events.Booking{}, err
	}
	if !exists {
		return events.Booking{}, fmt.Errorf("%w: user %s", events.ErrForeignKey, userUUID)
	}
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from events where uuid=$1)`, eventUUID,
	).Scan(&exists); err != nil {
		return events.Booking{}, err
	}
	if !exists {
		return events.Booking{}, fmt.Errorf("%w: event %s", events.ErrForeignKey, eventUUID)
	}

	res, err := tx.ExecContext(ctx, `
		insert into bookings(event_uuid, user_uuid)
		values($1,$2) on conflict do nothing
	`, eventUUID, userUUID)
	if err != nil {
		return events.Booking{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return events.Booking{}, err
	}
	if n == 0 {
		return events.Booking{}, fmt.Errorf("%w: booking for event %s and user %s", events.ErrAlreadyExists, eventUUID, userUUID)
	}
	if err := tx.Commit(); err != nil {
		return events.Booking{}, err
	}

	return events.Booking{
		EventUUID: eventUUID,
		UserUUID:  userUUID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (s *Store) FindBooking(ctx context.Context, eventUUID, userUUID string) (events.Booking, error) {
	var b events.Booking
	err := s.db.QueryRowContext(ctx,
		`select event_uuid, user_uuid, created_at from bookings where event_uuid=$1 and user_uuid=$2`,
		eventUUID, userUUID,
	).Scan(&b.EventUUID, &b.UserUUID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return events.Booking{}, events.ErrNotFound
	}
	if err != nil {
		return events.Booking{}, err
	}
	return b, nil
}

func (s *Store) BookingsForUser(ctx context.Context, userUUID string) ([]events.Booking, error) {
	return s.listBookings(ctx,
		`select event_uuid, user_uuid, created_at from bookings where user_uuid=$1 order by created_at asc`,
		userUUID)
}

func (s *Store) BookingsForEvent(ctx context.Context, eventUUID string) ([]events.Booking, error) {
	ok, err := s.eventExists(ctx, eventUUID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, events.ErrNotFound
	}
	return s.listBookings(ctx,
		`select event_uuid, user_uuid, created_at from bookings where event_uuid=$1 order by created_at asc`,
		eventUUID)
}

func (s *Store) DeleteBooking(ctx context.Context, eventUUID, userUUID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from bookings where event_uuid=$1 and user_uuid=$2`, eventUUID, userUUID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (s *Store) eventExists(ctx context.Context, uuid string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from events where uuid=$1)`, uuid,
	).Scan(&exists)
	return exists, err
}

func (s *Store) listBookings(ctx context.Context, query, arg string) ([]events.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []events.Booking
	for rows.Next() {
		var b events.Booking
		if err := rows.Scan(&b.EventUUID, &b.UserUUID, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
