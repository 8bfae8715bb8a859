package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bdehub.org/internal/auth"
	"bdehub.org/internal/directory"
	"bdehub.org/internal/ids"
)

func (s *Store) CreateBDE(ctx context.Context, name string) (directory.BDE, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return directory.BDE{}, fmt.Errorf("%w: name is required", directory.ErrInvalidInput)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from bdes where lower(name)=lower($1))`, name,
	).Scan(&exists); err != nil {
		return directory.BDE{}, err
	}
	if exists {
		return directory.BDE{}, fmt.Errorf("%w: bde %s", directory.ErrAlreadyExists, name)
	}

	b := directory.BDE{UUID: ids.New(), Name: name}
	if err := s.db.QueryRowContext(ctx,
		`insert into bdes(uuid, name) values($1,$2) returning created_at`,
		b.UUID, b.Name,
	).Scan(&b.CreatedAt); err != nil {
		return directory.BDE{}, err
	}
	return b, nil
}

func (s *Store) FindBDE(ctx context.Context, uuid string) (directory.BDE, error) {
	var b directory.BDE
	err := s.db.QueryRowContext(ctx,
		`select uuid, name, created_at from bdes where uuid=$1`, uuid,
	).Scan(&b.UUID, &b.Name, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.BDE{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.BDE{}, err
	}
	return b, nil
}

func (s *Store) ListBDEs(ctx context.Context) ([]directory.BDE, error) {
	rows, err := s.db.QueryContext(ctx,
		`select uuid, name, created_at from bdes order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []directory.BDE
	for rows.Next() {
		var b directory.BDE
		if err := rows.Scan(&b.UUID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (s *Store) BDEExists(ctx context.Context, uuid string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from bdes where uuid=$1)`, uuid,
	).Scan(&exists)
	return exists, err
}

func (s *Store) CreateUser(ctx context.Context, nu directory.NewUser) (directory.User, error) {
	email := strings.TrimSpace(strings.ToLower(nu.Email))
	if email == "" || !strings.Contains(email, "@") {
		return directory.User{}, fmt.Errorf("%w: valid email is required", directory.ErrInvalidInput)
	}
	if strings.TrimSpace(nu.Firstname) == "" || strings.TrimSpace(nu.Lastname) == "" {
		return directory.User{}, fmt.Errorf("%w: firstname and lastname are required", directory.ErrInvalidInput)
	}
	if strings.TrimSpace(nu.Password) == "" {
		return directory.User{}, fmt.Errorf("%w: password is required", directory.ErrInvalidInput)
	}
	bdeUUID := strings.TrimSpace(nu.BdeUUID)
	if bdeUUID == "" {
		return directory.User{}, fmt.Errorf("%w: bde_uuid is required", directory.ErrInvalidInput)
	}
	hash, err := auth.HashPassword(nu.Password)
	if err != nil {
		return directory.User{}, err
	}
	perms := resolvedPermissionNames(nu.Permissions)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return directory.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from bdes where uuid=$1)`, bdeUUID,
	).Scan(&exists); err != nil {
		return directory.User{}, err
	}
	if !exists {
		return directory.User{}, fmt.Errorf("%w: %s", directory.ErrBDENotExists, bdeUUID)
	}
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from users where email=$1)`, email,
	).Scan(&exists); err != nil {
		return directory.User{}, err
	}
	if exists {
		return directory.User{}, fmt.Errorf("%w: user %s", directory.ErrAlreadyExists, email)
	}

	u := directory.User{
		UUID:         ids.New(),
		BdeUUID:      bdeUUID,
		Email:        email,
		Firstname:    strings.TrimSpace(nu.Firstname),
		Lastname:     strings.TrimSpace(nu.Lastname),
		PasswordHash: hash,
		Permissions:  perms,
	}
	permsJSON, _ := json.Marshal(perms)
	if err := tx.QueryRowContext(ctx, `
		insert into users(uuid, bde_uuid, email, firstname, lastname, password_hash, permissions)
		values($1,$2,$3,$4,$5,$6,$7) returning created_at, updated_at
	`, u.UUID, u.BdeUUID, u.Email, u.Firstname, u.Lastname, u.PasswordHash, permsJSON,
	).Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return directory.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return directory.User{}, err
	}
	return u, nil
}

const userColumns = `uuid, bde_uuid, email, firstname, lastname, password_hash, permissions, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (directory.User, error) {
	var (
		u     directory.User
		perms []byte
	)
	if err := row.Scan(&u.UUID, &u.BdeUUID, &u.Email, &u.Firstname, &u.Lastname,
		&u.PasswordHash, &perms, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return directory.User{}, err
	}
	_ = json.Unmarshal(perms, &u.Permissions)
	return u, nil
}

func (s *Store) FindUser(ctx context.Context, uuid string) (directory.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where uuid=$1`, uuid))
	if errors.Is(err, sql.ErrNoRows) {
		return directory.User{}, directory.ErrNotFound
	}
	return u, err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (directory.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return directory.User{}, directory.ErrNotFound
	}
	return u, err
}

func (s *Store) ListUsersByBDE(ctx context.Context, bdeUUID string) ([]directory.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where bde_uuid=$1 order by created_at asc`, bdeUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []directory.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *Store) SetUserPermissions(ctx context.Context, uuid string, names []string) (directory.User, error) {
	perms := resolvedPermissionNames(names)
	permsJSON, _ := json.Marshal(perms)

	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`update users set permissions=$2, updated_at=now() where uuid=$1 returning updated_at`,
		uuid, permsJSON,
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.User{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.User{}, err
	}
	return s.FindUser(ctx, uuid)
}

func (s *Store) DeleteUser(ctx context.Context, uuid string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where uuid=$1`, uuid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return directory.ErrNotFound
	}
	return nil
}

func (s *Store) UserExists(ctx context.Context, uuid string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where uuid=$1)`, uuid,
	).Scan(&exists)
	return exists, err
}

func resolvedPermissionNames(names []string) []string {
	resolved := auth.PermissionsFromNames(names)
	if len(resolved) == 0 {
		return nil
	}
	out := make([]string, 0, len(resolved))
	for _, p := range resolved {
		out = append(out, p.Name)
	}
	return out
}
