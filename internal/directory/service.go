package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"bdehub.org/internal/auth"
	"bdehub.org/internal/ids"
)

// Service defines directory operations over BDEs and users.
type Service interface {
	CreateBDE(ctx context.Context, name string) (BDE, error)
	FindBDE(ctx context.Context, uuid string) (BDE, error)
	ListBDEs(ctx context.Context) ([]BDE, error)
	BDEExists(ctx context.Context, uuid string) (bool, error)

	CreateUser(ctx context.Context, nu NewUser) (User, error)
	FindUser(ctx context.Context, uuid string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ListUsersByBDE(ctx context.Context, bdeUUID string) ([]User, error)
	SetUserPermissions(ctx context.Context, uuid string, names []string) (User, error)
	DeleteUser(ctx context.Context, uuid string) error
	UserExists(ctx context.Context, uuid string) (bool, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	bdes  map[string]*BDE
	users map[string]*User
}

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		bdes:  make(map[string]*BDE),
		users: make(map[string]*User),
	}
}

var _ Service = (*InMemory)(nil)

func (s *InMemory) CreateBDE(ctx context.Context, name string) (BDE, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return BDE{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bdes {
		if strings.EqualFold(b.Name, name) {
			return BDE{}, fmt.Errorf("%w: bde %s", ErrAlreadyExists, name)
		}
	}
	b := &BDE{
		UUID:      ids.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.bdes[b.UUID] = b
	return *b, nil
}

func (s *InMemory) FindBDE(ctx context.Context, uuid string) (BDE, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bdes[uuid]
	if !ok {
		return BDE{}, ErrNotFound
	}
	return *b, nil
}

func (s *InMemory) ListBDEs(ctx context.Context) ([]BDE, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BDE, 0, len(s.bdes))
	for _, b := range s.bdes {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (s *InMemory) BDEExists(ctx context.Context, uuid string) (bool, error) {
	_, err := s.FindBDE(ctx, uuid)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *InMemory) CreateUser(ctx context.Context, nu NewUser) (User, error) {
	email := strings.TrimSpace(strings.ToLower(nu.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(nu.Firstname) == "" || strings.TrimSpace(nu.Lastname) == "" {
		return User{}, fmt.Errorf("%w: firstname and lastname are required", ErrInvalidInput)
	}
	if strings.TrimSpace(nu.Password) == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	bdeUUID := strings.TrimSpace(nu.BdeUUID)
	if bdeUUID == "" {
		return User{}, fmt.Errorf("%w: bde_uuid is required", ErrInvalidInput)
	}
	hash, err := auth.HashPassword(nu.Password)
	if err != nil {
		return User{}, err
	}
	perms := permissionNames(nu.Permissions)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bdes[bdeUUID]; !ok {
		return User{}, fmt.Errorf("%w: %s", ErrBDENotExists, bdeUUID)
	}
	for _, u := range s.users {
		if u.Email == email {
			return User{}, fmt.Errorf("%w: user %s", ErrAlreadyExists, email)
		}
	}
	now := time.Now().UTC()
	u := &User{
		UUID:         ids.New(),
		BdeUUID:      bdeUUID,
		Email:        email,
		Firstname:    strings.TrimSpace(nu.Firstname),
		Lastname:     strings.TrimSpace(nu.Lastname),
		PasswordHash: hash,
		Permissions:  perms,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.UUID] = u
	return *u, nil
}

func (s *InMemory) FindUser(ctx context.Context, uuid string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[uuid]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *InMemory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *InMemory) ListUsersByBDE(ctx context.Context, bdeUUID string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, u := range s.users {
		if u.BdeUUID == bdeUUID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (s *InMemory) SetUserPermissions(ctx context.Context, uuid string, names []string) (User, error) {
	perms := permissionNames(names)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uuid]
	if !ok {
		return User{}, ErrNotFound
	}
	u.Permissions = perms
	u.UpdatedAt = time.Now().UTC()
	return *u, nil
}

func (s *InMemory) DeleteUser(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[uuid]; !ok {
		return ErrNotFound
	}
	delete(s.users, uuid)
	return nil
}

func (s *InMemory) UserExists(ctx context.Context, uuid string) (bool, error) {
	_, err := s.FindUser(ctx, uuid)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// permissionNames resolves incoming names against the catalog; unknown names
// drop silently and duplicates collapse.
func permissionNames(names []string) []string {
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
