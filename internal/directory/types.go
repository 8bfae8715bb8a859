package directory

import (
	"errors"
	"time"

	"bdehub.org/internal/auth"
)

// BDE is the organizational unit that owns events and scopes permissions.
type BDE struct {
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a member of exactly one BDE. Permissions holds permission names;
// resolution against the catalog happens at evaluation time.
type User struct {
	UUID         string    `json:"uuid"`
	BdeUUID      string    `json:"bde_uuid"`
	Email        string    `json:"email"`
	Firstname    string    `json:"firstname"`
	Lastname     string    `json:"lastname"`
	PasswordHash string    `json:"-"`
	Permissions  []string  `json:"permissions"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Subject converts the user into an identity for permission evaluation.
func (u User) Subject() auth.Subject {
	return auth.NewSubject(u.UUID, u.BdeUUID, u.Permissions)
}

// NewUser is the payload for user creation.
type NewUser struct {
	BdeUUID     string
	Email       string
	Firstname   string
	Lastname    string
	Password    string
	Permissions []string
}

var (
	ErrNotFound      = errors.New("directory: not found")
	ErrAlreadyExists = errors.New("directory: already exists")
	ErrInvalidInput  = errors.New("directory: invalid input")
	ErrBDENotExists  = errors.New("directory: bde does not exist")
)
