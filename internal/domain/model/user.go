//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
)

const (
	maxUIDLen   = 128
	maxEmailLen = 320

	defaultUsersLimit = 50
	maxUsersLimit     = 500
)

// User is a row of the users table: the authoritative role/approval record.
type User struct {
	UID       string          `json:"uid"        db:"uid"`
	Email     string          `json:"email"      db:"email"`
	Role      domainauth.Role `json:"role"       db:"role"`
	Approved  bool            `json:"approved"   db:"approved"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Record returns the authorization view of the user.
func (u User) Record() domainauth.AuthorizationRecord {
	return domainauth.AuthorizationRecord{
		UID:      u.UID,
		Email:    u.Email,
		Role:     u.Role,
		Approved: u.Approved,
	}
}

// CreateUserRequest is the input for creating a user record.
type CreateUserRequest struct {
	UID      string          `json:"uid"`
	Email    string          `json:"email"`
	Role     domainauth.Role `json:"role"`
	Approved bool            `json:"approved"`
}

// Normalize trims inputs and lowercases the role.
func (r *CreateUserRequest) Normalize() {
	r.UID = strings.TrimSpace(r.UID)
	r.Email = strings.TrimSpace(r.Email)
	if role, ok := domainauth.ParseRole(string(r.Role)); ok {
		r.Role = role
	}
	if r.Role == "" {
		r.Role = domainauth.RoleResident
	}
}

// Validate checks required fields and bounds.
func (r *CreateUserRequest) Validate() error {
	if r.UID == "" {
		return errors.New("uid is required")
	}
	if utf8.RuneCountInString(r.UID) > maxUIDLen {
		return errors.New("uid is too long")
	}
	if r.Email != "" {
		if utf8.RuneCountInString(r.Email) > maxEmailLen {
			return errors.New("email is too long")
		}
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return errors.New("email is invalid")
		}
	}
	if !r.Role.Valid() {
		return errors.New("role must be one of resident, police, admin")
	}
	return nil
}

// UsersListOptions controls paging and filtering for listing users.
type UsersListOptions struct {
	Limit    int
	Offset   int
	Role     *domainauth.Role
	Approved *bool
}

// Normalize clamps paging values.
func (o *UsersListOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = defaultUsersLimit
	}
	if o.Limit > maxUsersLimit {
		o.Limit = maxUsersLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
