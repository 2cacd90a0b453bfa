package auth

// Package auth contains domain-level types for authentication, sessions and
// authorization records. It is pure and free of framework/adapter concerns.

import (
	"strings"
	"time"
)

// Role represents an application's authorization role.
// Keep string form for easy persistence and caching.
// Valid values are defined as constants below.
type Role string

const (
	RoleResident Role = "resident"
	RolePolice   Role = "police"
	RoleAdmin    Role = "admin"
)

// Landing paths for each role.
const (
	ResidentDashboardPath = "/dashboard"
	PoliceDashboardPath   = "/police/dashboard"
	AdminDashboardPath    = "/admin/dashboard"
)

// Roles returns every known role.
func Roles() []Role {
	return []Role{RoleResident, RolePolice, RoleAdmin}
}

// ParseRole converts a stored role tag into a Role. Unknown tags yield "" and false.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", false
	}
	return r, true
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleResident, RolePolice, RoleAdmin:
		return true
	default:
		return false
	}
}

// RequiresApproval reports whether the role is only authoritative once approved.
func (r Role) RequiresApproval() bool {
	return r == RolePolice || r == RoleAdmin
}

// LandingPath returns the dashboard a user holding role r is sent to.
// Unknown roles fall back to the resident dashboard.
func LandingPath(r Role) string {
	switch r {
	case RoleAdmin:
		return AdminDashboardPath
	case RolePolice:
		return PoliceDashboardPath
	default:
		return ResidentDashboardPath
	}
}

// Principal is an authenticated identity as reported by the identity provider.
type Principal struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Identity represents the authenticated principal returned by an IdP.
// Adapters map provider-specific claims into this shape.
type Identity struct {
	UserID    string // stable user identifier (sub)
	FirstName string
	LastName  string
	Email     string
	ExpiresAt time.Time // absolute expiry from IdP token
}

// Session is the server-side record we persist for a signed-in browsing session.
// ID is an opaque session identifier carried in the session cookie.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Principal returns the identity carried by the session.
func (s Session) Principal() Principal {
	return Principal{UID: s.UserID, Email: s.Email}
}

// AuthorizationRecord is the locally cached role/approval data for a principal.
// The users table is authoritative; this is never assigned locally.
type AuthorizationRecord struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Approved bool   `json:"approved"`
}

// Holds reports whether the record grants role. Privileged roles need approval;
// residents are implicitly approved.
func (r AuthorizationRecord) Holds(role Role) bool {
	if !role.Valid() || r.Role != role {
		return false
	}
	if role.RequiresApproval() {
		return r.Approved
	}
	return true
}

// LandingPath returns the dashboard for the role the record actually grants.
// A privileged role awaiting approval lands on the resident dashboard.
func (r AuthorizationRecord) LandingPath() string {
	if r.Role.RequiresApproval() && !r.Approved {
		return ResidentDashboardPath
	}
	return LandingPath(r.Role)
}
