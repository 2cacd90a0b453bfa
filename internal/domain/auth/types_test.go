package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{in: "resident", want: RoleResident, ok: true},
		{in: " Police ", want: RolePolice, ok: true},
		{in: "ADMIN", want: RoleAdmin, ok: true},
		{in: "superuser", want: "", ok: false},
		{in: "", want: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseRole(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestLandingPath(t *testing.T) {
	assert.Equal(t, "/admin/dashboard", LandingPath(RoleAdmin))
	assert.Equal(t, "/police/dashboard", LandingPath(RolePolice))
	assert.Equal(t, "/dashboard", LandingPath(RoleResident))
	assert.Equal(t, "/dashboard", LandingPath(Role("janitor")))
	assert.Equal(t, "/dashboard", LandingPath(""))
}

func TestAuthorizationRecord_Holds(t *testing.T) {
	tests := []struct {
		name   string
		record AuthorizationRecord
		role   Role
		want   bool
	}{
		{name: "approved admin", record: AuthorizationRecord{Role: RoleAdmin, Approved: true}, role: RoleAdmin, want: true},
		{name: "unapproved admin", record: AuthorizationRecord{Role: RoleAdmin}, role: RoleAdmin, want: false},
		{name: "approved police", record: AuthorizationRecord{Role: RolePolice, Approved: true}, role: RolePolice, want: true},
		{name: "unapproved police", record: AuthorizationRecord{Role: RolePolice}, role: RolePolice, want: false},
		{name: "admin is not police", record: AuthorizationRecord{Role: RoleAdmin, Approved: true}, role: RolePolice, want: false},
		{name: "resident implicitly approved", record: AuthorizationRecord{Role: RoleResident}, role: RoleResident, want: true},
		{name: "unknown role never holds", record: AuthorizationRecord{Role: "janitor", Approved: true}, role: "janitor", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.Holds(tt.role))
		})
	}
}

func TestAuthorizationRecord_LandingPath(t *testing.T) {
	assert.Equal(t, "/admin/dashboard", AuthorizationRecord{Role: RoleAdmin, Approved: true}.LandingPath())
	assert.Equal(t, "/police/dashboard", AuthorizationRecord{Role: RolePolice, Approved: true}.LandingPath())
	assert.Equal(t, "/dashboard", AuthorizationRecord{Role: RolePolice}.LandingPath())
	assert.Equal(t, "/dashboard", AuthorizationRecord{Role: RoleAdmin}.LandingPath())
	assert.Equal(t, "/dashboard", AuthorizationRecord{Role: RoleResident}.LandingPath())
	assert.Equal(t, "/dashboard", AuthorizationRecord{Role: "janitor", Approved: true}.LandingPath())
}
