package domain

import "fmt"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
	// RoleSystem is used by background jobs and carries administrator rights.
	RoleSystem Role = "system"
)

// Principal is an already authenticated actor.
type Principal struct {
	ID   string
	Role Role
}

var SystemPrincipal = Principal{ID: "system", Role: RoleSystem}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleSystem
}

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCustomer, RoleProvider, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role: %q", s)
	}
}
