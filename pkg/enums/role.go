package enums

import (
	"fmt"
	"strings"
)

// Role is the caller role carried in access tokens.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// ParseRole converts raw input into a Role, case-insensitively.
func ParseRole(value string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(value)))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid role %q", value)
	}
	return r, nil
}
