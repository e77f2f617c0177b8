package prompts

import (
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleWriter   Role = "writer"
	RoleModifier Role = "modifier"
	RoleReviewer Role = "reviewer"
)

var Roles = []Role{RoleWriter, RoleModifier, RoleReviewer}

var ErrInvalidRole = errors.New("invalid role")

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleWriter, RoleModifier, RoleReviewer:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Valid reports whether r is one of Roles exactly. Use ParseRole for
// user input that may differ in case or spacing.
func (r Role) Valid() bool {
	switch r {
	case RoleWriter, RoleModifier, RoleReviewer:
		return true
	}
	return false
}
