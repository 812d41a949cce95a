package auth

import "errors"

// Role represents an authorisation tier of an API token.
type Role string

const (
	// RoleViewer can read detector values, history and status.
	RoleViewer Role = "viewer"

	// RoleOperator can also write setpoints and connect or disconnect
	// detector addresses.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Domain errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)
