package auth

import "strings"

// Role is an API access level.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// roleOrder lists roles from least to most privileged.
var roleOrder = []Role{RoleViewer, RoleOperator, RoleAdmin}

// ParseRole accepts a role name in any case.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	return role, role.rank() > 0
}

// Satisfies reports whether r grants at least the required role.
func (r Role) Satisfies(required Role) bool {
	rank := r.rank()
	return rank > 0 && rank >= required.rank()
}

func (r Role) rank() int {
	for i, role := range roleOrder {
		if role == r {
			return i + 1
		}
	}
	return 0
}
