package policy

import "strings"

type Role string

const (
	RoleSuperAdmin  Role = "superAdmin"
	RoleSchoolAdmin Role = "schoolAdmin"
	RoleTeacher     Role = "teacher"
	RoleParent      Role = "parent"
	RoleStudent     Role = "student"
)

// Roles lists every role from most to least privileged.
var Roles = []Role{RoleSuperAdmin, RoleSchoolAdmin, RoleTeacher, RoleParent, RoleStudent}

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	_, ok := rules[r]
	return ok
}

// rank is only meaningful for comparison; teacher, parent and student share a rank.
func (r Role) rank() int {
	switch r {
	case RoleSuperAdmin:
		return 2
	case RoleSchoolAdmin:
		return 1
	case RoleTeacher, RoleParent, RoleStudent:
		return 0
	default:
		return -1
	}
}

// Outranks reports whether r sits strictly above other in the hierarchy.
func (r Role) Outranks(other Role) bool {
	if !r.IsValid() || !other.IsValid() {
		return false
	}
	return r.rank() > other.rank()
}

// ParseRole accepts the canonical camel-case names and is lenient about case and
// surrounding whitespace.
func ParseRole(value string) (Role, bool) {
	value = strings.TrimSpace(value)
	for _, role := range Roles {
		if strings.EqualFold(value, string(role)) {
			return role, true
		}
	}
	return "", false
}
