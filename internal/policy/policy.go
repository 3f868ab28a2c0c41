// Package policy decides who may provision which school accounts and what gets
// attached to them. It performs no I/O and holds no state, so every function is
// safe to call concurrently.
package policy

// Entry identifies a provisioning entry point. Entry points are disjoint in the
// roles they accept.
type Entry string

const (
	EntryAdminCreate Entry = "createSchoolAdmin"
	EntryUserCreate  Entry = "createUser"
)

type Link string

const (
	LinkSchool Link = "school"
	LinkClass  Link = "class"
	LinkParent Link = "parent"
)

type rule struct {
	entry    Entry
	requires Role
	links    []Link
	denied   string
}

// rules is the whole hierarchy. superAdmin has no entry and no granting claim, so
// nothing can provision it.
var rules = map[Role]rule{
	RoleSuperAdmin: {},
	RoleSchoolAdmin: {
		entry:    EntryAdminCreate,
		requires: RoleSuperAdmin,
		links:    []Link{LinkSchool},
		denied:   "Only superAdmins can create new schoolAdmins",
	},
	RoleTeacher: {
		entry:    EntryUserCreate,
		requires: RoleSchoolAdmin,
		links:    []Link{LinkSchool},
		denied:   "Only admins can create new users",
	},
	RoleParent: {
		entry:    EntryUserCreate,
		requires: RoleSchoolAdmin,
		links:    []Link{LinkSchool},
		denied:   "Only admins can create new users",
	},
	RoleStudent: {
		entry:    EntryUserCreate,
		requires: RoleSchoolAdmin,
		links:    []Link{LinkSchool, LinkClass, LinkParent},
		denied:   "Only admins can create new users",
	},
}

var entryRejections = map[Entry]string{
	EntryAdminCreate: "Only schoolAdmin accounts can be created here.",
	EntryUserCreate:  "Cannot create an admin user.",
}

// Caller is the identity invoking a provisioning operation.
type Caller struct {
	Authenticated bool
	UID           string
	Claims        map[Role]bool
}

func (c Caller) Has(role Role) bool {
	return c.Claims[role]
}

// requiredClaim returns the caller claim needed to provision role. ok is false for
// roles nothing can provision.
func requiredClaim(role Role) (Role, bool) {
	r, found := rules[role]
	if !found || r.requires == "" {
		return "", false
	}
	return r.requires, true
}

// linksFor returns the linkage references a profile of role carries.
func linksFor(role Role) []Link {
	return append([]Link(nil), rules[role].links...)
}

// Authorize checks the hierarchy alone: the caller must be authenticated and hold
// the claim that grants role.
func Authorize(caller Caller, role Role) error {
	if !caller.Authenticated {
		return unauthenticated("The function must be called while authenticated.")
	}
	r, ok := rules[role]
	if !ok {
		return invalidArgument("Unknown role " + string(role) + ".")
	}
	if r.requires == "" {
		return permissionDenied(string(role) + " accounts cannot be provisioned.")
	}
	if !caller.Has(r.requires) {
		return permissionDenied(r.denied)
	}
	return nil
}

// AuthorizeEntry applies Authorize after checking that role may be provisioned
// through entry at all. A role outside the entry point is rejected as malformed
// whatever claims the caller holds.
func AuthorizeEntry(entry Entry, caller Caller, role Role) error {
	if !caller.Authenticated {
		return unauthenticated("The function must be called while authenticated.")
	}
	rejection, known := entryRejections[entry]
	if !known {
		return invalidArgument("Unknown entry point " + string(entry) + ".")
	}
	r, ok := rules[role]
	switch {
	case role == "":
		return invalidArgument("A role is required.")
	case !ok:
		return invalidArgument("Unknown role " + string(role) + ".")
	case r.entry != entry:
		return invalidArgument(rejection)
	}
	return Authorize(caller, role)
}

// BuildClaims returns the custom claims attached to a new account of role.
func BuildClaims(role Role) map[string]bool {
	return map[string]bool{string(role): true}
}

// Plan is everything the surrounding system needs to execute an allowed request.
type Plan struct {
	Entry   Entry
	Role    Role
	Email   string
	Claims  map[string]bool
	Profile ProfileRecord
}

// BuildPlan authorizes req through entry and computes its claims and profile.
// Authorization runs first so unauthorized callers learn nothing about payload
// validation.
func BuildPlan(entry Entry, caller Caller, req AccountRequest) (Plan, error) {
	req = req.Normalize()
	if err := AuthorizeEntry(entry, caller, req.Role); err != nil {
		return Plan{}, err
	}
	profile, err := BuildProfile(req)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Entry:   entry,
		Role:    req.Role,
		Email:   req.Email,
		Claims:  BuildClaims(req.Role),
		Profile: profile,
	}, nil
}
