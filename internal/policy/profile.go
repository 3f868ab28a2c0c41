package policy

import (
	"net/mail"
	"strings"
)

const (
	MinPasswordLength = 6
	// MaxPasswordBytes is the longest input bcrypt accepts.
	MaxPasswordBytes = 72
)

// AccountRequest is the payload of a provisioning call. Password is opaque and must
// never be logged; String redacts it.
type AccountRequest struct {
	Name     string
	Surname  string
	Email    string
	Password string
	Role     Role
	SchoolID string
	ClassID  string
	ParentID string
}

func (r AccountRequest) String() string {
	return "AccountRequest{email=" + r.Email + " role=" + string(r.Role) + " school=" + r.SchoolID + "}"
}

// Normalize trims every field, lower-cases the email and canonicalises the role
// name. Unknown roles are left as given so validation can report them.
func (r AccountRequest) Normalize() AccountRequest {
	r.Name = strings.TrimSpace(r.Name)
	r.Surname = strings.TrimSpace(r.Surname)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if role, ok := ParseRole(string(r.Role)); ok {
		r.Role = role
	} else {
		r.Role = Role(strings.TrimSpace(string(r.Role)))
	}
	r.SchoolID = strings.TrimSpace(r.SchoolID)
	r.ClassID = strings.TrimSpace(r.ClassID)
	r.ParentID = strings.TrimSpace(r.ParentID)
	return r
}

func (r AccountRequest) link(l Link) string {
	switch l {
	case LinkSchool:
		return r.SchoolID
	case LinkClass:
		return r.ClassID
	case LinkParent:
		return r.ParentID
	default:
		return ""
	}
}

var linkFields = map[Link]string{
	LinkSchool: "schoolId",
	LinkClass:  "classId",
	LinkParent: "parentId",
}

// Reference is a symbolic foreign key into an external collection.
type Reference struct {
	Path string
	ID   string
}

func SchoolRef(schoolID string) *Reference {
	return &Reference{Path: "schools/" + schoolID, ID: schoolID}
}

func ClassRef(schoolID, classID string) *Reference {
	return &Reference{Path: "schools/" + schoolID + "/classes/" + classID, ID: classID}
}

func UserRef(userID string) *Reference {
	return &Reference{Path: "users/" + userID, ID: userID}
}

// ProfileRecord is the non-authentication data persisted for an account.
type ProfileRecord struct {
	Name    string
	Surname string
	Email   string
	Role    Role
	School  *Reference
	Class   *Reference
	Parent  *Reference
}

// Fields renders the record as the document written to users/{uid}. References
// are stored as paths.
func (p ProfileRecord) Fields() map[string]any {
	fields := map[string]any{
		"name":    p.Name,
		"surname": p.Surname,
		"email":   p.Email,
		"role":    string(p.Role),
	}
	if p.School != nil {
		fields["school_id"] = p.School.Path
	}
	if p.Class != nil {
		fields["class_id"] = p.Class.Path
	}
	if p.Parent != nil {
		fields["parent_id"] = p.Parent.Path
	}
	return fields
}

// ValidateCredentials checks an already normalized email and the password length.
func ValidateCredentials(email, password string) error {
	if email == "" {
		return invalidArgument("email is required.")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return invalidArgument("email is malformed.")
	}
	if len(password) < MinPasswordLength {
		return invalidArgument("password must be at least 6 characters.")
	}
	if len(password) > MaxPasswordBytes {
		return invalidArgument("password must be at most 72 bytes.")
	}
	return nil
}

// BuildProfile validates req and derives the profile to persist. Linkage fields
// outside the role's table entry are rejected rather than dropped.
func BuildProfile(req AccountRequest) (ProfileRecord, error) {
	req = req.Normalize()

	if !req.Role.IsValid() {
		return ProfileRecord{}, invalidArgument("Unknown role " + string(req.Role) + ".")
	}
	if _, ok := requiredClaim(req.Role); !ok {
		return ProfileRecord{}, invalidArgument(string(req.Role) + " accounts cannot be provisioned.")
	}
	if err := ValidateCredentials(req.Email, req.Password); err != nil {
		return ProfileRecord{}, err
	}

	links := linksFor(req.Role)
	allowed := make(map[Link]bool, len(links))
	for _, l := range links {
		allowed[l] = true
	}
	for _, l := range []Link{LinkSchool, LinkClass, LinkParent} {
		value := req.link(l)
		field := linkFields[l]
		switch {
		case allowed[l] && value == "":
			return ProfileRecord{}, invalidArgument(field + " is required for " + string(req.Role) + " accounts.")
		case !allowed[l] && value != "":
			return ProfileRecord{}, invalidArgument(field + " is not accepted for " + string(req.Role) + " accounts.")
		case strings.Contains(value, "/"):
			return ProfileRecord{}, invalidArgument(field + " must not contain '/'.")
		}
	}

	profile := ProfileRecord{
		Name:    req.Name,
		Surname: req.Surname,
		Email:   req.Email,
		Role:    req.Role,
	}
	if allowed[LinkSchool] {
		profile.School = SchoolRef(req.SchoolID)
	}
	if allowed[LinkClass] {
		profile.Class = ClassRef(req.SchoolID, req.ClassID)
	}
	if allowed[LinkParent] {
		profile.Parent = UserRef(req.ParentID)
	}
	return profile, nil
}
