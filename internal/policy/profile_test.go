package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(role Role) AccountRequest {
	return AccountRequest{
		Name:     "Ada",
		Surname:  "Lovelace",
		Email:    "ada@school.test",
		Password: "secret-password",
		Role:     role,
		SchoolID: "S1",
	}
}

func TestPlanTeacher(t *testing.T) {
	plan, err := BuildPlan(EntryUserCreate, caller(RoleSchoolAdmin), request(RoleTeacher))
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"teacher": true}, plan.Claims)
	require.NotNil(t, plan.Profile.School)
	assert.Equal(t, "S1", plan.Profile.School.ID)
	assert.Equal(t, "schools/S1", plan.Profile.School.Path)
	assert.Nil(t, plan.Profile.Class)
	assert.Nil(t, plan.Profile.Parent)
}

func TestPlanStudent(t *testing.T) {
	req := request(RoleStudent)
	req.ClassID = "C1"
	req.ParentID = "P1"

	plan, err := BuildPlan(EntryUserCreate, caller(RoleSchoolAdmin), req)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"student": true}, plan.Claims)
	assert.Equal(t, "S1", plan.Profile.School.ID)
	assert.Equal(t, "C1", plan.Profile.Class.ID)
	assert.Equal(t, "schools/S1/classes/C1", plan.Profile.Class.Path)
	assert.Equal(t, "P1", plan.Profile.Parent.ID)
	assert.Equal(t, "users/P1", plan.Profile.Parent.Path)

	assert.Equal(t, map[string]any{
		"name":      "Ada",
		"surname":   "Lovelace",
		"email":     "ada@school.test",
		"role":      "student",
		"school_id": "schools/S1",
		"class_id":  "schools/S1/classes/C1",
		"parent_id": "users/P1",
	}, plan.Profile.Fields())
}

func TestPlanSchoolAdmin(t *testing.T) {
	plan, err := BuildPlan(EntryAdminCreate, caller(RoleSuperAdmin), request(RoleSchoolAdmin))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"schoolAdmin": true}, plan.Claims)
	assert.Equal(t, RoleSchoolAdmin, plan.Profile.Role)
	assert.Equal(t, "S1", plan.Profile.School.ID)
}

func TestPlanUnauthenticated(t *testing.T) {
	for _, role := range Roles {
		_, err := BuildPlan(EntryUserCreate, Caller{}, request(role))
		require.ErrorIs(t, err, ErrUnauthenticated, "role %s", role)
	}
}

func TestPlanAuthorizesBeforeValidating(t *testing.T) {
	req := request(RoleStudent)
	_, err := BuildPlan(EntryUserCreate, caller(RoleTeacher), req)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestBuildProfileStudentLinkage(t *testing.T) {
	cases := map[string]func(*AccountRequest){
		"missing class":  func(r *AccountRequest) { r.ParentID = "P1" },
		"missing parent": func(r *AccountRequest) { r.ClassID = "C1" },
		"missing both":   func(r *AccountRequest) {},
		"blank class": func(r *AccountRequest) {
			r.ClassID = "   "
			r.ParentID = "P1"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request(RoleStudent)
			mutate(&req)
			_, err := BuildProfile(req)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestBuildProfileRejectsStudentLinkageOnOtherRoles(t *testing.T) {
	for _, role := range []Role{RoleSchoolAdmin, RoleTeacher, RoleParent} {
		req := request(role)
		req.ClassID = "C1"
		_, err := BuildProfile(req)
		require.ErrorIs(t, err, ErrInvalidArgument, "role %s", role)

		req = request(role)
		req.ParentID = "P1"
		_, err = BuildProfile(req)
		require.ErrorIs(t, err, ErrInvalidArgument, "role %s", role)
	}
}

func TestBuildProfileValidation(t *testing.T) {
	cases := map[string]func(*AccountRequest){
		"missing school":  func(r *AccountRequest) { r.SchoolID = "" },
		"missing email":   func(r *AccountRequest) { r.Email = "" },
		"malformed email": func(r *AccountRequest) { r.Email = "not-an-email" },
		"display email":   func(r *AccountRequest) { r.Email = "Ada <ada@school.test>" },
		"short password":  func(r *AccountRequest) { r.Password = "12345" },
		"long password":   func(r *AccountRequest) { r.Password = strings.Repeat("x", 73) },
		"slash in school": func(r *AccountRequest) { r.SchoolID = "S1/classes" },
		"unknown role":    func(r *AccountRequest) { r.Role = "janitor" },
		"super admin":     func(r *AccountRequest) { r.Role = RoleSuperAdmin },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request(RoleTeacher)
			mutate(&req)
			_, err := BuildProfile(req)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestBuildProfileNormalizes(t *testing.T) {
	req := request(RoleParent)
	req.Email = "  Ada@School.TEST "
	req.Role = "PARENT"
	req.SchoolID = " S1 "

	profile, err := BuildProfile(req)
	require.NoError(t, err)
	assert.Equal(t, "ada@school.test", profile.Email)
	assert.Equal(t, RoleParent, profile.Role)
	assert.Equal(t, "schools/S1", profile.School.Path)
}

func TestAccountRequestStringRedactsPassword(t *testing.T) {
	req := request(RoleTeacher)
	assert.NotContains(t, req.String(), req.Password)
}

func TestValidateCredentials(t *testing.T) {
	require.NoError(t, ValidateCredentials("ada@school.test", "123456"))
	assert.Equal(t, "email is required.", MessageOf(ValidateCredentials("", "123456")))
	assert.Equal(t, "password must be at least 6 characters.", MessageOf(ValidateCredentials("ada@school.test", "123")))
	require.NoError(t, ValidateCredentials("ada@school.test", strings.Repeat("x", 72)))
	assert.Equal(t, "password must be at most 72 bytes.", MessageOf(ValidateCredentials("ada@school.test", strings.Repeat("x", 80))))
}
