package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyClosure(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, []Permission{QueryKnowledge, ViewCitations}, p.Permissions(RoleStudent).Sorted())
	assert.Equal(t, []Permission{QueryKnowledge, UseClinicalTools, ViewCitations}, p.Permissions(RoleNurse).Sorted())

	assert.True(t, p.Allows(RolePhysician, UseClinicalTools))
	assert.True(t, p.Allows(RolePhysician, ViewCitations))
	assert.False(t, p.Allows(RolePhysician, IngestDocuments))

	for _, perm := range allPermissions {
		assert.True(t, p.Allows(RoleAdmin, perm), perm)
	}
}

func TestUnknownRoleHasNoPermissions(t *testing.T) {
	p := DefaultPolicy()
	assert.Empty(t, p.Permissions(Role("visitor")))
	assert.False(t, p.Allows(Role("visitor"), ViewCitations))
}

func TestPolicyHandlesCycles(t *testing.T) {
	p, err := NewPolicy(
		map[Role][]Permission{RoleNurse: {UseClinicalTools}},
		map[Permission][]Permission{
			UseClinicalTools: {QueryKnowledge},
			QueryKnowledge:   {UseClinicalTools, ViewCitations},
		},
	)
	require.NoError(t, err)
	assert.Len(t, p.Permissions(RoleNurse), 3)
}

func TestPolicyRejectsUnknownPermissions(t *testing.T) {
	_, err := NewPolicy(map[Role][]Permission{RoleNurse: {"fly"}}, nil)
	assert.Error(t, err)

	_, err = NewPolicy(nil, map[Permission][]Permission{QueryKnowledge: {"teleport"}})
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Physician ")
	require.NoError(t, err)
	assert.Equal(t, RolePhysician, role)

	_, err = ParseRole("janitor")
	assert.Error(t, err)
}
