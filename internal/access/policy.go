// Package access resolves which permissions a role holds. Permissions form
// a directed implication graph; each role's closure is computed once when
// the policy is built.
package access

import (
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleNurse      Role = "nurse"
	RolePharmacist Role = "pharmacist"
	RolePhysician  Role = "physician"
	RoleAdmin      Role = "admin"
)

type Permission string

const (
	ViewCitations            Permission = "view_citations"
	QueryKnowledge           Permission = "query_knowledge"
	UseClinicalTools         Permission = "use_clinical_tools"
	UseAdvancedClinicalTools Permission = "use_advanced_clinical_tools"
	IngestDocuments          Permission = "ingest_documents"
	ViewMetrics              Permission = "view_metrics"
	ManageUsers              Permission = "manage_users"
)

var allPermissions = []Permission{
	ViewCitations, QueryKnowledge, UseClinicalTools, UseAdvancedClinicalTools,
	IngestDocuments, ViewMetrics, ManageUsers,
}

func (p Permission) Valid() bool {
	for _, known := range allPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// DefaultImplications: holding the key permission grants every listed one.
var DefaultImplications = map[Permission][]Permission{
	ManageUsers:              {IngestDocuments, ViewMetrics},
	IngestDocuments:          {QueryKnowledge},
	UseAdvancedClinicalTools: {UseClinicalTools},
	UseClinicalTools:         {QueryKnowledge},
	QueryKnowledge:           {ViewCitations},
}

var DefaultGrants = map[Role][]Permission{
	RoleStudent:    {QueryKnowledge},
	RoleNurse:      {UseClinicalTools},
	RolePharmacist: {UseAdvancedClinicalTools},
	RolePhysician:  {UseAdvancedClinicalTools},
	RoleAdmin:      {ManageUsers, UseAdvancedClinicalTools},
}

type Set map[Permission]struct{}

func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted lists the permissions in lexical order.
func (s Set) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Policy is read-only after construction and safe for concurrent use.
type Policy struct {
	closure map[Role]Set
}

func NewPolicy(grants map[Role][]Permission, implies map[Permission][]Permission) (*Policy, error) {
	for from, tos := range implies {
		if !from.Valid() {
			return nil, fmt.Errorf("unknown permission %q in implication graph", from)
		}
		for _, to := range tos {
			if !to.Valid() {
				return nil, fmt.Errorf("unknown permission %q implied by %q", to, from)
			}
		}
	}

	closure := make(map[Role]Set, len(grants))
	for role, perms := range grants {
		set := Set{}
		for _, p := range perms {
			if !p.Valid() {
				return nil, fmt.Errorf("unknown permission %q granted to %q", p, role)
			}
			expand(p, implies, set)
		}
		closure[role] = set
	}

	return &Policy{closure: closure}, nil
}

func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultGrants, DefaultImplications)
	if err != nil {
		panic(err)
	}
	return p
}

// expand adds p and everything reachable from it. Already-visited nodes
// stop the walk, so cycles terminate.
func expand(p Permission, implies map[Permission][]Permission, set Set) {
	if set.Has(p) {
		return
	}
	set[p] = struct{}{}
	for _, next := range implies[p] {
		expand(next, implies, set)
	}
}

// Permissions returns the role's closed permission set. Unknown roles get
// an empty set.
func (p *Policy) Permissions(role Role) Set {
	if set, ok := p.closure[role]; ok {
		return set
	}
	return Set{}
}

func (p *Policy) Allows(role Role, perm Permission) bool {
	return p.Permissions(role).Has(perm)
}

func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	switch role {
	case RoleStudent, RoleNurse, RolePharmacist, RolePhysician, RoleAdmin:
		return role, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}
