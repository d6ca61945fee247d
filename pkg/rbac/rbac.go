// Package rbac maps roles to permission sets and answers role and
// permission queries.
//
// The policy is a static table built once at process start. All methods
// are pure: they never mutate the table and never perform I/O, so a
// single Policy can be shared by every request goroutine.
package rbac

import (
	"fmt"
	"slices"
	"strings"
)

// Role is an enumerated user role.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Permission is an application-defined capability token.
type Permission string

const (
	PermProfileRead     Permission = "profile:read"
	PermProfileUpdate   Permission = "profile:update"
	PermSessionsRead    Permission = "sessions:read"
	PermSessionsRevoke  Permission = "sessions:revoke"
	PermAccountsRead    Permission = "accounts:read"
	PermAccountsLink    Permission = "accounts:link"
	PermAccountsUnlink  Permission = "accounts:unlink"
	PermUsersList       Permission = "users:list"
	PermUsersRead       Permission = "users:read"
	PermUsersUpdateRole Permission = "users:update-role"
	PermUsersDeactivate Permission = "users:deactivate"
)

// ParseRole validates a role name. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Policy is an immutable role to permission table.
type Policy struct {
	perms map[Role]map[Permission]struct{}
}

// NewPolicy builds a Policy from a role to permission mapping. The input is
// copied; later changes to the map do not affect the policy.
func NewPolicy(table map[Role][]Permission) *Policy {
	p := &Policy{perms: make(map[Role]map[Permission]struct{}, len(table))}
	for role, list := range table {
		set := make(map[Permission]struct{}, len(list))
		for _, perm := range list {
			set[perm] = struct{}{}
		}
		p.perms[role] = set
	}
	return p
}

var userPermissions = []Permission{
	PermProfileRead,
	PermProfileUpdate,
	PermSessionsRead,
	PermSessionsRevoke,
	PermAccountsRead,
	PermAccountsLink,
	PermAccountsUnlink,
}

var adminOnlyPermissions = []Permission{
	PermUsersList,
	PermUsersRead,
	PermUsersUpdateRole,
	PermUsersDeactivate,
}

// DefaultPolicy returns the built-in role map. ADMIN holds every USER
// permission plus the user-management permissions.
func DefaultPolicy() *Policy {
	return NewPolicy(map[Role][]Permission{
		RoleUser:  userPermissions,
		RoleAdmin: append(slices.Clone(userPermissions), adminOnlyPermissions...),
	})
}

// PermissionsFor returns the permissions granted to role, sorted.
// Unknown roles have no permissions.
func (p *Policy) PermissionsFor(role Role) []Permission {
	set := p.perms[role]
	out := make([]Permission, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	slices.Sort(out)
	return out
}

// HasPermission reports whether role grants perm.
func (p *Policy) HasPermission(role Role, perm Permission) bool {
	_, ok := p.perms[role][perm]
	return ok
}

// Includes reports whether every permission of lower is also granted to
// higher.
func (p *Policy) Includes(higher, lower Role) bool {
	for perm := range p.perms[lower] {
		if !p.HasPermission(higher, perm) {
			return false
		}
	}
	return true
}

// HasRole reports whether role is one of required. An empty required list
// never matches.
func HasRole(role Role, required ...Role) bool {
	return slices.Contains(required, role)
}
