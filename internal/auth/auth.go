// Package auth models the caller of a request: master key, read-only master,
// anonymous, or a user resolved from a session token. It also owns session
// creation, role resolution, password hashing and third-party auth provider
// validation.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
)

// RoleCache caches resolved role subjects per user.
type RoleCache interface {
	GetRoles(userID string) ([]string, bool)
	PutRoles(userID string, roles []string)
}

// Auth describes who is making a request.
type Auth struct {
	IsMaster       bool
	IsReadOnly     bool
	User           ir.Object
	InstallationID string

	roles []string
	// fetched is set once roles have been resolved for this request.
	fetched bool
}

// Master returns a master auth context.
func Master() *Auth {
	return &Auth{IsMaster: true}
}

// ReadOnlyMaster returns a master auth context that may not write.
func ReadOnlyMaster() *Auth {
	return &Auth{IsMaster: true, IsReadOnly: true}
}

// Nobody returns an unauthenticated auth context.
func Nobody() *Auth {
	return &Auth{}
}

// ForUser returns an auth context for user.
func ForUser(user ir.Object, installationID string) *Auth {
	return &Auth{User: user, InstallationID: installationID}
}

// UserID returns the objectId of the authenticated user, or "".
func (a *Auth) UserID() string {
	if a == nil || a.User == nil {
		return ""
	}
	return ir.ObjectID(a.User)
}

// IsUnauthenticated reports whether there is neither a master key nor a user.
func (a *Auth) IsUnauthenticated() bool {
	return !a.IsMaster && a.UserID() == ""
}

// UserPointer returns a Pointer to the authenticated user.
func (a *Auth) UserPointer() ir.Object {
	return ir.NewPointer(ir.ClassUser, a.UserID())
}

// UserRoles returns the role subjects ("role:Name") of the user, including
// inherited roles. Results are cached on the Auth and in cache.
func (a *Auth) UserRoles(ctx context.Context, adapter storage.Adapter, cache RoleCache) ([]string, error) {
	if a.IsMaster || a.UserID() == "" {
		return nil, nil
	}
	if a.fetched {
		return a.roles, nil
	}
	userID := a.UserID()
	if cache != nil {
		if roles, ok := cache.GetRoles(userID); ok {
			a.roles, a.fetched = roles, true
			return roles, nil
		}
	}

	roles, err := loadRoles(ctx, adapter, userID)
	if err != nil {
		return nil, err
	}
	a.roles, a.fetched = roles, true
	if cache != nil {
		cache.PutRoles(userID, roles)
	}
	return roles, nil
}

// ACL returns the subjects whose permissions apply to this caller:
// ["*", roles..., userId]. Master callers get nil, which disables row
// filtering.
func (a *Auth) ACL(ctx context.Context, adapter storage.Adapter, cache RoleCache) ([]string, error) {
	if a.IsMaster {
		return nil, nil
	}
	acl := []string{ir.PublicSubject}
	if a.UserID() == "" {
		return acl, nil
	}
	roles, err := a.UserRoles(ctx, adapter, cache)
	if err != nil {
		return nil, err
	}
	acl = append(acl, roles...)
	return append(acl, a.UserID()), nil
}

// loadRoles finds the roles that list the user directly, then walks up to
// every role that lists one of those as a child role.
func loadRoles(ctx context.Context, adapter storage.Adapter, userID string) ([]string, error) {
	res, err := adapter.Find(ctx, ir.ClassRole, ir.Object{
		"users": ir.NewPointer(ir.ClassUser, userID),
	}, storage.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}

	names := make(map[string]bool)
	visited := make(map[string]bool)
	queue := make([]ir.Object, 0, len(res.Results))
	queue = append(queue, res.Results...)

	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		id := ir.ObjectID(role)
		if visited[id] {
			continue
		}
		visited[id] = true
		if name, ok := role["name"].(string); ok && name != "" {
			names[name] = true
		}

		parents, err := adapter.Find(ctx, ir.ClassRole, ir.Object{
			"roles": ir.NewPointer(ir.ClassRole, id),
		}, storage.FindOptions{})
		if err != nil {
			return nil, fmt.Errorf("load parent roles: %w", err)
		}
		for _, p := range parents.Results {
			if !visited[ir.ObjectID(p)] {
				queue = append(queue, p)
			}
		}
	}

	roles := make([]string, 0, len(names))
	for name := range names {
		roles = append(roles, ir.RolePrefix+name)
	}
	sort.Strings(roles)
	slog.Debug("resolved roles", "user_id", userID, "roles", len(roles))
	return roles, nil
}
