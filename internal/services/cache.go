package services

import (
	"sync"

	"github.com/roach88/restcore/internal/ir"
)

// Cache keeps users by session token and role subjects by user id.
// Safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	users map[string]ir.Object
	roles map[string][]string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		users: make(map[string]ir.Object),
		roles: make(map[string][]string),
	}
}

// GetUser returns the cached user for sessionToken.
func (c *Cache) GetUser(sessionToken string) (ir.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[sessionToken]
	if !ok {
		return nil, false
	}
	return ir.CloneObject(u), true
}

// PutUser caches user under sessionToken.
func (c *Cache) PutUser(sessionToken string, user ir.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[sessionToken] = ir.CloneObject(user)
}

// DelUser drops the user cached under sessionToken.
func (c *Cache) DelUser(sessionToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, sessionToken)
}

// GetRoles returns the cached role subjects of userID.
func (c *Cache) GetRoles(userID string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.roles[userID]
	return append([]string(nil), r...), ok
}

// PutRoles caches the role subjects of userID.
func (c *Cache) PutRoles(userID string, roles []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles[userID] = append([]string(nil), roles...)
}

// ClearRoles drops every cached role set. Role membership changes can
// affect any user through inheritance.
func (c *Cache) ClearRoles() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles = make(map[string][]string)
}
