package api

import (
	"strings"
	"sync"
)

// Credential holds the server access key. It is injected into the client
// at construction; there is no package-level key.
type Credential struct {
	mu  sync.RWMutex
	key string
}

// NewCredential returns a credential primed with key, which may be empty.
func NewCredential(key string) *Credential {
	return &Credential{key: strings.TrimSpace(key)}
}

// Set replaces the access key.
func (c *Credential) Set(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = strings.TrimSpace(key)
}

// Clear drops the access key.
func (c *Credential) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = ""
}

// Key returns the current access key, or "" when none is set.
func (c *Credential) Key() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}
