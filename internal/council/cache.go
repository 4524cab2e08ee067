package council

import (
	"sync"

	"github.com/rs/zerolog"
)

// Cache is the single source of truth mapping conversation id to
// snapshot. It serves both the conversation on screen and any
// conversation still streaming in the background; while a stream for an
// id is live, Get always returns the most recently reduced snapshot,
// never a stale network copy.
type Cache struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	logger        zerolog.Logger
}

// NewCache constructs an empty cache.
func NewCache(logger zerolog.Logger) *Cache {
	return &Cache{
		conversations: make(map[string]*Conversation),
		logger:        logger,
	}
}

// Get returns the cached snapshot for id. The second return value
// distinguishes "not cached" (fetch from the server) from a hit.
func (c *Cache) Get(id string) (*Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[id]
	return conv, ok
}

// Set replaces the snapshot for id wholesale.
func (c *Cache) Set(id string, conv *Conversation) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations[id] = conv
}

// Evict removes the entry for id, if any.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conversations, id)
}

// Len returns the number of resident snapshots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conversations)
}

// UpdateLast applies updater to a copy of the last message of the
// resident snapshot and writes the result back. Events for a
// conversation nobody is tracking are silently dropped.
func (c *Cache) UpdateLast(id string, updater func(*Message)) {
	if updater == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.conversations[id]
	if !ok || conv == nil || len(conv.Messages) == 0 {
		c.logger.Debug().Str("conversation_id", id).Msg("update for non-resident conversation dropped")
		return
	}

	next := conv.Clone()
	updater(next.Messages[len(next.Messages)-1])
	c.conversations[id] = next
}

// ApplyEvent reduces one stream event against the resident snapshot and
// stores the result. It reports the requested effects and whether the
// conversation was resident; events for unknown conversations are
// dropped without error.
func (c *Cache) ApplyEvent(id string, ev Event) (Effects, bool) {
	if !ev.Type.Known() {
		c.logger.Warn().Str("event_type", string(ev.Type)).Str("conversation_id", id).Msg("ignoring unknown stream event type")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.conversations[id]
	if !ok {
		c.logger.Debug().Str("conversation_id", id).Str("event_type", string(ev.Type)).Msg("stream event for non-resident conversation dropped")
		return Effects{}, false
	}

	next, effects := Reduce(conv, ev)
	c.conversations[id] = next
	return effects, true
}
