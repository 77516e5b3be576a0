package settings

import (
	"chattriage/internal/models"
)

// Cache entities with per-entity TTL configuration
const (
	EntityChats     = "chats"
	EntityMessages  = "messages"
	EntityBriefing  = "briefing"
	EntitySummaries = "summaries"
)

// Provider is the read-only settings boundary consumed by the cache layer.
// Changing either the chat filters or a TTL is one of the triggers that
// invalidates a cache fingerprint.
type Provider interface {
	// ChatFilters returns the global chat-list filter configuration
	ChatFilters() models.ChatFilters

	// TTLMinutes returns the configured TTL for a cache entity
	TTLMinutes(entity string) int
}

// Static is a fixed in-memory Provider, used in tests and as the fallback
// when no persisted settings exist.
type Static struct {
	Filters models.ChatFilters
	TTLs    map[string]int
}

func (s *Static) ChatFilters() models.ChatFilters { return s.Filters }

func (s *Static) TTLMinutes(entity string) int {
	if ttl, ok := s.TTLs[entity]; ok && ttl > 0 {
		return ttl
	}
	return 0
}
