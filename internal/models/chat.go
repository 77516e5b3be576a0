package models

// Chat type values as reported by the transport
const (
	ChatTypePrivate = "private"
	ChatTypeGroup   = "group"
	ChatTypeChannel = "channel"
)

// Chat represents a single conversation in the chat list
type Chat struct {
	ID          int64    `json:"id"`
	Type        string   `json:"type"` // "private", "group" or "channel"
	Title       string   `json:"title"`
	UnreadCount int      `json:"unreadCount"`
	IsPinned    bool     `json:"isPinned"`
	Order       int64    `json:"order"` // server-provided sort key, lower sorts first
	Photo       string   `json:"photo,omitempty"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	MemberCount int      `json:"memberCount,omitempty"`
}

// IsLargeGroup reports whether the chat is a group or channel with at least
// threshold members. Such chats are treated as low-value for AI analysis and
// get a synthesized placeholder instead of a real summary.
func (c *Chat) IsLargeGroup(threshold int) bool {
	if c.Type == ChatTypePrivate {
		return false
	}
	return c.MemberCount >= threshold && threshold > 0
}
