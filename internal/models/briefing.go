package models

// Priority labels for briefing items
const (
	PriorityUrgent     = "urgent"
	PriorityNeedsReply = "needs_reply"
	PriorityFYI        = "fyi"
)

// ChatContext is the per-chat payload sent to the AI collaborator when
// generating a briefing.
type ChatContext struct {
	ChatID                int64     `json:"chatId"`
	ChatTitle             string    `json:"chatTitle"`
	ChatType              string    `json:"chatType"`
	Messages              []Message `json:"messages"`
	UnreadCount           int       `json:"unreadCount"`
	LastMessageIsOutgoing bool      `json:"lastMessageIsOutgoing"`
	HasUnansweredQuestion bool      `json:"hasUnansweredQuestion"`
	HoursSinceActivity    float64   `json:"hoursSinceLastActivity"`
	IsPrivateChat         bool      `json:"isPrivateChat"`
}

// BriefingItem is one chat's entry in a generated briefing
type BriefingItem struct {
	ChatID          int64  `json:"chatId"`
	ChatName        string `json:"chatName"`
	ChatType        string `json:"chatType"`
	UnreadCount     int    `json:"unreadCount"`
	LastMessage     string `json:"lastMessage,omitempty"`
	LastMessageDate int64  `json:"lastMessageDate,omitempty"`
	Priority        string `json:"priority"`
	Summary         string `json:"summary"`
	SuggestedReply  string `json:"suggestedReply,omitempty"`
	NeedsResponse   bool   `json:"needsResponse"`
	LastActivity    int64  `json:"lastActivity"` // unix seconds, drives recency sort
}

// BriefingStats are aggregate counts computed at generation time. They are
// intentionally not recomputed when single items are patched or removed.
type BriefingStats struct {
	NeedsResponseCount int `json:"needsResponseCount"`
	FYICount           int `json:"fyiCount"`
	TotalUnread        int `json:"totalUnread"`
}

// BriefingResult is the AI collaborator's response for a briefing request.
// Cached/GeneratedAt/CacheAge describe the collaborator's own cache, which is
// independent of the client-side TTL layer.
type BriefingResult struct {
	Items       []BriefingItem `json:"items"`
	Stats       BriefingStats  `json:"stats"`
	GeneratedAt int64          `json:"generatedAt"`
	Cached      bool           `json:"cached"`
	CacheAge    string         `json:"cacheAge,omitempty"`
}
