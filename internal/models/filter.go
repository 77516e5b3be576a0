package models

// Sort keys accepted by the derived-result services
const (
	SortNeedsResponse = "needs_response"
	SortRecent        = "recent"
	SortSentiment     = "sentiment"
)

// ChatFilters is the global chat-list filter configuration. It comes from the
// settings collaborator and is part of every cache fingerprint, so flipping a
// filter invalidates cached data even before its TTL expires.
type ChatFilters struct {
	Types               []string `json:"types,omitempty"` // empty = all chat types
	OnlyUnread          bool     `json:"onlyUnread"`
	IncludeMuted        bool     `json:"includeMuted"`
	ExcludeLargeGroups  bool     `json:"excludeLargeGroups"`
	LargeGroupThreshold int      `json:"largeGroupThreshold"`
}

// Match reports whether a chat passes the filter set.
func (f ChatFilters) Match(c *Chat) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if c.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.OnlyUnread && c.UnreadCount == 0 {
		return false
	}
	if f.ExcludeLargeGroups && c.IsLargeGroup(f.LargeGroupThreshold) {
		return false
	}
	return true
}

// AnalysisOptions are the caller-supplied parameters for a briefing or
// summary load. Together with the global ChatFilters they form the filter
// fingerprint of the derived-result caches.
type AnalysisOptions struct {
	ChatTypes         []string `json:"chatTypes,omitempty"`
	TimeWindowHours   int      `json:"timeWindowHours"` // 0 = no time restriction
	SortBy            string   `json:"sortBy"`
	NeedsResponseOnly bool     `json:"needsResponseOnly"`
}
