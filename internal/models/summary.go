package models

// Sentiment labels for summaries
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// SummaryContext is the per-chat payload sent to the AI collaborator when
// generating batch summaries.
type SummaryContext struct {
	ChatID      int64     `json:"chatId"`
	ChatTitle   string    `json:"chatTitle"`
	ChatType    string    `json:"chatType"`
	Messages    []Message `json:"messages"`
	UnreadCount int       `json:"unreadCount"`
}

// SummaryItem is one chat's AI-generated summary
type SummaryItem struct {
	ChatID          int64    `json:"chatId"`
	ChatTitle       string   `json:"chatTitle"`
	ChatType        string   `json:"chatType"`
	Summary         string   `json:"summary"`
	KeyPoints       []string `json:"keyPoints,omitempty"`
	ActionItems     []string `json:"actionItems,omitempty"`
	Sentiment       string   `json:"sentiment"`
	NeedsResponse   bool     `json:"needsResponse"`
	MessageCount    int      `json:"messageCount"`
	LastMessageDate int64    `json:"lastMessageDate"` // unix seconds, drives recency sort
}

// SummaryBatch is the AI collaborator's response for a batch summary request
type SummaryBatch struct {
	Summaries   []SummaryItem `json:"summaries"`
	TotalCount  int           `json:"totalCount"`
	GeneratedAt int64         `json:"generatedAt"`
	Cached      bool          `json:"cached"`
	CacheAge    string        `json:"cacheAge,omitempty"`
}
