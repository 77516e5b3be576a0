package models

// Message is a single message inside a chat window
type Message struct {
	ID         int64  `json:"id"`
	ChatID     int64  `json:"chatId"`
	SenderID   int64  `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Date       int64  `json:"date"` // unix seconds
	IsOutgoing bool   `json:"isOutgoing"`
	IsRead     bool   `json:"isRead"`
}
