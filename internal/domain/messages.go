package domain

import "time"

const MaxMessageLength = 1000

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage
}

type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"senderId"`
	ReceiverID  string      `json:"receiverId"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	IsRead      bool        `json:"isRead"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// MessagePage is one page of a pairwise history in ascending time order.
type MessagePage struct {
	Messages []Message
	Total    int
	Page     Page
}

func (p MessagePage) HasMore() bool {
	return p.Page.Page*p.Page.Limit < p.Total
}

type Conversation struct {
	Friend      UserSummary `json:"friend"`
	LastMessage Message     `json:"lastMessage"`
	UnreadCount int64       `json:"unreadCount"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
