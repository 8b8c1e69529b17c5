package realtime

import (
	"encoding/json"
	"time"

	"SocialChatServer/internal/domain"
)

// Client to server events.
const (
	EventSendMessage      = "send_message"
	EventGetChatHistory   = "get_chat_history"
	EventMarkMessagesRead = "mark_messages_read"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
)

// Server to client events.
const (
	EventNewMessage         = "new_message"
	EventMessageSent        = "message_sent"
	EventChatHistory        = "chat_history"
	EventMessagesMarkedRead = "messages_marked_read"
	EventMessagesRead       = "messages_read"
	EventUserTyping         = "user_typing"
	EventUserStoppedTyping  = "user_stopped_typing"
	EventError              = "error"
)

// Frame is the envelope for every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

type SendMessagePayload struct {
	ReceiverID  string             `json:"receiverId"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType,omitempty"`
}

type ChatHistoryRequest struct {
	FriendID string `json:"friendId"`
	Page     int    `json:"page"`
	Limit    int    `json:"limit"`
}

type FriendPayload struct {
	FriendID string `json:"friendId"`
}

type ReceiverPayload struct {
	ReceiverID string `json:"receiverId"`
}

type NewMessage struct {
	ID          string             `json:"id"`
	SenderID    string             `json:"senderId"`
	SenderInfo  domain.UserSummary `json:"senderInfo"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func NewMessageFrom(m domain.Message, sender domain.UserSummary) NewMessage {
	return NewMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		SenderInfo:  sender,
		Content:     m.Content,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
	}
}

type MessageSent struct {
	ID          string             `json:"id"`
	ReceiverID  string             `json:"receiverId"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func MessageSentFrom(m domain.Message) MessageSent {
	return MessageSent{
		ID:          m.ID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
	}
}

type ChatHistory struct {
	Messages []domain.Message   `json:"messages"`
	Friend   domain.UserSummary `json:"friend"`
	Page     int                `json:"page"`
	HasMore  bool               `json:"hasMore"`
}

type MessagesMarkedRead struct {
	FriendID string `json:"friendId"`
}

type MessagesRead struct {
	ReaderID string `json:"readerId"`
}

type UserTyping struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type UserStoppedTyping struct {
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
