package httpapi

import (
	"net/http"
	"strings"

	"SocialChatServer/internal/domain"
	"SocialChatServer/internal/service"
)

type sendMessageRequest struct {
	ReceiverID  string             `json:"receiverId"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType"`
}

type sendMessageResponse struct {
	Message string         `json:"message"`
	Data    domain.Message `json:"data"`
}

func (a *api) handleMessagesSend(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	m, err := a.messagesSvc.Send(r.Context(), u, service.SendMessageInput{
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		MessageType: req.MessageType,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sendMessageResponse{Message: "Message sent", Data: m})
}

type conversationResponse struct {
	Messages   []domain.Message  `json:"messages"`
	Pagination domain.Pagination `json:"pagination"`
}

func (a *api) handleMessagesConversation(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	history, _, err := a.messagesSvc.History(r.Context(), u.ID, strings.TrimSpace(r.PathValue("userId")), page)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, conversationResponse{
		Messages:   history.Messages,
		Pagination: domain.NewPagination(history.Page, history.Total),
	})
}

type markReadResponse struct {
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}

func (a *api) handleMessagesMarkRead(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	n, err := a.messagesSvc.MarkRead(r.Context(), u.ID, r.PathValue("userId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, markReadResponse{Message: "Messages marked as read", Updated: n})
}

type unreadCountResponse struct {
	UnreadCount int64 `json:"unreadCount"`
}

func (a *api) handleMessagesUnreadCount(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	n, err := a.messagesSvc.UnreadCount(r.Context(), u.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, unreadCountResponse{UnreadCount: n})
}

type conversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    domain.Pagination     `json:"pagination"`
}

func (a *api) handleMessagesConversations(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	convs, total, err := a.messagesSvc.Conversations(r.Context(), u.ID, page)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, conversationsResponse{
		Conversations: convs,
		Pagination:    domain.NewPagination(withDefaults(page, 20), total),
	})
}

func (a *api) handleMessagesDelete(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	if err := a.messagesSvc.Delete(r.Context(), u.ID, r.PathValue("messageId")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Message deleted")
}
