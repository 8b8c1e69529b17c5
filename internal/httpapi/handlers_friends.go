package httpapi

import (
	"context"
	"net/http"
	"strings"

	"SocialChatServer/internal/domain"
)

type sendFriendRequestRequest struct {
	Username string `json:"username"`
}

type friendRequestResponse struct {
	Message string               `json:"message"`
	Request domain.FriendRequest `json:"request"`
}

func (a *api) handleFriendsSendRequest(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}

	var req sendFriendRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	fr, err := a.friendsSvc.SendRequest(r.Context(), u, req.Username)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, friendRequestResponse{Message: "Friend request sent", Request: fr})
}

type respondFriendRequestRequest struct {
	Action domain.RequestAction `json:"action"`
}

func (a *api) handleFriendsRespond(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}

	var req respondFriendRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	fr, err := a.friendsSvc.Respond(r.Context(), u.ID, strings.TrimSpace(r.PathValue("id")), req.Action)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Friend request "+string(fr.Status))
}

func (a *api) handleFriendsCancel(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	if err := a.friendsSvc.Cancel(r.Context(), u.ID, strings.TrimSpace(r.PathValue("id"))); err != nil {
		a.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Friend request cancelled")
}

func (a *api) handleFriendsReceived(w http.ResponseWriter, r *http.Request) {
	a.listRequests(w, r, a.friendsSvc.ListReceived)
}

func (a *api) handleFriendsSent(w http.ResponseWriter, r *http.Request) {
	a.listRequests(w, r, a.friendsSvc.ListSent)
}

// listRequests serves the pending requests of the current user. An
// unpaginated request gets the first page with the default limit.
func (a *api) listRequests(w http.ResponseWriter, r *http.Request, list func(context.Context, string, domain.Page) ([]domain.FriendRequest, int, error)) {
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
	requests, _, err := list(r.Context(), u.ID, page)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if requests == nil {
		requests = []domain.FriendRequest{}
	}
	WriteJSON(w, http.StatusOK, requests)
}

func (a *api) handleFriendsAll(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	friends, err := a.friendsSvc.ListAll(r.Context(), u.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, friends)
}

type friendsPageResponse struct {
	Friends    []domain.Friend   `json:"friends"`
	Pagination domain.Pagination `json:"pagination"`
}

func (a *api) handleFriendsList(w http.ResponseWriter, r *http.Request) {
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
	friends, total, err := a.friendsSvc.ListFriends(r.Context(), u.ID, r.URL.Query().Get("search"), page)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if friends == nil {
		friends = []domain.Friend{}
	}
	WriteJSON(w, http.StatusOK, friendsPageResponse{
		Friends:    friends,
		Pagination: domain.NewPagination(withDefaults(page, 20), total),
	})
}

func (a *api) handleFriendsUnfriend(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	if err := a.friendsSvc.Unfriend(r.Context(), u.ID, strings.TrimSpace(r.PathValue("friendId"))); err != nil {
		a.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Friend removed")
}

type blockResponse struct {
	Message string             `json:"message"`
	Block   domain.BlockedUser `json:"block"`
}

func (a *api) handleFriendsBlock(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	b, err := a.friendsSvc.Block(r.Context(), u.ID, strings.TrimSpace(r.PathValue("userId")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, blockResponse{Message: "User blocked", Block: b})
}

func (a *api) handleFriendsUnblock(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	if err := a.friendsSvc.Unblock(r.Context(), u.ID, strings.TrimSpace(r.PathValue("userId"))); err != nil {
		a.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "User unblocked")
}

func (a *api) handleFriendsBlocked(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	blocked, err := a.friendsSvc.ListBlocked(r.Context(), u.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if blocked == nil {
		blocked = []domain.BlockedUser{}
	}
	WriteJSON(w, http.StatusOK, blocked)
}
