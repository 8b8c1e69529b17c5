package httpapi

import (
	"net/http"

	"SocialChatServer/internal/domain"
)

type userResponse struct {
	User any `json:"user"`
}

type userSearchResponse struct {
	Users      []domain.UserSummary `json:"users"`
	Pagination domain.Pagination    `json:"pagination"`
}

func (a *api) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	WriteJSON(w, http.StatusOK, userResponse{User: u})
}

type updateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Username  *string `json:"username"`
}

func (a *api) handleUserProfileUpdate(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}
	if req.Username != nil {
		name := normalizeUsername(*req.Username)
		if !validUsername(name) {
			WriteDomainError(w, domain.NewValidationError(map[string]string{"username": "must be 3-20 chars [A-Za-z0-9_]"}))
			return
		}
		req.Username = &name
	}

	updated, err := a.profileSvc.Update(r.Context(), u.ID, domain.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, userResponse{User: updated})
}

func (a *api) handleUserAccountDelete(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	if err := a.profileSvc.DeleteAccount(r.Context(), u.ID); err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "Account deleted successfully"})
}

func (a *api) handleUserSearch(w http.ResponseWriter, r *http.Request) {
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

	query := r.URL.Query().Get("query")
	if query == "" {
		query = r.URL.Query().Get("q")
	}
	users, total, err := a.usersSvc.Search(r.Context(), u.ID, query, page)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, userSearchResponse{Users: users, Pagination: domain.NewPagination(withDefaults(page, 10), total)})
}

func (a *api) handleUserStats(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	stats, err := a.usersSvc.Stats(r.Context(), u.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]domain.UserStats{"stats": stats})
}

func (a *api) handleUserByUsername(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	profile, err := a.usersSvc.Profile(r.Context(), u.ID, r.PathValue("username"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, userResponse{User: profile})
}
