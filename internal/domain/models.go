package domain

import (
	"math"
	"time"
)

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	FirstName      string    `json:"firstName,omitempty"`
	LastName       string    `json:"lastName,omitempty"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	Bio            string    `json:"bio,omitempty"`
	IsVerified     bool      `json:"isVerified"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type UserWithPassword struct {
	User
	PasswordHash string
}

// Summary is the public profile snapshot embedded in requests, friend lists
// and pushed messages.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:             u.ID,
		Username:       u.Username,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: u.ProfilePicture,
	}
}

type UserSummary struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FirstName      string `json:"firstName,omitempty"`
	LastName       string `json:"lastName,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	Bio            string `json:"bio,omitempty"`
}

// UserProfile is a user as seen by another user.
type UserProfile struct {
	UserSummary
	CreatedAt         time.Time `json:"createdAt"`
	IsFriend          bool      `json:"isFriend"`
	HasPendingRequest bool      `json:"hasPendingRequest"`
	RequestSentByMe   bool      `json:"requestSentByMe"`
	IsBlocked         bool      `json:"isBlocked"`
}

type UserStats struct {
	FriendsCount         int   `json:"friendsCount"`
	PendingRequestsCount int   `json:"pendingRequestsCount"`
	MessagesSent         int64 `json:"messagesSent"`
	MessagesReceived     int64 `json:"messagesReceived"`
}

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

// Offset saturates at math.MaxInt for pages past any reachable row.
func (p Page) Offset() int {
	if p.Page < 1 || p.Limit < 1 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Page - 1) * p.Limit
}

type Pagination struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	Count   int `json:"count"`
}

// NewPagination reports the current page, the number of pages and the total
// number of items.
func NewPagination(p Page, total int) Pagination {
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Pagination{Current: p.Page, Total: pages, Count: total}
}

// ProfileUpdate carries the profile fields a user may change; nil leaves a
// field as it is.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Username  *string
}

func (p ProfileUpdate) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Username == nil
}

type NewUser struct {
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string

	// VerificationTokenHash is stored when an email verification link is
	// sent. Empty means no pending verification.
	VerificationTokenHash string
}

// ExternalAccount links a user to a Google or Apple identity.
type ExternalAccount struct {
	Provider  string
	Subject   string
	UserID    string
	Email     string
	CreatedAt time.Time
}

const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)
