package domain

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// FriendRequest is the single request row for an unordered user pair. The
// sender and receiver reflect the direction of the latest proposal.
type FriendRequest struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId"`
	Status     RequestStatus `json:"status"`
	Sender     *UserSummary  `json:"sender,omitempty"`
	Receiver   *UserSummary  `json:"receiver,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

type RequestAction string

const (
	ActionAccept RequestAction = "accept"
	ActionReject RequestAction = "reject"
)

type Friendship struct {
	ID        string    `json:"id"`
	User1ID   string    `json:"user1Id"`
	User2ID   string    `json:"user2Id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Other returns the member of the friendship that is not userID.
func (f Friendship) Other(userID string) string {
	if f.User1ID == userID {
		return f.User2ID
	}
	return f.User1ID
}

type BlockedUser struct {
	ID        string       `json:"id"`
	BlockerID string       `json:"blockerId"`
	BlockedID string       `json:"blockedId"`
	Blocked   *UserSummary `json:"blocked,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Friend is a friend entry as listed for one user.
type Friend struct {
	UserSummary
	FriendsSince time.Time `json:"friendsSince"`
}
