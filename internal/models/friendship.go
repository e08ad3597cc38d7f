package models

import "time"

type FriendshipStatus string

const (
	FriendshipStatusPending  FriendshipStatus = "pending"
	FriendshipStatusAccepted FriendshipStatus = "accepted"
	FriendshipStatusDeclined FriendshipStatus = "declined"
)

// IsResponse reports whether s is a status a recipient may answer with.
func (s FriendshipStatus) IsResponse() bool {
	return s == FriendshipStatusAccepted || s == FriendshipStatusDeclined
}

// CanTransitionTo allows only pending -> accepted and pending -> declined.
func (s FriendshipStatus) CanTransitionTo(next FriendshipStatus) bool {
	return s == FriendshipStatusPending && next.IsResponse()
}

// IsOpen reports whether the row blocks a new request for the same pair.
func (s FriendshipStatus) IsOpen() bool {
	return s == FriendshipStatusPending || s == FriendshipStatusAccepted
}

type Friendship struct {
	ID          string           `db:"id" json:"id"`
	RequesterID string           `db:"requester_id" json:"requester_id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	Status      FriendshipStatus `db:"status" json:"status"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

func (f *Friendship) Involves(identityID string) bool {
	return f.RequesterID == identityID || f.RecipientID == identityID
}

// PairKey identifies the unordered pair regardless of direction.
func (f *Friendship) PairKey() string {
	return PairKey(f.RequesterID, f.RecipientID)
}

// FriendEntry is one accepted friendship seen from one side.
type FriendEntry struct {
	PublicProfile
	FriendshipID string           `json:"friendship_id"`
	Status       FriendshipStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}

// FriendRequestEntry is one pending incoming request with the requester's profile.
type FriendRequestEntry struct {
	PublicProfile
	RequestID string    `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PairKey orders two identity ids so (a,b) and (b,a) share a key.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
