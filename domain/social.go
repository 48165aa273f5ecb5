package domain

import (
	"time"

	"github.com/google/uuid"
)

// VoteChoice is the polarity of a vote
type VoteChoice int

const (
	VoteDown VoteChoice = -1
	VoteUp   VoteChoice = 1
)

// Vote is one actor's Like or Dislike on a content subject
type Vote struct {
	Id        uuid.UUID
	ActorId   uuid.UUID
	ContentId uuid.UUID
	Choice    VoteChoice
	ApId      string // Like/Dislike activity URI
	CreatedAt time.Time
}

// MagazineSubscription represents a user subscribed to a magazine
type MagazineSubscription struct {
	Id         uuid.UUID
	MagazineId uuid.UUID
	UserId     uuid.UUID
	FollowApId string // Follow activity URI (empty for implicit subscriptions)
	Pending    bool   // outbound follow waiting for Accept
	CreatedAt  time.Time
}

// UserFollow represents a follow relationship between two users
type UserFollow struct {
	Id          uuid.UUID
	FollowerId  uuid.UUID
	FollowingId uuid.UUID
	FollowApId  string
	Pending     bool
	CreatedAt   time.Time
}
