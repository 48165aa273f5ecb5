package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// Activity is the audit log entry of an inbound activity
type Activity struct {
	Id              uuid.UUID
	ActivityURI     string
	ActivityType    string // Create, Like, Undo, Announce, etc.
	ActorURI        string
	ObjectURI       string
	RawJSON         string
	InnerActivityId uuid.NullUUID // set on Announce/Undo wrappers
	CreatedAt       time.Time
}

// ProcessOutcome is what the inbox did with an activity
type ProcessOutcome string

const (
	OutcomeApplied ProcessOutcome = "applied"
	OutcomeNoop    ProcessOutcome = "noop"
)

// ProcessedActivity is the write-once idempotency record for an activity id
type ProcessedActivity struct {
	ActivityURI string
	Outcome     ProcessOutcome
	ProcessedAt time.Time
}

// DeliveryQueueItem represents an item in the delivery queue
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityJSON string    // The complete activity to deliver
	ActorId      uuid.UUID // Local actor whose key signs the request
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

const (
	// DeadInstanceFailures is the number of consecutive failed deliveries after
	// which an instance without a recent success is considered dead.
	DeadInstanceFailures = 10
	// DeadInstanceWindow is how old the last success must be for an instance to die.
	DeadInstanceWindow = 7 * 24 * time.Hour
)

// Instance is the health record of a remote server
type Instance struct {
	Domain                string
	LastSuccessfulDeliver time.Time
	LastFailedDeliver     time.Time
	FailedDelivers        int
	IsDead                bool
	IsBanned              bool
	IsExplicitlyAllowed   bool
	UpdatedAt             time.Time
}

// MayDeliver reports whether outbound activities should be sent to the instance.
func (i *Instance) MayDeliver() bool {
	if i == nil {
		return true
	}
	if i.IsExplicitlyAllowed {
		return true
	}
	return !i.IsBanned && !i.IsDead
}

// RecordSuccess resets the failure streak.
func (i *Instance) RecordSuccess(now time.Time) {
	i.LastSuccessfulDeliver = now
	i.FailedDelivers = 0
	i.IsDead = false
	i.UpdatedAt = now
}

// RecordFailure counts a failed delivery and marks the instance dead once it has
// failed often enough without any success inside DeadInstanceWindow.
func (i *Instance) RecordFailure(now time.Time) {
	i.LastFailedDeliver = now
	i.FailedDelivers++
	i.UpdatedAt = now
	if i.FailedDelivers >= DeadInstanceFailures && now.Sub(i.LastSuccessfulDeliver) > DeadInstanceWindow {
		i.IsDead = true
	}
}
