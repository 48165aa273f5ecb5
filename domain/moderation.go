package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Moderator grants a user moderation rights on a magazine
type Moderator struct {
	Id         uuid.UUID
	MagazineId uuid.UUID
	UserId     uuid.UUID
	AddedById  uuid.NullUUID
	CreatedAt  time.Time
}

// MagazineBan bars a user from a magazine until ExpiredAt (zero means permanent)
type MagazineBan struct {
	Id         uuid.UUID
	MagazineId uuid.UUID
	UserId     uuid.UUID
	BannedById uuid.NullUUID
	Reason     string
	ExpiredAt  time.Time
	CreatedAt  time.Time
}

// IsActive reports whether the ban is in force at the given time.
func (b *MagazineBan) IsActive(now time.Time) bool {
	return b.ExpiredAt.IsZero() || b.ExpiredAt.After(now)
}

// Report is a Flag raised against a content subject
type Report struct {
	Id         uuid.UUID
	MagazineId uuid.NullUUID
	ContentId  uuid.UUID
	ReporterId uuid.UUID
	Reason     string
	ApId       string
	CreatedAt  time.Time
}

// MagazineLogType is the variant tag of a moderation log entry
type MagazineLogType string

const (
	LogBan              MagazineLogType = "ban"
	LogUnban            MagazineLogType = "unban"
	LogContentDeleted   MagazineLogType = "content_deleted"
	LogContentRestored  MagazineLogType = "content_restored"
	LogContentLocked    MagazineLogType = "content_locked"
	LogContentUnlocked  MagazineLogType = "content_unlocked"
	LogContentPinned    MagazineLogType = "content_pinned"
	LogContentUnpinned  MagazineLogType = "content_unpinned"
	LogModeratorAdded   MagazineLogType = "moderator_added"
	LogModeratorRemoved MagazineLogType = "moderator_removed"
)

// MagazineLog is a moderation log entry. Ban variants reference BanId and
// UserId, content variants ContentId, moderator variants UserId.
type MagazineLog struct {
	Id         uuid.UUID
	MagazineId uuid.UUID
	ActorId    uuid.UUID // moderator or magazine that acted
	Type       MagazineLogType
	ContentId  uuid.NullUUID
	UserId     uuid.NullUUID
	BanId      uuid.NullUUID
	CreatedAt  time.Time
}

// NewBanLog creates a ban or unban entry.
func NewBanLog(t MagazineLogType, actorId uuid.UUID, ban *MagazineBan, now time.Time) *MagazineLog {
	return &MagazineLog{
		Id:         uuid.New(),
		MagazineId: ban.MagazineId,
		ActorId:    actorId,
		Type:       t,
		UserId:     uuid.NullUUID{UUID: ban.UserId, Valid: true},
		BanId:      uuid.NullUUID{UUID: ban.Id, Valid: true},
		CreatedAt:  now,
	}
}

// NewContentLog creates an entry about a content subject.
func NewContentLog(t MagazineLogType, actorId uuid.UUID, content *Content, now time.Time) *MagazineLog {
	return &MagazineLog{
		Id:         uuid.New(),
		MagazineId: content.MagazineId.UUID,
		ActorId:    actorId,
		Type:       t,
		ContentId:  uuid.NullUUID{UUID: content.Id, Valid: true},
		CreatedAt:  now,
	}
}

// NewModeratorLog creates a moderator added/removed entry.
func NewModeratorLog(t MagazineLogType, actorId, magazineId, userId uuid.UUID, now time.Time) *MagazineLog {
	return &MagazineLog{
		Id:         uuid.New(),
		MagazineId: magazineId,
		ActorId:    actorId,
		Type:       t,
		UserId:     uuid.NullUUID{UUID: userId, Valid: true},
		CreatedAt:  now,
	}
}

// TypeLabel returns a human-readable label for the log entry
func (l *MagazineLog) TypeLabel() string {
	switch l.Type {
	case LogBan:
		return "banned user"
	case LogUnban:
		return "unbanned user"
	case LogContentDeleted:
		return "deleted content"
	case LogContentRestored:
		return "restored content"
	case LogContentLocked:
		return "locked content"
	case LogContentUnlocked:
		return "unlocked content"
	case LogContentPinned:
		return "pinned content"
	case LogContentUnpinned:
		return "unpinned content"
	case LogModeratorAdded:
		return "added moderator"
	case LogModeratorRemoved:
		return "removed moderator"
	default:
		return ""
	}
}

// Summary returns a one-line summary of the log entry
func (l *MagazineLog) Summary() string {
	return fmt.Sprintf("%s %s", l.ActorId, l.TypeLabel())
}
