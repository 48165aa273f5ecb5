package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContentKind is the concrete kind of a content subject
type ContentKind string

const (
	ContentEntry        ContentKind = "entry"
	ContentEntryComment ContentKind = "entry_comment"
	ContentPost         ContentKind = "post"
	ContentPostComment  ContentKind = "post_comment"
	ContentMessage      ContentKind = "message"
)

// Visibility is the moderation state of a content subject
type Visibility string

const (
	VisibilityVisible     Visibility = "visible"
	VisibilitySoftDeleted Visibility = "soft_deleted"
	VisibilityTrashed     Visibility = "trashed"
)

// Content is an Entry, EntryComment, Post, PostComment or Message
type Content struct {
	Id             uuid.UUID
	Kind           ContentKind
	ApId           string // empty for content created on this server
	AuthorId       uuid.UUID
	MagazineId     uuid.NullUUID // null for messages
	RootId         uuid.NullUUID // entry or post a comment belongs to
	ParentId       uuid.NullUUID // direct parent for nested comments and replies
	RecipientId    uuid.NullUUID // messages only
	Title          string
	Body           string
	URL            string
	Visibility     Visibility
	FavouriteCount int
	DownCount      int
	CommentCount   int
	Sticky         bool
	Locked         bool
	IsAdult        bool
	// Materialized is set while the subject is only known from a fetch and
	// its Create has not arrived yet.
	Materialized   bool
	CreatedAt      time.Time
	EditedAt       time.Time
}

// IsComment reports whether the content hangs under an entry or a post.
func (c *Content) IsComment() bool {
	return c.Kind == ContentEntryComment || c.Kind == ContentPostComment
}

// IsThreadRoot reports whether the content can own comments.
func (c *Content) IsThreadRoot() bool {
	return c.Kind == ContentEntry || c.Kind == ContentPost
}

// CommentKind returns the comment kind for replies to this root.
func (c *Content) CommentKind() ContentKind {
	switch c.Kind {
	case ContentEntry, ContentEntryComment:
		return ContentEntryComment
	case ContentPost, ContentPostComment:
		return ContentPostComment
	default:
		return ContentMessage
	}
}
