package domain

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActorKind distinguishes the two kinds of federation identities
type ActorKind string

const (
	ActorUser     ActorKind = "user"
	ActorMagazine ActorKind = "magazine"
)

// Actor is a User or a Magazine, local or mirrored from a remote server.
// A local actor has an empty ApId; a remote one always carries ApId and the
// ApDomain derived from it.
type Actor struct {
	Id                uuid.UUID
	Kind              ActorKind
	Name              string // preferredUsername
	DisplayName       string
	About             string
	ApId              string
	ApDomain          string
	ApProfileId       string // actor document URL
	ApPublicUrl       string
	ApInboxUrl        string
	ApSharedInboxUrl  string
	ApFollowersUrl    string
	ApModeratorsUrl   string
	ApFeaturedUrl     string
	ApFollowersCount  int
	ApFetchedAt       time.Time
	PublicKeyPem      string
	OldPublicKeyPem   string
	PrivateKeyPem     string // local actors only
	LastKeyRotationAt time.Time
	FollowersCount    int // subscribers for magazines, followers for users
	FollowersDelta    int // local changes since the last remote refresh
	IsBanned          bool
	IsDeleted         bool
	CreatedAt         time.Time
}

// IsLocal reports whether the actor is hosted on this server.
func (a *Actor) IsLocal() bool {
	return a.ApId == ""
}

// IsMagazine reports whether the actor is a magazine.
func (a *Actor) IsMagazine() bool {
	return a.Kind == ActorMagazine
}

// Inbox returns the preferred delivery inbox, shared inbox first.
func (a *Actor) Inbox() string {
	if a.ApSharedInboxUrl != "" {
		return a.ApSharedInboxUrl
	}
	return a.ApInboxUrl
}

// Handle returns name@domain for remote actors and name for local ones.
func (a *Actor) Handle() string {
	if a.IsLocal() {
		return a.Name
	}
	return a.Name + "@" + a.ApDomain
}

// DomainOf returns the lowercased host of a URI, or "" if it has none.
func DomainOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
