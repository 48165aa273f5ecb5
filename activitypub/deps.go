package activitypub

import (
	"context"
	"net/http"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/doyensec/safeurl"
	"github.com/google/uuid"
)

// Tx defines the repository operations the inbox runs inside one transaction.
// This interface allows for dependency injection and testing with other
// store implementations.
type Tx interface {
	// Ledger and audit log
	IsActivityProcessed(uri string) (bool, error)
	MarkActivityProcessed(p *domain.ProcessedActivity) error
	CreateActivity(a *domain.Activity) error
	ReadActivityByURI(uri string) (*domain.Activity, error)

	// Actors
	CreateActor(a *domain.Actor) error
	UpdateActor(a *domain.Actor) error
	ReadActorById(id uuid.UUID) (*domain.Actor, error)
	ReadActorByURI(uri string) (*domain.Actor, error)
	ReadLocalActor(kind domain.ActorKind, name string) (*domain.Actor, error)
	ReadActorByCollectionURI(uri string) (*domain.Actor, error)
	CountFollowers(actorId uuid.UUID) (int, error)
	ReadModeratorActors(magazineId uuid.UUID) ([]*domain.Actor, error)

	// Content
	CreateContent(c *domain.Content) error
	UpdateContent(c *domain.Content) error
	ReadContentById(id uuid.UUID) (*domain.Content, error)
	ReadContentByURI(uri string) (*domain.Content, error)
	RecountContent(id uuid.UUID) error
	ReadPinnedContentURIs(magazineId uuid.UUID) ([]string, error)

	// Votes
	ReadVote(actorId, contentId uuid.UUID) (*domain.Vote, error)
	CreateVote(v *domain.Vote) error
	UpdateVote(v *domain.Vote) error
	DeleteVote(id uuid.UUID) error

	// Subscriptions and follows
	ReadSubscription(magazineId, userId uuid.UUID) (*domain.MagazineSubscription, error)
	ReadSubscriptionByFollowURI(uri string) (*domain.MagazineSubscription, error)
	CreateSubscription(s *domain.MagazineSubscription) error
	UpdateSubscription(s *domain.MagazineSubscription) error
	DeleteSubscription(id uuid.UUID) error
	ReadUserFollow(followerId, followingId uuid.UUID) (*domain.UserFollow, error)
	ReadUserFollowByFollowURI(uri string) (*domain.UserFollow, error)
	CreateUserFollow(f *domain.UserFollow) error
	UpdateUserFollow(f *domain.UserFollow) error
	DeleteUserFollow(id uuid.UUID) error
	DeleteRelationsByActor(actorId uuid.UUID) error
	ReadSubscriberInboxes(actorId uuid.UUID) ([]string, error)

	// Moderation
	ReadModerator(magazineId, userId uuid.UUID) (*domain.Moderator, error)
	CreateModerator(m *domain.Moderator) error
	DeleteModerator(id uuid.UUID) error
	ReadActiveBan(magazineId, userId uuid.UUID, now time.Time) (*domain.MagazineBan, error)
	CreateBan(b *domain.MagazineBan) error
	UpdateBan(b *domain.MagazineBan) error
	CreateReport(r *domain.Report) error
	CreateMagazineLog(l *domain.MagazineLog) error
	ReadMagazineLogs(magazineId uuid.UUID, limit int) ([]domain.MagazineLog, error)

	// Delivery queue and instances
	EnqueueDelivery(item *domain.DeliveryQueueItem) error
	ReadPendingDeliveries(now time.Time, limit int) ([]domain.DeliveryQueueItem, error)
	UpdateDeliveryAttempt(item *domain.DeliveryQueueItem) error
	DeleteDelivery(id uuid.UUID) error
	ReadInstance(domainName string) (*domain.Instance, error)
	SaveInstance(i *domain.Instance) error
}

// Store opens transactions.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// HTTPClient defines the HTTP client operations required by the ActivityPub package.
// This interface allows for dependency injection and testing with mock implementations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewSafeHTTPClient returns a client that refuses to connect to private,
// loopback and link-local addresses, including after DNS resolution.
func NewSafeHTTPClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time
