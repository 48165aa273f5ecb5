package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

// Inbox turns inbound activities into local state changes.
type Inbox struct {
	store            Store
	resolver         *Resolver
	fetcher          Fetcher
	sanitizer        *Sanitizer
	localDomain      string
	fallbackMagazine string
	maxReplyDepth    int
	now              Clock
}

// InboxConfig holds the settings of an Inbox.
type InboxConfig struct {
	LocalDomain      string
	FallbackMagazine string
	MaxReplyDepth    int
	Now              Clock
}

func NewInbox(store Store, resolver *Resolver, fetcher Fetcher, cfg InboxConfig) *Inbox {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxReplyDepth <= 0 {
		cfg.MaxReplyDepth = 8
	}
	if cfg.FallbackMagazine == "" {
		cfg.FallbackMagazine = "random"
	}
	return &Inbox{
		store:            store,
		resolver:         resolver,
		fetcher:          fetcher,
		sanitizer:        NewSanitizer(),
		localDomain:      cfg.LocalDomain,
		fallbackMagazine: cfg.FallbackMagazine,
		maxReplyDepth:    cfg.MaxReplyDepth,
		now:              cfg.Now,
	}
}

// activityContext is an activity being handled together with its resolved
// actor and the Announce wrappers it arrived in.
type activityContext struct {
	env       *Envelope
	actor     *domain.Actor
	wrappers  []*Envelope   // outermost first
	announcer *domain.Actor // actor of the innermost wrapper
}

// announcedBy reports whether the activity was relayed by the given actor.
func (ac *activityContext) announcedBy(a *domain.Actor) bool {
	return ac.announcer != nil && a != nil && ac.announcer.Id == a.Id
}

// ledgerIds returns every activity id the ledger tracks for this activity.
func (ac *activityContext) ledgerIds() []string {
	ids := make([]string, 0, len(ac.wrappers)+1)
	if ac.env.ID != "" {
		ids = append(ids, ac.env.ID)
	}
	for _, w := range ac.wrappers {
		if w.ID != "" {
			ids = append(ids, w.ID)
		}
	}
	return ids
}

// effect is what a handler did inside its transaction.
type effect struct {
	applied bool
	// authority is the actor whose subscribers receive the Announce when it
	// is local.
	authority *domain.Actor
}

func applied(authority *domain.Actor) effect {
	return effect{applied: true, authority: authority}
}

var noop = effect{}

func conflict(format string, args ...any) error {
	return &DomainConflictError{Reason: fmt.Sprintf(format, args...)}
}

// Process handles one raw inbound activity. A nil error means the message is
// done; use Classify to decide between retrying and discarding otherwise.
func (i *Inbox) Process(ctx context.Context, raw []byte) error {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		recordError(err)
		log.Printf("Inbox: Failed to decode activity: %v", err)
		return err
	}

	err = i.process(ctx, env)
	var conflictErr *DomainConflictError
	if errors.As(err, &conflictErr) {
		log.Printf("Inbox: %s %s ignored: %v", env.Type, env.ID, err)
		recordActivity(env.Type, string(domain.OutcomeNoop))
		return nil
	}
	if err != nil {
		recordError(err)
		log.Printf("Inbox: Failed to handle %s %s: %v", env.Type, env.ID, err)
		return err
	}
	return nil
}

func (i *Inbox) process(ctx context.Context, env *Envelope) error {
	if err := i.checkInstance(ctx, env.Actor); err != nil {
		return err
	}

	var seen bool
	err := i.store.InTx(ctx, func(tx Tx) error {
		var err error
		seen, err = tx.IsActivityProcessed(env.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to check ledger: %w", err)
	}
	if seen {
		log.Printf("Inbox: Activity %s already processed", env.ID)
		recordActivity(env.Type, "duplicate")
		return nil
	}

	actor, err := i.resolveActor(ctx, env)
	if err != nil {
		return err
	}

	log.Printf("Inbox: Received %s from %s", env.Type, actor.Handle())
	return i.dispatch(ctx, &activityContext{env: env, actor: actor})
}

// checkInstance rejects activities from banned instances.
func (i *Inbox) checkInstance(ctx context.Context, actorURI string) error {
	host := domain.DomainOf(actorURI)
	if host == "" {
		return &DecodeError{Reason: fmt.Sprintf("actor %q is not a URL", actorURI)}
	}
	var inst *domain.Instance
	err := i.store.InTx(ctx, func(tx Tx) error {
		var err error
		inst, err = tx.ReadInstance(host)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read instance %s: %w", host, err)
	}
	if inst.IsBanned && !inst.IsExplicitlyAllowed {
		return reject("instance %s is banned", host)
	}
	return nil
}

// resolveActor resolves the actor of an activity and checks that it may
// speak for the activity id.
func (i *Inbox) resolveActor(ctx context.Context, env *Envelope) (*domain.Actor, error) {
	actor, err := i.resolver.Resolve(ctx, env.Actor)
	if err != nil {
		return nil, err
	}
	if actor.IsLocal() {
		return nil, reject("inbound activity claims local actor %s", env.Actor)
	}
	if actor.IsBanned {
		return nil, reject("actor %s is banned", actor.Handle())
	}
	if env.ID != "" && !strings.EqualFold(domain.DomainOf(env.ID), actor.ApDomain) {
		return nil, reject("activity %s is not hosted on the actor's instance %s", env.ID, actor.ApDomain)
	}
	return actor, nil
}

// dispatch routes an activity to its handler.
func (i *Inbox) dispatch(ctx context.Context, ac *activityContext) error {
	switch ac.env.Type {
	case TypeCreate:
		return i.handleCreate(ctx, ac)
	case TypeUpdate:
		return i.handleUpdate(ctx, ac)
	case TypeDelete:
		return i.handleDelete(ctx, ac)
	case TypeFollow:
		return i.handleFollow(ctx, ac)
	case TypeAccept:
		return i.handleAccept(ctx, ac)
	case TypeReject:
		return i.handleReject(ctx, ac)
	case TypeLike:
		return i.handleVote(ctx, ac, domain.VoteUp)
	case TypeDislike:
		return i.handleVote(ctx, ac, domain.VoteDown)
	case TypeFlag:
		return i.handleFlag(ctx, ac)
	case TypeBlock:
		return i.handleBlock(ctx, ac)
	case TypeAdd:
		return i.handleAdd(ctx, ac)
	case TypeRemove:
		return i.handleRemove(ctx, ac)
	case TypeLock:
		return i.handleLock(ctx, ac)
	case TypeUndo:
		return i.handleUndo(ctx, ac)
	case TypeAnnounce:
		return i.handleAnnounce(ctx, ac)
	default:
		return &UnsupportedActivityError{Type: string(ac.env.Type)}
	}
}

// commit runs a handler mutation in one transaction together with the
// ledger check, the audit log and the Announce fan-out.
func (i *Inbox) commit(ctx context.Context, ac *activityContext, fn func(tx Tx) (effect, error)) error {
	var outcome domain.ProcessOutcome
	err := i.store.InTx(ctx, func(tx Tx) error {
		outcome = ""
		ids := ac.ledgerIds()
		for _, id := range ids {
			seen, err := tx.IsActivityProcessed(id)
			if err != nil {
				return err
			}
			if seen {
				outcome = "duplicate"
				return i.markProcessed(tx, ids, domain.OutcomeNoop)
			}
		}

		eff, err := fn(tx)
		var conflictErr *DomainConflictError
		if errors.As(err, &conflictErr) {
			log.Printf("Inbox: %s %s is a no-op: %v", ac.env.Type, ac.env.ID, err)
			eff, err = noop, nil
		}
		if err != nil {
			return err
		}

		outcome = domain.OutcomeNoop
		if eff.applied {
			outcome = domain.OutcomeApplied
		}
		if err := i.audit(tx, ac); err != nil {
			return err
		}
		if err := i.markProcessed(tx, ids, outcome); err != nil {
			return err
		}
		if eff.applied && IsLocallyAuthoritative(eff.authority) {
			return i.announce(tx, ac, eff.authority)
		}
		return nil
	})
	if err != nil {
		return err
	}
	recordActivity(ac.env.Type, string(outcome))
	return nil
}

func (i *Inbox) markProcessed(tx Tx, ids []string, outcome domain.ProcessOutcome) error {
	now := i.now()
	for _, id := range ids {
		if err := tx.MarkActivityProcessed(&domain.ProcessedActivity{
			ActivityURI: id,
			Outcome:     outcome,
			ProcessedAt: now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// audit writes the activity and its wrappers to the audit log, inner
// activity first so wrappers can reference it.
func (i *Inbox) audit(tx Tx, ac *activityContext) error {
	var inner uuid.NullUUID
	if ac.env.Type == TypeUndo {
		if undone, err := tx.ReadActivityByURI(ac.env.Object.ID); err == nil {
			inner = uuid.NullUUID{UUID: undone.Id, Valid: true}
		}
	}

	chain := make([]*Envelope, 0, len(ac.wrappers)+1)
	chain = append(chain, ac.env)
	for w := len(ac.wrappers) - 1; w >= 0; w-- {
		chain = append(chain, ac.wrappers[w])
	}

	for _, env := range chain {
		if env.ID == "" {
			continue
		}
		if existing, err := tx.ReadActivityByURI(env.ID); err == nil {
			inner = uuid.NullUUID{UUID: existing.Id, Valid: true}
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		row := &domain.Activity{
			Id:              uuid.New(),
			ActivityURI:     env.ID,
			ActivityType:    string(env.Type),
			ActorURI:        env.Actor,
			ObjectURI:       env.Object.ID,
			RawJSON:         string(env.Raw),
			InnerActivityId: inner,
			CreatedAt:       i.now(),
		}
		if err := tx.CreateActivity(row); err != nil {
			return err
		}
		inner = uuid.NullUUID{UUID: row.Id, Valid: true}
	}
	return nil
}

// fetchObject returns the document of an object reference, fetching it by
// URI when it is not embedded.
func (i *Inbox) fetchObject(ctx context.Context, ref ObjectRef) (ActivityObject, error) {
	if ref.IsEmbedded() {
		return ParseObject(ref)
	}
	if ref.ID == "" {
		return nil, &DecodeError{Reason: "missing object"}
	}
	raw, err := i.fetcher.FetchObject(ctx, ref.ID)
	if errors.Is(err, errGone) {
		return nil, reject("object %s is gone", ref.ID)
	}
	if err != nil {
		return nil, &DependencyMissingError{URI: ref.ID, Err: err}
	}
	obj, err := ParseObjectDocument(raw)
	if err != nil {
		return nil, err
	}
	if !sameHost(obj.ObjectID(), ref.ID) {
		return nil, reject("fetched object %s is not hosted on %s", obj.ObjectID(), domain.DomainOf(ref.ID))
	}
	return obj, nil
}

// readContent finds stored content by federation id or local URL.
func (i *Inbox) readContent(ctx context.Context, uri string) (*domain.Content, error) {
	var c *domain.Content
	err := i.store.InTx(ctx, func(tx Tx) error {
		var err error
		c, err = i.contentByURI(tx, uri)
		return err
	})
	return c, err
}

func (i *Inbox) contentByURI(tx Tx, uri string) (*domain.Content, error) {
	if p := localPath(uri, i.localDomain); p != "" {
		id, ok := parseLocalContentPath(p)
		if !ok {
			return nil, domain.ErrNotFound
		}
		return tx.ReadContentById(id)
	}
	return tx.ReadContentByURI(uri)
}

// magazineOf returns the magazine of a content subject, nil for messages.
func magazineOf(tx Tx, c *domain.Content) (*domain.Actor, error) {
	if !c.MagazineId.Valid {
		return nil, nil
	}
	return tx.ReadActorById(c.MagazineId.UUID)
}

// canModerate reports whether the activity may moderate the magazine: its
// actor is the magazine or one of its moderators, or the magazine relayed it.
func canModerate(tx Tx, ac *activityContext, magazine *domain.Actor) (bool, error) {
	if magazine == nil {
		return false, nil
	}
	if ac.actor.Id == magazine.Id || ac.announcedBy(magazine) {
		return true, nil
	}
	_, err := tx.ReadModerator(magazine.Id, ac.actor.Id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// canModerateContent additionally allows the author.
func canModerateContent(tx Tx, ac *activityContext, c *domain.Content, magazine *domain.Actor) (bool, error) {
	if c.AuthorId == ac.actor.Id {
		return true, nil
	}
	return canModerate(tx, ac, magazine)
}

// adjustFollowers updates the follower count of an actor after a follow
// relation changed by delta.
func adjustFollowers(tx Tx, a *domain.Actor, delta int) error {
	if a.IsLocal() {
		n, err := tx.CountFollowers(a.Id)
		if err != nil {
			return err
		}
		a.FollowersCount = n
	} else {
		a.FollowersDelta += delta
		a.FollowersCount = max(a.ApFollowersCount+a.FollowersDelta, 0)
	}
	return tx.UpdateActor(a)
}

func decodeInnerJSON(raw string) (*Envelope, error) {
	return decodeEnvelope(json.RawMessage(raw), 2)
}
