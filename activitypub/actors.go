package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/MbinOrg/mbin-sub001/util"
	"github.com/google/uuid"
)

// DefaultActorTTL is how long a remote actor record is trusted before it is
// fetched again.
const DefaultActorTTL = 24 * time.Hour

// Resolver maps actor references to local actor records, fetching and
// caching remote actors.
type Resolver struct {
	store       Store
	fetcher     Fetcher
	sanitizer   *Sanitizer
	localDomain string
	ttl         time.Duration
	now         Clock
}

func NewResolver(store Store, fetcher Fetcher, localDomain string, ttl time.Duration, now Clock) *Resolver {
	if ttl <= 0 {
		ttl = DefaultActorTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		store:       store,
		fetcher:     fetcher,
		sanitizer:   NewSanitizer(),
		localDomain: localDomain,
		ttl:         ttl,
		now:         now,
	}
}

// Resolve returns the actor named by ref: an actor URL, a local /m/ or /u/
// URL, or a @name@host / acct:name@host handle.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*domain.Actor, error) {
	uri, local, err := r.locate(ctx, ref)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return local, nil
	}

	var known *domain.Actor
	err = r.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.ReadActorByURI(uri)
		if err != nil {
			return err
		}
		known = a
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if known != nil {
		if known.IsLocal() || r.now().Sub(known.ApFetchedAt) < r.ttl {
			return known, nil
		}
		refreshed, err := r.fetchAndStore(ctx, known.ApId, known)
		if err != nil {
			log.Printf("Resolver: Refresh of %s failed, using stale record: %v", known.ApId, err)
			return known, nil
		}
		return refreshed, nil
	}

	return r.fetchAndStore(ctx, uri, nil)
}

// Refresh re-fetches a remote actor bypassing the document cache and
// overwrites its stored profile.
func (r *Resolver) Refresh(ctx context.Context, ref string) (*domain.Actor, error) {
	uri, local, err := r.locate(ctx, ref)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return local, nil
	}

	if err := r.fetcher.Invalidate(ctx, uri); err != nil {
		log.Printf("Resolver: Failed to invalidate %s: %v", uri, err)
	}

	var known *domain.Actor
	err = r.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.ReadActorByURI(uri)
		if err != nil {
			return err
		}
		known = a
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return r.fetchAndStore(ctx, uri, known)
}

// locate turns a reference into a remote URI, or returns the local actor it
// names.
func (r *Resolver) locate(ctx context.Context, ref string) (string, *domain.Actor, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil, reject("empty actor reference")
	}

	if !util.IsURL(ref) {
		name, host, ok := util.ParseHandle(ref)
		if !ok {
			return "", nil, reject("invalid actor handle %q", ref)
		}
		if strings.EqualFold(host, r.localDomain) {
			kind := domain.ActorUser
			if strings.HasPrefix(ref, "!") {
				kind = domain.ActorMagazine
			}
			a, err := r.readLocal(ctx, kind, name)
			var rejected *RejectedError
			if errors.As(err, &rejected) && kind == domain.ActorUser {
				a, err = r.readLocal(ctx, domain.ActorMagazine, name)
			}
			return "", a, err
		}
		uri, err := r.fetcher.WebFinger(ctx, ref)
		if err != nil {
			return "", nil, &ActorResolutionError{Actor: ref, Err: err}
		}
		ref = uri
	}

	if p := localPath(ref, r.localDomain); p != "" {
		kind, name, ok := parseLocalActorPath(p)
		if !ok {
			return "", nil, reject("%s is not a local actor", ref)
		}
		a, err := r.readLocal(ctx, kind, name)
		return "", a, err
	}
	return ref, nil, nil
}

func (r *Resolver) readLocal(ctx context.Context, kind domain.ActorKind, name string) (*domain.Actor, error) {
	var a *domain.Actor
	err := r.store.InTx(ctx, func(tx Tx) error {
		var err error
		a, err = tx.ReadLocalActor(kind, name)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, reject("unknown local %s %q", kind, name)
	}
	return a, err
}

// fetchAndStore fetches uri and creates or updates the actor record. known
// is the current record, if any.
func (r *Resolver) fetchAndStore(ctx context.Context, uri string, known *domain.Actor) (*domain.Actor, error) {
	doc, err := r.fetcher.FetchActor(ctx, uri)
	if errors.Is(err, errGone) {
		return nil, reject("actor %s is gone", uri)
	}
	if err != nil {
		return nil, &ActorResolutionError{Actor: uri, Err: err}
	}
	if strings.EqualFold(domain.DomainOf(doc.ID), r.localDomain) {
		return nil, reject("remote document claims local actor %s", doc.ID)
	}

	now := r.now()
	var stored *domain.Actor
	err = r.store.InTx(ctx, func(tx Tx) error {
		a := known
		if a == nil || a.ApId != doc.ID {
			existing, err := tx.ReadActorByURI(doc.ID)
			switch {
			case err == nil:
				a = existing
			case errors.Is(err, domain.ErrNotFound):
				a = nil
			default:
				return err
			}
		} else if current, err := tx.ReadActorById(a.Id); err == nil {
			// pick up follower deltas written since the record was read
			a = current
		}

		if a == nil {
			a = &domain.Actor{Id: uuid.New(), CreatedAt: now}
			r.apply(a, doc, now)
			if err := tx.CreateActor(a); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					// created concurrently by another worker
					existing, rerr := tx.ReadActorByURI(doc.ID)
					if rerr != nil {
						return rerr
					}
					stored = existing
					return nil
				}
				return err
			}
			stored = a
			return nil
		}

		r.apply(a, doc, now)
		if err := tx.UpdateActor(a); err != nil {
			return err
		}
		stored = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store actor %s: %w", doc.ID, err)
	}
	return stored, nil
}

// apply copies a fetched document onto an actor record.
func (r *Resolver) apply(a *domain.Actor, doc *ActorDocument, now time.Time) {
	a.Kind = doc.Kind()
	a.Name = doc.PreferredUsername
	if a.Name == "" {
		a.Name = path.Base(strings.TrimSuffix(doc.ID, "/"))
	}
	a.DisplayName = r.sanitizer.Text(doc.Name)
	a.About = r.sanitizer.HTML(doc.Summary)
	a.ApId = doc.ID
	a.ApDomain = domain.DomainOf(doc.ID)
	a.ApProfileId = doc.ID
	a.ApPublicUrl = linkHref(doc.URL)
	a.ApInboxUrl = doc.Inbox
	a.ApSharedInboxUrl = doc.Endpoints.SharedInbox
	a.ApFollowersUrl = doc.Followers
	a.ApModeratorsUrl = doc.ModeratorsURL()
	a.ApFeaturedUrl = doc.Featured
	a.ApFetchedAt = now

	if a.PublicKeyPem != "" && a.PublicKeyPem != doc.PublicKey.PublicKeyPem {
		a.OldPublicKeyPem = a.PublicKeyPem
		a.LastKeyRotationAt = now
	}
	a.PublicKeyPem = doc.PublicKey.PublicKeyPem

	if doc.FollowersTotal >= 0 {
		a.ApFollowersCount = doc.FollowersTotal
		a.FollowersDelta = 0
	}
	a.FollowersCount = a.ApFollowersCount + a.FollowersDelta
}
