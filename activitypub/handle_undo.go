package activitypub

import (
	"context"
	"errors"
	"log"

	"github.com/MbinOrg/mbin-sub001/domain"
)

// handleUndo reverses an earlier activity. The undone activity is taken from
// the audit log, then the embedded object, then its origin server.
func (i *Inbox) handleUndo(ctx context.Context, ac *activityContext) error {
	inner, err := i.undoTarget(ctx, ac)
	if err != nil {
		return err
	}
	if inner == nil {
		return i.commit(ctx, ac, func(tx Tx) (effect, error) {
			return noop, conflict("undone activity %s is unknown", ac.env.Object.ID)
		})
	}

	// moderators may lift each other's bans and locks
	if inner.Type != TypeBlock && inner.Type != TypeLock && inner.Actor != ac.actor.ApId {
		return reject("%s may not undo an activity of %s", ac.actor.Handle(), inner.Actor)
	}

	switch inner.Type {
	case TypeFollow:
		target, err := i.resolver.Resolve(ctx, inner.Object.ID)
		if err != nil {
			return err
		}
		return i.commit(ctx, ac, func(tx Tx) (effect, error) {
			if !target.IsLocal() {
				return noop, conflict("follow target %s is not local", inner.Object.ID)
			}
			target, err := tx.ReadActorById(target.Id)
			if err != nil {
				return noop, err
			}
			removed, err := unfollow(tx, ac.actor, target)
			if err != nil || !removed {
				return noop, err
			}
			log.Printf("Inbox: %s unfollowed %s", ac.actor.Handle(), target.Name)
			return applied(nil), nil
		})

	case TypeLike, TypeDislike:
		choice := domain.VoteUp
		if inner.Type == TypeDislike {
			choice = domain.VoteDown
		}
		return i.undoOnContent(ctx, ac, inner, func(tx Tx, c *domain.Content) (effect, error) {
			removed, err := unvote(tx, ac.actor, c, choice)
			if err != nil || !removed {
				return noop, err
			}
			magazine, err := magazineOf(tx, c)
			if err != nil {
				return noop, err
			}
			return applied(magazine), nil
		})

	case TypeBlock:
		user, err := i.resolver.Resolve(ctx, inner.Object.ID)
		if err != nil {
			return err
		}
		if inner.Target.ID == "" {
			return i.commit(ctx, ac, func(tx Tx) (effect, error) {
				return i.setInstanceBan(tx, ac, user, false)
			})
		}
		magazine, err := i.resolver.Resolve(ctx, inner.Target.ID)
		if err != nil {
			return err
		}
		return i.commit(ctx, ac, func(tx Tx) (effect, error) {
			return i.liftBan(tx, ac, magazine, user)
		})

	case TypeLock:
		return i.undoOnContent(ctx, ac, inner, func(tx Tx, c *domain.Content) (effect, error) {
			return i.setLocked(tx, ac, c.Id, false)
		})

	case TypeDelete:
		return i.undoOnContent(ctx, ac, inner, func(tx Tx, c *domain.Content) (effect, error) {
			return i.restore(tx, ac, c)
		})

	case TypeAnnounce:
		return i.commit(ctx, ac, func(tx Tx) (effect, error) {
			return noop, nil
		})

	default:
		return &UnsupportedActivityError{Type: "Undo(" + string(inner.Type) + ")"}
	}
}

// undoOnContent runs fn on the stored subject of the undone activity. An
// unknown subject makes the Undo a no-op.
func (i *Inbox) undoOnContent(ctx context.Context, ac *activityContext, inner *Envelope, fn func(tx Tx, c *domain.Content) (effect, error)) error {
	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		c, err := i.contentByURI(tx, inner.Object.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return noop, conflict("unknown subject %s", inner.Object.ID)
		}
		if err != nil {
			return noop, err
		}
		return fn(tx, c)
	})
}

// restore brings back trashed content.
func (i *Inbox) restore(tx Tx, ac *activityContext, c *domain.Content) (effect, error) {
	if c.Visibility != domain.VisibilityTrashed {
		return noop, nil
	}
	magazine, err := magazineOf(tx, c)
	if err != nil {
		return noop, err
	}
	ok, err := canModerateContent(tx, ac, c, magazine)
	if err != nil {
		return noop, err
	}
	if !ok {
		return noop, reject("%s may not restore %s", ac.actor.Handle(), c.ApId)
	}

	c.Visibility = domain.VisibilityVisible
	if err := tx.UpdateContent(c); err != nil {
		return noop, err
	}
	if err := recountThread(tx, c); err != nil {
		return noop, err
	}
	if magazine != nil && c.AuthorId != ac.actor.Id {
		if err := tx.CreateMagazineLog(domain.NewContentLog(domain.LogContentRestored, ac.actor.Id, c, i.now())); err != nil {
			return noop, err
		}
	}
	return applied(magazine), nil
}

// undoTarget finds the activity an Undo refers to, or nil when it cannot be
// found anywhere. The audit log holds what was applied, so it wins over an
// embedded copy.
func (i *Inbox) undoTarget(ctx context.Context, ac *activityContext) (*Envelope, error) {
	ref := ac.env.Object
	if ref.ID != "" {
		var stored *domain.Activity
		err := i.store.InTx(ctx, func(tx Tx) error {
			var err error
			stored, err = tx.ReadActivityByURI(ref.ID)
			return err
		})
		switch {
		case err == nil:
			return decodeInnerJSON(stored.RawJSON)
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}
	if ac.env.Inner != nil {
		return ac.env.Inner, nil
	}
	if ref.ID == "" {
		return nil, &DecodeError{Reason: "undo without object"}
	}

	raw, err := i.fetcher.FetchObject(ctx, ref.ID)
	if errors.Is(err, errGone) || errors.Is(err, errNotFound) {
		log.Printf("Inbox: Undone activity %s not found: %v", ref.ID, err)
		return nil, nil
	}
	if err != nil {
		return nil, &DependencyMissingError{URI: ref.ID, Err: err}
	}
	inner, err := decodeEnvelope(raw, 2)
	if err != nil {
		return nil, err
	}
	if !sameHost(inner.ID, ref.ID) {
		return nil, reject("fetched activity %s is not hosted on %s", inner.ID, domain.DomainOf(ref.ID))
	}
	return inner, nil
}
